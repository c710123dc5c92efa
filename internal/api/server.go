package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/flowpbx/callintake/internal/api/middleware"
	"github.com/flowpbx/callintake/internal/config"
	"github.com/flowpbx/callintake/internal/dialogue"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/twilio/twilio-go/client"
)

// Synthesizer renders prompt text to a media file. ok is false when no
// audio could be produced and the text should be spoken by the provider.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (filename string, ok bool)
}

// ReplyGenerator produces a conversational reply to caller speech.
type ReplyGenerator interface {
	Reply(ctx context.Context, utterance, instruction string) string
}

// MediaResolver maps a media file name to a path on disk.
type MediaResolver interface {
	Path(name string) (string, error)
}

// Deps are the collaborators the HTTP handlers need.
type Deps struct {
	Config  *config.Config
	Logger  *slog.Logger
	Persona *dialogue.Persona
	Machine *dialogue.Machine
	TTS     Synthesizer
	Replies ReplyGenerator
	Media   MediaResolver

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	cfg     *config.Config
	logger  *slog.Logger
	persona *dialogue.Persona
	machine *dialogue.Machine
	tts     Synthesizer
	replies ReplyGenerator
	media   MediaResolver
	metrics http.Handler

	signatures middleware.SignatureValidator
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(d Deps) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		cfg:     d.Config,
		logger:  d.Logger,
		persona: d.Persona,
		machine: d.Machine,
		tts:     d.TTS,
		replies: d.Replies,
		media:   d.Media,
		metrics: d.Metrics,
	}

	if s.cfg.ValidateSignature {
		v := client.NewRequestValidator(s.cfg.TwilioAuthToken)
		s.signatures = &v
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger, "/healthz", "/metrics"))
	r.Use(middleware.Recoverer(nil))
	r.Use(middleware.SecurityHeaders(strings.HasPrefix(s.cfg.BaseURL, "https://")))

	// Operational endpoints, unauthenticated.
	r.Get("/healthz", s.handleHealth)
	r.Get("/conversation-data", s.handleListConversations)
	r.Get("/conversation-data/{callSid}", s.handleGetConversation)
	r.Get("/media/{filename}", s.handleMedia)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// Provider webhooks. The secret check comes first so a rejected request
	// never has its body read.
	r.Route("/voice", func(r chi.Router) {
		r.Use(middleware.RequireWebhookSecret(s.cfg.WebhookSecret))
		if s.signatures != nil {
			r.Use(middleware.ValidateTwilioSignature(s.signatures, s.cfg.BaseURL))
		}
		r.Use(middleware.Recoverer(http.HandlerFunc(s.handleVoiceFallback)))

		r.Post("/incoming", s.handleVoiceIncoming)
		r.Post("/handle_gather", s.handleVoiceGather)
		r.Post("/fallback", s.handleVoiceFallback)
	})
}

// handleHealth returns a static liveness payload.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
