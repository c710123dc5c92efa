package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/flowpbx/callintake/internal/dialogue"
	"github.com/twilio/twilio-go/twiml"
)

// Gather timeouts in seconds. The second gather after a re-prompt is shorter.
const (
	gatherTimeout      = "15"
	retryGatherTimeout = "10"
)

// unknownCallSid is used when the provider omits CallSid.
const unknownCallSid = "unknown"

// handleVoiceIncoming answers a new call with the opening prompt and starts
// listening for speech.
func (s *Server) handleVoiceIncoming(w http.ResponseWriter, r *http.Request) {
	callSid := formCallSid(r)
	log := s.logger.With("call_sid", callSid, "persona", s.persona.Name)

	var opening string
	if s.persona.Mode == dialogue.ModeConversation {
		s.machine.GetOrCreate(callSid)
		opening = s.persona.Greeting
	} else {
		opening, _ = s.machine.NextStep(callSid)
	}
	log.Info("incoming call", "from", r.PostFormValue("From"))

	writeTwiML(w, []twiml.Element{
		s.speak(r.Context(), opening),
		s.gather(gatherTimeout),
		&twiml.VoiceSay{Message: s.persona.NoInputLine},
	})
}

// handleVoiceGather processes one captured utterance and responds with the
// next prompt.
func (s *Server) handleVoiceGather(w http.ResponseWriter, r *http.Request) {
	callSid := formCallSid(r)
	utterance := r.PostFormValue("SpeechResult")
	if utterance == "" {
		utterance = r.PostFormValue("TranscriptionText")
	}
	log := s.logger.With("call_sid", callSid, "persona", s.persona.Name)

	if s.persona.Mode == dialogue.ModeConversation {
		turns := s.machine.CountTurn(callSid)
		log.Info("speech captured",
			"turn", turns,
			"confidence", r.PostFormValue("Confidence"),
			"chars", len(utterance),
		)
		reply := s.replies.Reply(r.Context(), utterance, s.persona.ReplyPrompt)
		writeTwiML(w, []twiml.Element{
			s.speak(r.Context(), reply),
			s.gather(gatherTimeout),
			&twiml.VoiceSay{Message: s.persona.NoInputLine},
		})
		return
	}

	text, terminal := s.machine.Advance(callSid, utterance)
	log.Info("speech captured",
		"confidence", r.PostFormValue("Confidence"),
		"chars", len(utterance),
		"completed", terminal,
	)

	prompt := s.speak(r.Context(), text)
	verbs := []twiml.Element{prompt}
	if !terminal {
		// The re-prompt repeats the same audio, so it is synthesized once.
		verbs = append(verbs,
			s.gather(gatherTimeout),
			&twiml.VoiceSay{Message: s.persona.RetryLine},
			prompt,
			s.gather(retryGatherTimeout),
		)
	}
	verbs = append(verbs, &twiml.VoiceSay{Message: s.persona.ClosingLine})

	writeTwiML(w, verbs)
}

// handleVoiceFallback is invoked by the provider when the primary webhook
// fails. It is also used to answer requests that panic.
func (s *Server) handleVoiceFallback(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("voice fallback invoked",
		"path", r.URL.Path,
		"error_code", r.URL.Query().Get("ErrorCode"),
	)
	writeTwiML(w, []twiml.Element{
		&twiml.VoiceSay{Message: s.persona.FallbackLine},
	})
}

// speak plays synthesized audio for text, or has the provider read it out
// when synthesis is unavailable.
func (s *Server) speak(ctx context.Context, text string) twiml.Element {
	if name, ok := s.tts.Synthesize(ctx, text, s.persona.VoiceID); ok {
		return &twiml.VoicePlay{Url: s.cfg.BaseURL + "/media/" + url.PathEscape(name)}
	}
	return &twiml.VoiceSay{Message: text}
}

// gather listens for speech and posts the result back to handle_gather.
func (s *Server) gather(timeout string) *twiml.VoiceGather {
	return &twiml.VoiceGather{
		Input:         "speech",
		Action:        s.cfg.BaseURL + "/voice/handle_gather?secret=" + url.QueryEscape(s.cfg.WebhookSecret),
		Method:        http.MethodPost,
		Timeout:       timeout,
		SpeechTimeout: "auto",
		Enhanced:      "true",
	}
}

func formCallSid(r *http.Request) string {
	if sid := r.PostFormValue("CallSid"); sid != "" {
		return sid
	}
	return unknownCallSid
}
