package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowpbx/callintake/internal/api"
	"github.com/flowpbx/callintake/internal/config"
	"github.com/flowpbx/callintake/internal/dialogue"
	"github.com/flowpbx/callintake/internal/llm"
	"github.com/flowpbx/callintake/internal/media"
	"github.com/flowpbx/callintake/internal/metrics"
	"github.com/flowpbx/callintake/internal/tts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	persona, err := dialogue.ResolvePersona(cfg.Persona, cfg.PersonaFile)
	if err != nil {
		slog.Error("failed to load persona", "error", err)
		os.Exit(1)
	}

	slog.Info("starting callintake",
		"http_port", cfg.HTTPPort,
		"base_url", cfg.BaseURL,
		"persona", persona.Name,
		"mode", persona.Mode,
		"questions", len(persona.Questions),
		"media_dir", cfg.MediaDir,
		"validate_signature", cfg.ValidateSignature,
	)
	slog.Info("max turns configured but not enforced", "max_turns", cfg.MaxTurns)
	if cfg.WebhookSecret == "dev" {
		slog.Warn("webhook secret is the development default, set TWILIO_VOICE_WEBHOOK_SECRET")
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Call sessions, evicted after the idle TTL.
	sessions := dialogue.NewStore(cfg.SessionTTL)
	if cfg.SessionTTL > 0 {
		dialogue.StartCleanupTicker(appCtx, sessions, time.Minute)
	}
	machine := dialogue.NewMachine(sessions, persona.Questions)

	// Synthesized audio.
	mediaStore, err := media.NewStore(cfg.MediaDir)
	if err != nil {
		slog.Error("failed to open media directory", "error", err)
		os.Exit(1)
	}
	media.StartCleanupTicker(appCtx, mediaStore, time.Hour, cfg.MediaMaxAge)

	synth := tts.NewSynthesizer(cfg.ElevenLabsAPIKey, cfg.ElevenLabsURL, mediaStore, logger)
	if !synth.Configured() {
		slog.Warn("elevenlabs not configured, prompts will be spoken by the telephony provider")
	}
	replies := llm.NewGenerator(cfg.OpenAIAPIKey, cfg.OpenAIURL, cfg.OpenAIModel, logger)
	if persona.Mode == dialogue.ModeConversation && !replies.Configured() {
		slog.Warn("openai not configured, conversation replies will be canned")
	}

	// Prometheus registry with process metrics and the scrape-time collector.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(sessions, mediaStore, synth, replies, startTime),
	)

	handler := api.NewServer(api.Deps{
		Config:  cfg,
		Logger:  logger,
		Persona: persona,
		Machine: machine,
		TTS:     synth,
		Replies: replies,
		Media:   mediaStore,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError)}),
	})

	// Synthesis can take up to 30s, so the write timeout leaves headroom.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	active, completed := sessions.Stats()
	slog.Info("callintake stopped", "sessions", active, "completed", completed)
}
