// Package tts turns prompt text into playable audio using the ElevenLabs
// text-to-speech API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public ElevenLabs API endpoint.
const DefaultBaseURL = "https://api.elevenlabs.io"

// PlaceholderAPIKey is the value shipped in sample env files. It is treated
// the same as no key at all.
const PlaceholderAPIKey = "your_elevenlabs_api_key_here"

const (
	modelID         = "eleven_multilingual_v2"
	requestTimeout  = 30 * time.Second
	maxAudioBytes   = 10 << 20
	maxErrorBodyLen = 512
)

// MediaWriter persists synthesized audio and returns the stored file name.
type MediaWriter interface {
	Save(data []byte, ext string) (string, error)
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Stats is a point-in-time snapshot of synthesis outcomes.
type Stats struct {
	Succeeded uint64
	Failed    uint64
	Skipped   uint64
}

// Synthesizer converts text to MP3 files in the media store. Every failure
// is reported as "no audio" so the caller can fall back to a spoken-text
// instruction; nothing here ever fails a call.
type Synthesizer struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	media      MediaWriter
	logger     *slog.Logger

	missingKey rate.Sometimes

	succeeded atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

// NewSynthesizer creates a synthesizer. An empty baseURL selects the public
// API endpoint.
func NewSynthesizer(apiKey, baseURL string, media MediaWriter, logger *slog.Logger) *Synthesizer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Synthesizer{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		media:      media,
		logger:     logger.With("subsystem", "tts"),
		missingKey: rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// Configured reports whether a usable API key is present.
func (s *Synthesizer) Configured() bool {
	return s.apiKey != "" && s.apiKey != PlaceholderAPIKey
}

// Synthesize renders text with the given voice and stores the result. It
// returns the media file name, or ok=false when no audio was produced.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string) (filename string, ok bool) {
	if text == "" {
		return "", false
	}
	if !s.Configured() {
		s.skipped.Add(1)
		s.missingKey.Do(func() {
			s.logger.Warn("elevenlabs api key not configured, prompts will use spoken text")
		})
		return "", false
	}

	audio, err := s.fetch(ctx, text, voiceID)
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("speech synthesis failed", "voice_id", voiceID, "error", err)
		return "", false
	}

	name, err := s.media.Save(audio, ".mp3")
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("storing synthesized audio", "error", err)
		return "", false
	}

	s.succeeded.Add(1)
	s.logger.Debug("speech synthesized", "voice_id", voiceID, "file", name, "bytes", len(audio))
	return name, true
}

func (s *Synthesizer) fetch(ctx context.Context, text, voiceID string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Text:    text,
		ModelID: modelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.7,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tts: marshalling request: %w", err)
	}

	endpoint := s.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: creating request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, fmt.Errorf("tts: api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("tts: reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: api returned empty audio")
	}
	return audio, nil
}

// Stats returns synthesis counters since startup.
func (s *Synthesizer) Stats() Stats {
	return Stats{
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Skipped:   s.skipped.Load(),
	}
}

// Outcomes returns the success, failure and skip counters.
func (s *Synthesizer) Outcomes() (succeeded, failed, skipped uint64) {
	st := s.Stats()
	return st.Succeeded, st.Failed, st.Skipped
}
