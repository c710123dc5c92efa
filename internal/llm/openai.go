// Package llm produces short conversational replies to caller speech using
// an OpenAI-compatible chat completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	// PlaceholderAPIKey is the value shipped in sample env files.
	PlaceholderAPIKey = "your_openai_api_key_here"
)

// Canned replies used when the model cannot be consulted.
const (
	UnconfiguredReply = "Thanks. I heard you. How else can I help?"
	FailureReply      = "Understood."
)

const (
	systemMessage   = "You are helpful."
	temperature     = 0.4
	maxTokens       = 80
	requestTimeout  = 20 * time.Second
	maxResponseSize = 64 << 10
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Stats is a point-in-time snapshot of reply outcomes.
type Stats struct {
	Succeeded uint64
	Failed    uint64
	Skipped   uint64
}

// Generator asks the model for a one- or two-sentence reply. It never
// returns an error: every failure degrades to a canned reply.
type Generator struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *slog.Logger

	missingKey rate.Sometimes

	succeeded atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

// NewGenerator creates a reply generator. Empty baseURL and model select the
// defaults.
func NewGenerator(apiKey, baseURL, model string, logger *slog.Logger) *Generator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Generator{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		logger:     logger.With("subsystem", "llm"),
		missingKey: rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// Configured reports whether a usable API key is present.
func (g *Generator) Configured() bool {
	return g.apiKey != "" && g.apiKey != PlaceholderAPIKey
}

// Reply returns the assistant's answer to what the caller said. instruction
// describes the assistant, e.g. "You are a concise, friendly medical office
// intake assistant."
func (g *Generator) Reply(ctx context.Context, utterance, instruction string) string {
	if !g.Configured() {
		g.skipped.Add(1)
		g.missingKey.Do(func() {
			g.logger.Warn("openai api key not configured, using canned replies")
		})
		return UnconfiguredReply
	}

	content, err := g.complete(ctx, buildPrompt(utterance, instruction))
	if err != nil {
		g.failed.Add(1)
		g.logger.Warn("reply generation failed", "error", err)
		return FailureReply
	}

	g.succeeded.Add(1)
	if content == "" {
		return FailureReply
	}
	return content
}

func buildPrompt(utterance, instruction string) string {
	return strings.TrimSpace(instruction) + " A caller said: '" + utterance + "'. Respond in one or two short sentences."
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("llm: reading response: %w", err)
	}

	var out chatResponse
	decodeErr := json.Unmarshal(respBody, &out)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("llm: api error (status %d): %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("llm: api returned status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("llm: decoding response: %w", decodeErr)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llm: response has no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Stats returns reply counters since startup.
func (g *Generator) Stats() Stats {
	return Stats{
		Succeeded: g.succeeded.Load(),
		Failed:    g.failed.Load(),
		Skipped:   g.skipped.Load(),
	}
}

// Outcomes returns the success, failure and skip counters.
func (g *Generator) Outcomes() (succeeded, failed, skipped uint64) {
	st := g.Stats()
	return st.Succeeded, st.Failed, st.Skipped
}
