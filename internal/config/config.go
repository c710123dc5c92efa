package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the call intake server.
// Precedence: CLI flags > env vars (including the .env file) > defaults.
type Config struct {
	EnvFile   string
	HTTPPort  int
	LogLevel  string
	LogFormat string // log output format: "text" or "json"
	BaseURL   string // public URL Twilio uses to reach this server

	WebhookSecret     string // shared secret carried in the ?secret= query parameter
	TwilioAccountSID  string
	TwilioAuthToken   string
	ValidateSignature bool // also verify X-Twilio-Signature with the auth token

	ElevenLabsAPIKey string
	ElevenLabsURL    string
	OpenAIAPIKey     string
	OpenAIURL        string
	OpenAIModel      string

	MediaDir    string
	MediaMaxAge time.Duration // 0 keeps synthesized audio forever
	SessionTTL  time.Duration // 0 keeps call sessions forever

	Persona     string // persona name to run
	PersonaFile string // optional YAML file with extra personas

	MaxTurns int // reserved; loaded but not enforced
}

// defaults
const (
	defaultEnvFile       = ".env"
	defaultHTTPPort      = 8000
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultBaseURL       = "http://localhost:8000"
	defaultWebhookSecret = "dev"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultMediaDir      = "./media"
	defaultMediaMaxAge   = 24 * time.Hour
	defaultSessionTTL    = 2 * time.Hour
	defaultPersona       = "intake"
	defaultMaxTurns      = 3
)

// envPrefix is the prefix for server-specific environment variables.
// Provider credentials use the names their SDKs conventionally read.
const envPrefix = "CALLINTAKE_"

// Load parses configuration from CLI flags, the .env file and environment
// variables. Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callintake", flag.ContinueOnError)

	fs.StringVar(&cfg.EnvFile, "env-file", defaultEnvFile, "dotenv file loaded into the environment at startup (missing file is ignored)")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.BaseURL, "base-url", defaultBaseURL, "public base URL used in webhook callbacks and media links")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", defaultWebhookSecret, "shared secret required on every /voice webhook")
	fs.StringVar(&cfg.TwilioAccountSID, "twilio-account-sid", "", "Twilio account SID (informational)")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "Twilio auth token used for request signature validation")
	fs.BoolVar(&cfg.ValidateSignature, "validate-signature", false, "reject webhooks without a valid X-Twilio-Signature")
	fs.StringVar(&cfg.ElevenLabsAPIKey, "elevenlabs-api-key", "", "ElevenLabs API key (prompts fall back to spoken text if empty)")
	fs.StringVar(&cfg.ElevenLabsURL, "elevenlabs-url", "", "override the ElevenLabs API base URL")
	fs.StringVar(&cfg.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key (conversation persona only)")
	fs.StringVar(&cfg.OpenAIURL, "openai-url", "", "override the OpenAI API base URL")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", defaultOpenAIModel, "chat model used for conversational replies")
	fs.StringVar(&cfg.MediaDir, "media-dir", defaultMediaDir, "directory for synthesized audio")
	fs.DurationVar(&cfg.MediaMaxAge, "media-max-age", defaultMediaMaxAge, "delete synthesized audio older than this (0 disables)")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", defaultSessionTTL, "evict call sessions idle for longer than this (0 disables)")
	fs.StringVar(&cfg.Persona, "persona", defaultPersona, "persona to run (intake, conversation, or one from persona-file)")
	fs.StringVar(&cfg.PersonaFile, "persona-file", "", "YAML file with additional personas")
	fs.IntVar(&cfg.MaxTurns, "max-turns", defaultMaxTurns, "maximum caller turns per call (reserved)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if err := loadEnvFile(cfg.EnvFile); err != nil {
		return nil, err
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// loadEnvFile merges a dotenv file into the process environment. Variables
// already set in the environment win over the file.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"http-port":          envPrefix + "HTTP_PORT",
		"log-level":          envPrefix + "LOG_LEVEL",
		"log-format":         envPrefix + "LOG_FORMAT",
		"base-url":           "BASE_URL",
		"webhook-secret":     "TWILIO_VOICE_WEBHOOK_SECRET",
		"twilio-account-sid": "TWILIO_ACCOUNT_SID",
		"twilio-auth-token":  "TWILIO_AUTH_TOKEN",
		"validate-signature": envPrefix + "VALIDATE_SIGNATURE",
		"elevenlabs-api-key": "ELEVENLABS_API_KEY",
		"elevenlabs-url":     envPrefix + "ELEVENLABS_URL",
		"openai-api-key":     "OPENAI_API_KEY",
		"openai-url":         envPrefix + "OPENAI_URL",
		"openai-model":       envPrefix + "OPENAI_MODEL",
		"media-dir":          envPrefix + "MEDIA_DIR",
		"media-max-age":      envPrefix + "MEDIA_MAX_AGE",
		"session-ttl":        envPrefix + "SESSION_TTL",
		"persona":            envPrefix + "PERSONA",
		"persona-file":       envPrefix + "PERSONA_FILE",
		"max-turns":          "MAX_TURNS",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "base-url":
			cfg.BaseURL = val
		case "webhook-secret":
			cfg.WebhookSecret = val
		case "twilio-account-sid":
			cfg.TwilioAccountSID = val
		case "twilio-auth-token":
			cfg.TwilioAuthToken = val
		case "validate-signature":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.ValidateSignature = v
			}
		case "elevenlabs-api-key":
			cfg.ElevenLabsAPIKey = val
		case "elevenlabs-url":
			cfg.ElevenLabsURL = val
		case "openai-api-key":
			cfg.OpenAIAPIKey = val
		case "openai-url":
			cfg.OpenAIURL = val
		case "openai-model":
			cfg.OpenAIModel = val
		case "media-dir":
			cfg.MediaDir = val
		case "media-max-age":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.MediaMaxAge = v
			}
		case "session-ttl":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.SessionTTL = v
			}
		case "persona":
			cfg.Persona = val
		case "persona-file":
			cfg.PersonaFile = val
		case "max-turns":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxTurns = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base-url must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.WebhookSecret == "" {
		return fmt.Errorf("webhook-secret must not be empty")
	}
	if c.ValidateSignature && c.TwilioAuthToken == "" {
		return fmt.Errorf("validate-signature requires twilio-auth-token")
	}
	if c.MediaDir == "" {
		return fmt.Errorf("media-dir must not be empty")
	}
	if c.MediaMaxAge < 0 {
		return fmt.Errorf("media-max-age must not be negative, got %s", c.MediaMaxAge)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session-ttl must not be negative, got %s", c.SessionTTL)
	}
	if c.Persona == "" {
		return fmt.Errorf("persona must not be empty")
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("max-turns must be at least 1, got %d", c.MaxTurns)
	}

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
