package dialogue

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPersona is returned when the requested persona is neither built in
// nor defined in the persona file.
var ErrUnknownPersona = errors.New("unknown persona")

// Mode selects how captured speech is handled.
type Mode string

const (
	// ModeIntake walks the caller through the persona's fixed question list.
	ModeIntake Mode = "intake"

	// ModeConversation forwards every utterance to the reply generator.
	ModeConversation Mode = "conversation"
)

// Default spoken lines used when a persona does not override them.
const (
	defaultNoInputLine  = "I'm having trouble hearing you. Please try again or call back later."
	defaultRetryLine    = "I didn't catch that. Let me ask again."
	defaultClosingLine  = "Thank you for calling. Have a great day!"
	defaultFallbackLine = "Sorry, the service is temporarily unavailable. Please try again later."
	defaultReplyPrompt  = "You are a concise, friendly medical office intake assistant."
)

// Question is a single intake question. Prompt may reference earlier answers
// as {key} placeholders.
type Question struct {
	Key    string `yaml:"key" json:"key"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

// Persona bundles everything that differs between deployments of the
// assistant: what it says, which voice it says it in, and how it treats
// captured speech.
type Persona struct {
	Name    string `yaml:"name"`
	Mode    Mode   `yaml:"mode"`
	VoiceID string `yaml:"voice_id"`

	// Greeting opens a conversation-mode call. Intake calls open with the
	// first question instead.
	Greeting string `yaml:"greeting"`

	// ReplyPrompt describes the assistant to the language model.
	ReplyPrompt string `yaml:"reply_prompt"`

	NoInputLine  string `yaml:"no_input_line"`
	RetryLine    string `yaml:"retry_line"`
	ClosingLine  string `yaml:"closing_line"`
	FallbackLine string `yaml:"fallback_line"`

	Questions []Question `yaml:"questions"`
}

// personaFile is the on-disk layout of a persona file.
type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// BuiltinPersonas returns the personas that ship with the binary, keyed by name.
func BuiltinPersonas() map[string]*Persona {
	intake := &Persona{
		Name:    "intake",
		Mode:    ModeIntake,
		VoiceID: "WLjZnm4PkNmYtNCyiCq8",
		Questions: []Question{
			{Key: "name", Prompt: "Hi, thanks for calling. I'll take a few details before we get started. What's your first name?"},
			{Key: "date_of_birth", Prompt: "Thank you {name}! What's your date of birth?"},
			{Key: "phone", Prompt: "Great! What's your phone number?"},
			{Key: "email", Prompt: "And what's your email address?"},
			{Key: "reason", Prompt: "Finally, what's the reason for your call today?"},
		},
	}
	conversation := &Persona{
		Name:     "conversation",
		Mode:     ModeConversation,
		VoiceID:  "21m00Tcm4TlvDq8ikWAM",
		Greeting: "Hello, you've reached the front desk. How can I help you today?",
	}

	out := make(map[string]*Persona, 2)
	for _, p := range []*Persona{intake, conversation} {
		p.applyDefaults()
		out[p.Name] = p
	}
	return out
}

// LoadPersonas reads a YAML persona file. Every persona in the file is
// validated and has defaults applied.
func LoadPersonas(path string) (map[string]*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona file: %w", err)
	}

	var f personaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing persona file: %w", err)
	}

	out := make(map[string]*Persona, len(f.Personas))
	for i := range f.Personas {
		p := f.Personas[i]
		p.applyDefaults()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("persona %d (%q): %w", i, p.Name, err)
		}
		if _, dup := out[p.Name]; dup {
			return nil, fmt.Errorf("persona %q defined more than once", p.Name)
		}
		out[p.Name] = &p
	}
	return out, nil
}

// ResolvePersona picks the named persona. Personas from path (if non-empty)
// take precedence over built-ins with the same name.
func ResolvePersona(name, path string) (*Persona, error) {
	all := BuiltinPersonas()
	if path != "" {
		loaded, err := LoadPersonas(path)
		if err != nil {
			return nil, err
		}
		for k, v := range loaded {
			all[k] = v
		}
	}

	p, ok := all[name]
	if !ok {
		names := make([]string, 0, len(all))
		for k := range all {
			names = append(names, k)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownPersona, name, names)
	}
	return p, nil
}

// Validate checks that the persona is usable.
func (p *Persona) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	switch p.Mode {
	case ModeIntake:
		if len(p.Questions) == 0 {
			return errors.New("intake persona needs at least one question")
		}
		seen := make(map[string]bool, len(p.Questions))
		for i, q := range p.Questions {
			if q.Key == "" {
				return fmt.Errorf("question %d: key is required", i)
			}
			if q.Prompt == "" {
				return fmt.Errorf("question %q: prompt is required", q.Key)
			}
			if seen[q.Key] {
				return fmt.Errorf("question key %q is repeated", q.Key)
			}
			seen[q.Key] = true
		}
	case ModeConversation:
		if p.Greeting == "" {
			return errors.New("conversation persona needs a greeting")
		}
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeIntake, ModeConversation, p.Mode)
	}
	return nil
}

func (p *Persona) applyDefaults() {
	if p.Mode == "" {
		p.Mode = ModeIntake
	}
	if p.ReplyPrompt == "" {
		p.ReplyPrompt = defaultReplyPrompt
	}
	if p.NoInputLine == "" {
		p.NoInputLine = defaultNoInputLine
	}
	if p.RetryLine == "" {
		p.RetryLine = defaultRetryLine
	}
	if p.ClosingLine == "" {
		p.ClosingLine = defaultClosingLine
	}
	if p.FallbackLine == "" {
		p.FallbackLine = defaultFallbackLine
	}
}
