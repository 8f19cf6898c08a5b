// Package summariser turns a journal entry into a journal.Analysis by asking
// a hosted language model for structured output.
//
// Two backends exist: the Anthropic Messages API (the default, called over
// plain HTTP) and any OpenAI-compatible chat completions endpoint (through
// go-openai). Both send the same system prompt and the same JSON Schema, and
// both run the reply through journal.DecodeAnalysis. There is no fallback
// parser: output that does not fit the schema is a KindMalformed error.
package summariser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/Kokoro/common/spec/journal"
	"github.com/bdobrica/Kokoro/internal/kokoro/provider"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

const (
	opSummarise = "summarise"

	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 1024

	// maxResponseBytes bounds how much of a provider reply is read.
	maxResponseBytes = 1 << 20
)

// SystemPrompt is sent unchanged with every request.
const SystemPrompt = `You are a privacy-focused journaling assistant. Your job is to analyze
a user's journal entry and extract its core emotional and topical context
so they can be matched with others facing similar issues.

Analyze the user's entry and provide the structured output.`

// Names used to label the schema in provider requests.
const (
	toolName        = "record_journal_analysis"
	toolDescription = "Record the structured analysis of a user's journal entry."
)

// Summariser produces a structured analysis of one journal entry.
//
// Implementations are safe for concurrent use. Every failure is an
// *provider.Error; an empty entry fails with KindInvalidInput before any
// network call.
type Summariser interface {
	Summarise(ctx context.Context, entry string) (*journal.Analysis, error)

	// Model is the model identifier requests are made with.
	Model() string
}

// Config configures either backend. Zero fields take the backend's defaults.
type Config struct {
	// APIKey authenticates against the provider. An empty key is sent as
	// is; the provider answers 401 and the call fails with KindAuth.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// Model overrides the backend's default model.
	Model string

	// Temperature is sent on every request. The zero value is a real 0.
	Temperature float64

	// MaxTokens caps the reply length. Defaults to 1024.
	MaxTokens int

	// Timeout is the per-attempt HTTP timeout. Defaults to 60 s.
	Timeout time.Duration

	// Guard applies rate limiting, circuit breaking and retries. Nil makes
	// every call a single unguarded attempt.
	Guard *provider.Guard

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New returns the backend named by providerName ("anthropic" or "openai").
func New(providerName string, cfg Config) (Summariser, error) {
	switch providerName {
	case "", ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("summariser: unknown provider %q", providerName)
	}
}

// checkEntry rejects entries that carry no text.
func checkEntry(providerName, entry string) error {
	if strings.TrimSpace(entry) == "" {
		return provider.Errorf(providerName, opSummarise, provider.KindInvalidInput, "entry is empty")
	}
	return nil
}

// decode validates raw structured output against the analysis schema.
func decode(providerName string, status int, raw []byte) (*journal.Analysis, error) {
	a, err := journal.DecodeAnalysis(raw)
	if err != nil {
		return nil, &provider.Error{
			Provider:   providerName,
			Op:         opSummarise,
			Kind:       provider.KindMalformed,
			StatusCode: status,
			Message:    "structured output does not match the analysis schema",
			Err:        err,
		}
	}
	return a, nil
}
