// Package embedder turns text into a journal.Vector using a hosted
// embeddings endpoint.
package embedder

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bdobrica/Kokoro/common/spec/journal"
	"github.com/bdobrica/Kokoro/internal/kokoro/provider"
)

const (
	providerOpenAI = "openai"
	opEmbed        = "embed"

	// DefaultModel and DefaultDimensions describe text-embedding-3-small.
	DefaultModel      = "text-embedding-3-small"
	DefaultDimensions = 1536

	defaultTimeout = 30 * time.Second
)

// Embedder produces an embedding for a piece of text.
//
// Implementations are safe for concurrent use. Every failure is an
// *provider.Error; empty text fails with KindInvalidInput and sends no
// request.
type Embedder interface {
	Embed(ctx context.Context, text string) (journal.Vector, error)

	// Model is the embedding model identifier.
	Model() string
}

// Config configures the OpenAI embedder.
type Config struct {
	APIKey string

	// BaseURL overrides the API endpoint. Any OpenAI-compatible server works.
	BaseURL string

	// Model defaults to text-embedding-3-small.
	Model string

	// Dimensions is the vector length the model is expected to return.
	// Zero disables the check. The default is 1536 when Model is also left
	// empty, since that is the only case where the length is known.
	Dimensions int

	// Timeout is the per-attempt HTTP timeout. Defaults to 30 s.
	Timeout time.Duration

	// Guard applies rate limiting, circuit breaking and retries. Nil makes
	// every call a single unguarded attempt.
	Guard *provider.Guard

	Logger *slog.Logger
}

// OpenAIEmbedder implements Embedder with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	cfg    Config
	client *openai.Client
}

// NewOpenAI returns an OpenAIEmbedder. The returned embedder is safe for
// concurrent use.
func NewOpenAI(cfg Config) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
		if cfg.Dimensions == 0 {
			cfg.Dimensions = DefaultDimensions
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIEmbedder{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oc),
	}
}

// Model returns the embedding model.
func (e *OpenAIEmbedder) Model() string { return e.cfg.Model }

// Dimensions returns the expected vector length, or 0 when unchecked.
func (e *OpenAIEmbedder) Dimensions() int { return e.cfg.Dimensions }

// Embed returns the embedding of text. Exactly one request is made per
// attempt, with a single input.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (journal.Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, provider.Errorf(providerOpenAI, opEmbed, provider.KindInvalidInput, "text is empty")
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.cfg.Model),
	}

	var out journal.Vector
	err := provider.Call(ctx, e.cfg.Guard, providerOpenAI, opEmbed, func(ctx context.Context) error {
		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return provider.FromOpenAI(providerOpenAI, opEmbed, err)
		}
		if len(resp.Data) == 0 {
			return provider.Errorf(providerOpenAI, opEmbed, provider.KindMalformed, "no embedding data returned")
		}
		vec := resp.Data[0].Embedding
		if len(vec) == 0 {
			return provider.Errorf(providerOpenAI, opEmbed, provider.KindMalformed, "empty embedding returned")
		}
		if e.cfg.Dimensions > 0 && len(vec) != e.cfg.Dimensions {
			return provider.Errorf(providerOpenAI, opEmbed, provider.KindMalformed,
				"embedding has %d dimensions, want %d", len(vec), e.cfg.Dimensions)
		}
		e.cfg.Logger.Debug("embedder: vector received",
			"model", e.cfg.Model,
			"dimensions", len(vec),
			"prompt_tokens", resp.Usage.PromptTokens,
		)
		out = journal.Vector(vec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
