package summariser

import (
	"context"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bdobrica/Kokoro/common/spec/journal"
	"github.com/bdobrica/Kokoro/internal/kokoro/provider"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAISummariser implements Summariser with an OpenAI-compatible chat
// completions endpoint, requesting a json_schema response format.
type OpenAISummariser struct {
	cfg    Config
	client *openai.Client
}

// NewOpenAI returns an OpenAISummariser. BaseURL may point at any
// OpenAI-compatible server, including a local one.
func NewOpenAI(cfg Config) *OpenAISummariser {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	cfg.applyDefaults()

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAISummariser{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oc),
	}
}

// Model returns the model requests are made with.
func (s *OpenAISummariser) Model() string { return s.cfg.Model }

// Summarise sends entry to the model and returns the validated analysis.
func (s *OpenAISummariser) Summarise(ctx context.Context, entry string) (*journal.Analysis, error) {
	if err := checkEntry(ProviderOpenAI, entry); err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: entry},
		},
		Temperature: wireTemperature(s.cfg.Temperature),
		MaxTokens:   s.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        toolName,
				Description: toolDescription,
				Schema:      journal.Schema(),
				Strict:      false,
			},
		},
	}

	var out *journal.Analysis
	err := provider.Call(ctx, s.cfg.Guard, ProviderOpenAI, opSummarise, func(ctx context.Context) error {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return provider.FromOpenAI(ProviderOpenAI, opSummarise, err)
		}
		s.cfg.Logger.Debug("summariser: response received",
			"provider", ProviderOpenAI,
			"model", s.cfg.Model,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
		if len(resp.Choices) == 0 {
			return provider.Errorf(ProviderOpenAI, opSummarise, provider.KindMalformed, "no choices returned")
		}
		msg := resp.Choices[0].Message
		if msg.Refusal != "" {
			return provider.Errorf(ProviderOpenAI, opSummarise, provider.KindMalformed, "model refused to answer")
		}
		a, err := decode(ProviderOpenAI, http.StatusOK, []byte(msg.Content))
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// wireTemperature maps a configured temperature to the request field.
// go-openai drops a zero float32 from the request, which would leave the
// provider default (1.0) in effect; the smallest positive float32 is sent
// instead and is 0 for every practical purpose.
func wireTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

var _ Summariser = (*OpenAISummariser)(nil)
