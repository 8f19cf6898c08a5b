package summariser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bdobrica/Kokoro/common/redact"
	"github.com/bdobrica/Kokoro/common/spec/journal"
	"github.com/bdobrica/Kokoro/internal/kokoro/provider"
)

const (
	defaultAnthropicBase  = "https://api.anthropic.com"
	defaultAnthropicModel = "claude-3-haiku-20240307"
	anthropicVersion      = "2023-06-01"
)

// AnthropicSummariser implements Summariser with the Anthropic Messages API.
// The analysis schema is offered as the only tool and the model is forced to
// call it; the tool input is the structured output.
type AnthropicSummariser struct {
	cfg    Config
	client *http.Client
}

// NewAnthropic returns an AnthropicSummariser. The returned summariser is
// safe for concurrent use.
func NewAnthropic(cfg Config) *AnthropicSummariser {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	cfg.applyDefaults()
	return &AnthropicSummariser{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal Messages API wire types ---

type antMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type antTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type antToolChoice struct {
	Type string `json:"type"` // "tool"
	Name string `json:"name"`
}

type antRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system"`
	Messages    []antMessage  `json:"messages"`
	Tools       []antTool     `json:"tools"`
	ToolChoice  antToolChoice `json:"tool_choice"`
}

type antContentBlock struct {
	Type  string          `json:"type"` // "text" | "tool_use"
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type antResponse struct {
	Content    []antContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type antErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Model returns the model requests are made with.
func (s *AnthropicSummariser) Model() string { return s.cfg.Model }

// Summarise sends entry to the model and returns the validated analysis.
func (s *AnthropicSummariser) Summarise(ctx context.Context, entry string) (*journal.Analysis, error) {
	if err := checkEntry(ProviderAnthropic, entry); err != nil {
		return nil, err
	}

	body := antRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		System:      SystemPrompt,
		Messages:    []antMessage{{Role: "user", Content: entry}},
		Tools: []antTool{{
			Name:        toolName,
			Description: toolDescription,
			InputSchema: journal.Schema(),
		}},
		ToolChoice: antToolChoice{Type: "tool", Name: toolName},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("summariser anthropic: marshal request: %w", err)
	}

	var out *journal.Analysis
	err = provider.Call(ctx, s.cfg.Guard, ProviderAnthropic, opSummarise, func(ctx context.Context) error {
		a, err := s.post(ctx, data)
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

// post performs one Messages API request.
func (s *AnthropicSummariser) post(ctx context.Context, data []byte) (*journal.Analysis, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/v1/messages",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, &provider.Error{Provider: ProviderAnthropic, Op: opSummarise, Kind: provider.KindBadRequest, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", s.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("summariser anthropic: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("summariser anthropic: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := http.StatusText(resp.StatusCode)
		var apiErr antErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Type + ": " + apiErr.Error.Message
		}
		return nil, &provider.Error{
			Provider:   ProviderAnthropic,
			Op:         opSummarise,
			Kind:       provider.FromStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    redact.String(redact.Keys(msg), s.cfg.APIKey),
		}
	}

	var antResp antResponse
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		return nil, &provider.Error{
			Provider:   ProviderAnthropic,
			Op:         opSummarise,
			Kind:       provider.KindMalformed,
			StatusCode: resp.StatusCode,
			Message:    "decode response",
			Err:        err,
		}
	}

	s.cfg.Logger.Debug("summariser: response received",
		"provider", ProviderAnthropic,
		"model", s.cfg.Model,
		"stop_reason", antResp.StopReason,
		"input_tokens", antResp.Usage.InputTokens,
		"output_tokens", antResp.Usage.OutputTokens,
	)

	for _, block := range antResp.Content {
		if block.Type == "tool_use" && block.Name == toolName {
			return decode(ProviderAnthropic, resp.StatusCode, block.Input)
		}
	}
	return nil, &provider.Error{
		Provider:   ProviderAnthropic,
		Op:         opSummarise,
		Kind:       provider.KindMalformed,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("no %s tool call in response (stop_reason %q)", toolName, antResp.StopReason),
	}
}

var _ Summariser = (*AnthropicSummariser)(nil)
