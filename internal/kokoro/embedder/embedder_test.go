package embedder_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bdobrica/Kokoro/internal/kokoro/embedder"
	"github.com/bdobrica/Kokoro/internal/kokoro/provider"
)

// embeddingResponse builds an OpenAI embeddings reply with one vector of
// length dims.
func embeddingResponse(dims int) []byte {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(i%7) * 0.01
	}
	body, _ := json.Marshal(map[string]any{
		"object": "list",
		"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": vec}},
		"model":  "text-embedding-3-small",
		"usage":  map[string]int{"prompt_tokens": 12, "total_tokens": 12},
	})
	return body
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization: got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(embeddingResponse(embedder.DefaultDimensions))
	}))
	defer srv.Close()

	e := embedder.NewOpenAI(embedder.Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	vec, err := e.Embed(context.Background(), "A student feels overwhelmed by exams.")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != embedder.DefaultDimensions {
		t.Errorf("len(vec) = %d, want %d", len(vec), embedder.DefaultDimensions)
	}
	if captured["model"] != embedder.DefaultModel {
		t.Errorf("model: got %v", captured["model"])
	}
	input, _ := captured["input"].([]any)
	if len(input) != 1 || input[0] != "A student feels overwhelmed by exams." {
		t.Errorf("input: got %v", captured["input"])
	}
	if e.Dimensions() != embedder.DefaultDimensions || e.Model() != embedder.DefaultModel {
		t.Errorf("defaults: model %q dims %d", e.Model(), e.Dimensions())
	}
}

func TestOpenAIEmbedder_EmptyInputMakesNoRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write(embeddingResponse(4))
	}))
	defer srv.Close()

	e := embedder.NewOpenAI(embedder.Config{BaseURL: srv.URL})
	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := e.Embed(context.Background(), in)
		if !errors.Is(err, provider.ErrInvalidInput) {
			t.Errorf("Embed(%q) err = %v, want invalid_input", in, err)
		}
	}
	if calls != 0 {
		t.Errorf("server called %d times, want 0", calls)
	}
}

func TestOpenAIEmbedder_WrongDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(embeddingResponse(768))
	}))
	defer srv.Close()

	e := embedder.NewOpenAI(embedder.Config{BaseURL: srv.URL})
	vec, err := e.Embed(context.Background(), "hello")
	if !errors.Is(err, provider.ErrMalformed) {
		t.Fatalf("err = %v, want malformed", err)
	}
	if vec != nil {
		t.Errorf("a wrong-length vector must not be returned, got %d values", len(vec))
	}
}

func TestOpenAIEmbedder_CustomModelSkipsDimensionCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(embeddingResponse(768))
	}))
	defer srv.Close()

	e := embedder.NewOpenAI(embedder.Config{BaseURL: srv.URL, Model: "nomic-embed-text"})
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 768 {
		t.Errorf("len(vec) = %d, want 768", len(vec))
	}
}

func TestOpenAIEmbedder_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", 401, `{"error":{"message":"Incorrect API key provided: sk-abcdefghijkl","type":"invalid_request_error"}}`, provider.ErrAuth},
		{"rate limited", 429, `{"error":{"message":"Rate limit reached","type":"requests"}}`, provider.ErrRateLimit},
		{"server", 502, `{"error":{"message":"bad gateway","type":"server_error"}}`, provider.ErrServer},
		{"no data", 200, `{"object":"list","data":[],"model":"text-embedding-3-small"}`, provider.ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			e := embedder.NewOpenAI(embedder.Config{APIKey: "k", BaseURL: srv.URL})
			_, err := e.Embed(context.Background(), "hello")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want kind %s", err, provider.KindOf(tc.want))
			}
			if strings.Contains(err.Error(), "sk-abcdefghijkl") {
				t.Errorf("error leaks key: %v", err)
			}
		})
	}
}

func TestOpenAIEmbedder_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	e := embedder.NewOpenAI(embedder.Config{BaseURL: url})
	_, err := e.Embed(context.Background(), "hello")
	if !errors.Is(err, provider.ErrNetwork) {
		t.Errorf("err = %v, want network", err)
	}
}
