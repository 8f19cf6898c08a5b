package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Kokoro/common/crypto"
	"github.com/bdobrica/Kokoro/common/spec/journal"
	"github.com/bdobrica/Kokoro/internal/kokoro/app"
	"github.com/bdobrica/Kokoro/internal/kokoro/config"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

// fakeProviders serves both the Anthropic Messages API and the OpenAI
// embeddings API from one test server.
func fakeProviders(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/messages":
			_, _ = w.Write([]byte(`{
				"content": [{"type": "tool_use", "id": "toolu_1", "name": "record_journal_analysis",
					"input": {"emotions": ["stress", "guilt", "loneliness"],
					          "topics": ["academic_pressure", "family_expectations", "isolation"],
					          "summary": "A student feels overwhelmed and isolated."}}],
				"stop_reason": "tool_use"
			}`))
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			vec := make([]float32, dims)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": vec}},
				"model":  "text-embedding-3-small",
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func testConfig(providerURL string) *config.Config {
	cfg := config.Default()
	cfg.Summariser.BaseURL = providerURL
	cfg.Embedder.BaseURL = providerURL + "/v1"
	cfg.Resilience.MaxAttempts = 1
	cfg.AnthropicAPIKey = "test-anthropic"
	cfg.OpenAIAPIKey = "test-openai"
	return &cfg
}

func TestApp_EnrichEndToEnd(t *testing.T) {
	providers := fakeProviders(t, 1536)
	defer providers.Close()

	cfg := testConfig(providers.URL)
	cfg.Archive.Enabled = true
	cfg.Archive.Path = filepath.Join(t.TempDir(), "archive.db")

	a, err := app.New(cfg, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close()

	e, err := a.Enricher.Enrich(context.Background(), "I'm so stressed and lonely.")
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if e.Dimensions() != 1536 {
		t.Errorf("dimensions: got %d", e.Dimensions())
	}
	if e.SummariserModel != "claude-3-haiku-20240307" || e.EmbeddingModel != "text-embedding-3-small" {
		t.Errorf("models: %q / %q", e.SummariserModel, e.EmbeddingModel)
	}

	saved, err := a.Store.GetEnrichment(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetEnrichment: %v", err)
	}
	if saved.Analysis.Summary != e.Analysis.Summary {
		t.Errorf("archived summary: got %q", saved.Analysis.Summary)
	}
}

func TestApp_SealedArchive(t *testing.T) {
	providers := fakeProviders(t, 1536)
	defer providers.Close()

	path := filepath.Join(t.TempDir(), "sealed.db")
	cfg := testConfig(providers.URL)
	cfg.Archive.Enabled = true
	cfg.Archive.Path = path
	cfg.ArchiveKey = strings.Repeat("ab", crypto.KeySize)

	a, err := app.New(cfg, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	e, err := a.Enricher.Enrich(context.Background(), "I'm so stressed and lonely.")
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	saved, err := a.Store.GetEnrichment(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetEnrichment: %v", err)
	}
	if saved.Analysis.Summary != e.Analysis.Summary {
		t.Errorf("summary: got %q", saved.Analysis.Summary)
	}
	a.Close()

	plain, err := store.New(path, nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer plain.Close()
	if _, err := plain.GetEnrichment(context.Background(), e.ID); !errors.Is(err, crypto.ErrNoKey) {
		t.Errorf("expected ErrNoKey without the key, got %v", err)
	}
}

func TestApp_WrongDimensionsFails(t *testing.T) {
	providers := fakeProviders(t, 8)
	defer providers.Close()

	a, err := app.New(testConfig(providers.URL), nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close()

	if a.Store != nil {
		t.Error("archive should be disabled by default")
	}
	if _, err := a.Enricher.Enrich(context.Background(), "entry"); err == nil {
		t.Error("expected an error for an 8-dimension vector")
	}
}

func TestApp_ServerOverHTTP(t *testing.T) {
	providers := fakeProviders(t, 1536)
	defer providers.Close()

	cfg := testConfig(providers.URL)
	cfg.Pipeline.EmbedSource = journal.EmbedSummaryTopics
	a, err := app.New(cfg, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close()

	ts := httptest.NewServer(a.Server())
	defer ts.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(ts.URL+"/v1/enrich", "application/json", strings.NewReader(`{"entry":"hello"}`))
	if err != nil {
		t.Fatalf("POST /v1/enrich: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var e journal.Enrichment
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.EmbedSource != journal.EmbedSummaryTopics {
		t.Errorf("embed_source: got %q", e.EmbedSource)
	}
}

func TestApp_NewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Summariser.Provider = "cohere"
	if _, err := app.New(&cfg, nil); err == nil {
		t.Error("expected an error for an invalid config")
	}
	if _, err := app.New(nil, nil); err == nil {
		t.Error("expected an error for a nil config")
	}
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	a, err := app.New(&cfg, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
