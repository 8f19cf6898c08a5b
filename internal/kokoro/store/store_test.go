package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/Kokoro/common/spec/journal"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "kokoro-test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEnrichment(id string, at time.Time) *journal.Enrichment {
	return &journal.Enrichment{
		ID:      id,
		TraceID: "t_" + id,
		Analysis: journal.Analysis{
			Emotions: []string{"stress", "loneliness", "guilt"},
			Topics:   []string{"academic_pressure", "family_expectations", "isolation"},
			Summary:  "A student feels overwhelmed by grades and family expectations.",
		},
		Vector:          journal.Vector{0.1, -0.2, 0.3},
		EmbedSource:     journal.EmbedSummary,
		SummariserModel: "claude-3-haiku-20240307",
		EmbeddingModel:  "text-embedding-3-small",
		CreatedAt:       at,
	}
}

func TestNew_AppliesMigrations(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("schema version: got %d, want 2", v)
	}
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := store.New(dbPath, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.SaveEnrichment(ctx, sampleEnrichment("a", time.Now())); err != nil {
		t.Fatalf("SaveEnrichment: %v", err)
	}
	s.Close()

	s, err = store.New(dbPath, nil)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()
	n, err := s.CountEnrichments(ctx)
	if err != nil {
		t.Fatalf("CountEnrichments: %v", err)
	}
	if n != 1 {
		t.Errorf("count after reopen: got %d, want 1", n)
	}
}

func TestSaveAndGetEnrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.UTC)
	want := sampleEnrichment("e1", at)

	if err := s.SaveEnrichment(ctx, want); err != nil {
		t.Fatalf("SaveEnrichment: %v", err)
	}

	got, err := s.GetEnrichment(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEnrichment: %v", err)
	}
	if got.TraceID != want.TraceID {
		t.Errorf("TraceID: got %q, want %q", got.TraceID, want.TraceID)
	}
	if got.Analysis.Summary != want.Analysis.Summary {
		t.Errorf("Summary: got %q", got.Analysis.Summary)
	}
	if len(got.Analysis.Emotions) != 3 || got.Analysis.Emotions[0] != "stress" {
		t.Errorf("Emotions: got %v", got.Analysis.Emotions)
	}
	if len(got.Analysis.Topics) != 3 || got.Analysis.Topics[2] != "isolation" {
		t.Errorf("Topics: got %v", got.Analysis.Topics)
	}
	if got.Dimensions() != 3 || got.Vector[1] != -0.2 {
		t.Errorf("Vector: got %v", got.Vector)
	}
	if got.EmbedSource != journal.EmbedSummary {
		t.Errorf("EmbedSource: got %q", got.EmbedSource)
	}
	if got.SummariserModel != want.SummariserModel || got.EmbeddingModel != want.EmbeddingModel {
		t.Errorf("models: got %q / %q", got.SummariserModel, got.EmbeddingModel)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, at)
	}
}

func TestSaveEnrichment_FillsIDAndTime(t *testing.T) {
	s := newTestStore(t)
	e := sampleEnrichment("", time.Time{})
	if err := s.SaveEnrichment(context.Background(), e); err != nil {
		t.Fatalf("SaveEnrichment: %v", err)
	}
	if e.ID == "" {
		t.Error("ID should be assigned")
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt should be assigned")
	}
	if _, err := s.GetEnrichment(context.Background(), e.ID); err != nil {
		t.Errorf("GetEnrichment(%s): %v", e.ID, err)
	}
}

func TestSaveEnrichment_WithoutVector(t *testing.T) {
	s := newTestStore(t)
	e := sampleEnrichment("novec", time.Now())
	e.Vector = nil
	if err := s.SaveEnrichment(context.Background(), e); err != nil {
		t.Fatalf("SaveEnrichment: %v", err)
	}
	got, err := s.GetEnrichment(context.Background(), "novec")
	if err != nil {
		t.Fatalf("GetEnrichment: %v", err)
	}
	if got.Vector != nil {
		t.Errorf("Vector: got %v, want nil", got.Vector)
	}
}

func TestGetEnrichment_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEnrichment(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListEnrichments_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of order; the half-second offset checks ordering across
	// fractional seconds.
	for _, tc := range []struct {
		id     string
		offset time.Duration
	}{
		{"middle", time.Hour},
		{"oldest", 0},
		{"newest", time.Hour + 500*time.Millisecond},
	} {
		if err := s.SaveEnrichment(ctx, sampleEnrichment(tc.id, base.Add(tc.offset))); err != nil {
			t.Fatalf("SaveEnrichment(%s): %v", tc.id, err)
		}
	}

	got, err := s.ListEnrichments(ctx, 0)
	if err != nil {
		t.Fatalf("ListEnrichments: %v", err)
	}
	want := []string{"newest", "middle", "oldest"}
	if len(got) != len(want) {
		t.Fatalf("got %d enrichments, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, id)
		}
	}

	limited, err := s.ListEnrichments(ctx, 2)
	if err != nil {
		t.Fatalf("ListEnrichments(2): %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "newest" {
		t.Errorf("limited list: got %d entries", len(limited))
	}
}

func TestCountEnrichments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.CountEnrichments(ctx)
	if err != nil {
		t.Fatalf("CountEnrichments: %v", err)
	}
	if n != 0 {
		t.Errorf("empty store count: got %d", n)
	}

	for _, id := range []string{"a", "b"} {
		if err := s.SaveEnrichment(ctx, sampleEnrichment(id, time.Now())); err != nil {
			t.Fatalf("SaveEnrichment: %v", err)
		}
	}
	// Saving the same ID again replaces the row.
	if err := s.SaveEnrichment(ctx, sampleEnrichment("a", time.Now())); err != nil {
		t.Fatalf("SaveEnrichment: %v", err)
	}

	n, err = s.CountEnrichments(ctx)
	if err != nil {
		t.Fatalf("CountEnrichments: %v", err)
	}
	if n != 2 {
		t.Errorf("count: got %d, want 2", n)
	}
}

func TestNew_InMemory(t *testing.T) {
	s, err := store.New(":memory:", nil)
	if err != nil {
		t.Fatalf("New(:memory:): %v", err)
	}
	defer s.Close()
	if err := s.SaveEnrichment(context.Background(), sampleEnrichment("m", time.Now())); err != nil {
		t.Fatalf("SaveEnrichment: %v", err)
	}
}
