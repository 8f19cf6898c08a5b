package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Kokoro/common/spec/journal"
)

// ErrNotFound is returned when no enrichment has the requested ID.
var ErrNotFound = errors.New("store: enrichment not found")

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DefaultListLimit applies when ListEnrichments is called with limit <= 0.
const DefaultListLimit = 50

// SaveEnrichment inserts e, or replaces the row with the same ID. An empty
// ID is filled with a new UUID and a zero CreatedAt with the current time;
// both are written back to e.
func (s *Store) SaveEnrichment(ctx context.Context, e *journal.Enrichment) error {
	if e == nil {
		return fmt.Errorf("store: save enrichment: nil enrichment")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	emotions, err := json.Marshal(nonNil(e.Analysis.Emotions))
	if err != nil {
		return fmt.Errorf("store: marshal emotions: %w", err)
	}
	topics, err := json.Marshal(nonNil(e.Analysis.Topics))
	if err != nil {
		return fmt.Errorf("store: marshal topics: %w", err)
	}
	summary, err := s.cipher.Seal(e.Analysis.Summary)
	if err != nil {
		return fmt.Errorf("store: seal summary: %w", err)
	}
	sealedEmotions, err := s.cipher.Seal(string(emotions))
	if err != nil {
		return fmt.Errorf("store: seal emotions: %w", err)
	}
	sealedTopics, err := s.cipher.Seal(string(topics))
	if err != nil {
		return fmt.Errorf("store: seal topics: %w", err)
	}

	var embedding []byte
	if len(e.Vector) > 0 {
		embedding, err = json.Marshal(e.Vector)
		if err != nil {
			return fmt.Errorf("store: marshal embedding: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO enrichments
			(id, trace_id, created_at, summary, emotions, topics, embedding,
			 dimensions, embed_source, summariser_model, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.TraceID,
		e.CreatedAt.UTC().Format(timeLayout),
		summary,
		sealedEmotions,
		sealedTopics,
		embedding,
		len(e.Vector),
		string(e.EmbedSource),
		e.SummariserModel,
		e.EmbeddingModel,
	)
	if err != nil {
		return fmt.Errorf("store: insert enrichment: %w", err)
	}

	s.logger.Debug("store: saved enrichment",
		"id", e.ID,
		"trace_id", e.TraceID,
		"dimensions", len(e.Vector),
		"embed_source", string(e.EmbedSource),
		"sealed", s.cipher != nil,
	)
	return nil
}

// GetEnrichment returns the enrichment with the given ID or ErrNotFound.
func (s *Store) GetEnrichment(ctx context.Context, id string) (*journal.Enrichment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trace_id, created_at, summary, emotions, topics, embedding,
		       embed_source, summariser_model, embedding_model
		FROM enrichments WHERE id = ?`, id)
	e, err := s.scanEnrichment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get enrichment %s: %w", id, err)
	}
	return e, nil
}

// ListEnrichments returns up to limit enrichments, newest first. Vectors
// are included.
func (s *Store) ListEnrichments(ctx context.Context, limit int) ([]*journal.Enrichment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trace_id, created_at, summary, emotions, topics, embedding,
		       embed_source, summariser_model, embedding_model
		FROM enrichments
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list enrichments: %w", err)
	}
	defer rows.Close()

	var out []*journal.Enrichment
	for rows.Next() {
		e, err := s.scanEnrichment(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan enrichment: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate enrichments: %w", err)
	}
	return out, nil
}

// CountEnrichments returns the number of archived enrichments.
func (s *Store) CountEnrichments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM enrichments").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count enrichments: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEnrichment(sc scanner) (*journal.Enrichment, error) {
	var (
		e                journal.Enrichment
		createdAt        string
		emotions, topics string
		embedding        []byte
		source           string
	)
	err := sc.Scan(&e.ID, &e.TraceID, &createdAt, &e.Analysis.Summary, &emotions, &topics,
		&embedding, &source, &e.SummariserModel, &e.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	e.EmbedSource = journal.EmbedSource(source)

	if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.Analysis.Summary, err = s.cipher.Open(e.Analysis.Summary); err != nil {
		return nil, fmt.Errorf("open summary: %w", err)
	}
	if emotions, err = s.cipher.Open(emotions); err != nil {
		return nil, fmt.Errorf("open emotions: %w", err)
	}
	if topics, err = s.cipher.Open(topics); err != nil {
		return nil, fmt.Errorf("open topics: %w", err)
	}
	if err := json.Unmarshal([]byte(emotions), &e.Analysis.Emotions); err != nil {
		return nil, fmt.Errorf("unmarshal emotions: %w", err)
	}
	if err := json.Unmarshal([]byte(topics), &e.Analysis.Topics); err != nil {
		return nil, fmt.Errorf("unmarshal topics: %w", err)
	}
	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &e.Vector); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	return &e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
