// Package pipeline composes a summariser and an embedder into one
// enrichment step: summarise the entry, pick the text to embed, embed it,
// and optionally archive the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Kokoro/common/spec/journal"
	"github.com/bdobrica/Kokoro/common/trace"
	"github.com/bdobrica/Kokoro/internal/kokoro/embedder"
	"github.com/bdobrica/Kokoro/internal/kokoro/observability"
	"github.com/bdobrica/Kokoro/internal/kokoro/provider"
	"github.com/bdobrica/Kokoro/internal/kokoro/summariser"
)

// DefaultConcurrency bounds EnrichAll when no limit is given.
const DefaultConcurrency = 4

// ErrArchive marks a failure to save an otherwise complete enrichment.
// Enrich returns the enrichment together with an error wrapping it.
var ErrArchive = errors.New("pipeline: archive enrichment")

// Archive stores finished enrichments. *store.Store satisfies it.
type Archive interface {
	SaveEnrichment(ctx context.Context, e *journal.Enrichment) error
}

// Enricher runs entries through summarise -> embed -> archive. Every step
// must succeed; there is no partial result except on archive failure.
// Safe for concurrent use when its backends are.
type Enricher struct {
	summariser summariser.Summariser
	embedder   embedder.Embedder
	archive    Archive
	source     journal.EmbedSource
	logger     *slog.Logger
	now        func() time.Time
}

// New builds an Enricher. archive may be nil. An empty source means
// journal.EmbedSummary; an unknown one is an error. If logger is nil, the
// default slog logger is used.
func New(s summariser.Summariser, e embedder.Embedder, archive Archive, source journal.EmbedSource, logger *slog.Logger) (*Enricher, error) {
	if s == nil || e == nil {
		return nil, fmt.Errorf("pipeline: summariser and embedder are required")
	}
	if source == "" {
		source = journal.EmbedSummary
	}
	if !source.Valid() {
		return nil, fmt.Errorf("pipeline: unknown embed source %q", source)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		summariser: s,
		embedder:   e,
		archive:    archive,
		source:     source,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Source returns the configured embed source.
func (p *Enricher) Source() journal.EmbedSource { return p.source }

// Analyse runs only the summariser. Soft-contract violations (label counts
// outside 3-5) are logged as warnings and do not fail the call.
func (p *Enricher) Analyse(ctx context.Context, entry string) (*journal.Analysis, error) {
	ctx, _ = trace.Ensure(ctx)
	return p.analyse(ctx, observability.WithTrace(ctx, p.logger), entry)
}

func (p *Enricher) analyse(ctx context.Context, log *slog.Logger, entry string) (*journal.Analysis, error) {
	a, err := p.summariser.Summarise(ctx, entry)
	if err != nil {
		log.Warn("pipeline: summarisation failed",
			"kind", string(provider.KindOf(err)),
			"entry_len", len(entry),
			"err", err,
		)
		return nil, fmt.Errorf("pipeline: summarise: %w", err)
	}
	for _, w := range a.Warnings() {
		log.Warn("pipeline: analysis outside requested shape", "detail", w)
	}
	return a, nil
}

// Enrich summarises entry, embeds the text selected by the embed source and
// archives the result when an archive is configured.
//
// When only the archive write fails, the enrichment is returned along with
// an error that matches ErrArchive.
func (p *Enricher) Enrich(ctx context.Context, entry string) (*journal.Enrichment, error) {
	start := time.Now()
	ctx, traceID := trace.Ensure(ctx)
	log := observability.WithTrace(ctx, p.logger)

	analysis, err := p.analyse(ctx, log, entry)
	if err != nil {
		return nil, err
	}

	text := EmbedText(p.source, entry, analysis)
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn("pipeline: embedding failed",
			"kind", string(provider.KindOf(err)),
			"embed_source", string(p.source),
			"text_len", len(text),
			"err", err,
		)
		return nil, fmt.Errorf("pipeline: embed: %w", err)
	}

	e := &journal.Enrichment{
		ID:              uuid.NewString(),
		TraceID:         traceID,
		Analysis:        *analysis,
		Vector:          vec,
		EmbedSource:     p.source,
		SummariserModel: p.summariser.Model(),
		EmbeddingModel:  p.embedder.Model(),
		CreatedAt:       p.now().UTC(),
	}

	if p.archive != nil {
		if err := p.archive.SaveEnrichment(ctx, e); err != nil {
			log.Error("pipeline: archive failed", "id", e.ID, "err", err)
			return e, fmt.Errorf("%w %s: %w", ErrArchive, e.ID, err)
		}
	}

	// Metadata only; entry and summary text stay out of logs.
	log.Info("entry enriched",
		"id", e.ID,
		"entry_len", len(entry),
		"emotions", len(analysis.Emotions),
		"topics", len(analysis.Topics),
		"summary_len", len(analysis.Summary),
		"dimensions", len(vec),
		"embed_source", string(p.source),
		"archived", p.archive != nil,
		"elapsed", time.Since(start).String(),
	)
	return e, nil
}

// EnrichAll enriches entries with at most concurrency calls in flight
// (DefaultConcurrency when <= 0). Results are in input order. The first
// error cancels the remaining work and is returned; slots for entries that
// did not complete are nil. An entry whose only failure was the archive
// write keeps its enrichment.
func (p *Enricher) EnrichAll(ctx context.Context, entries []string, concurrency int) ([]*journal.Enrichment, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	results := make([]*journal.Enrichment, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := p.Enrich(gctx, entry)
			results[i] = e
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// EmbedText returns the text to embed for source. Unknown sources fall back
// to the summary.
func EmbedText(source journal.EmbedSource, entry string, a *journal.Analysis) string {
	switch source {
	case journal.EmbedEntry:
		return entry
	case journal.EmbedSummaryTopics:
		if len(a.Topics) == 0 {
			return a.Summary
		}
		return a.Summary + "\n\nTopics: " + strings.Join(a.Topics, ", ")
	default:
		return a.Summary
	}
}
