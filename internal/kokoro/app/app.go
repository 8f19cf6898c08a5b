// Package app wires configuration into running components: provider
// guards, the summariser and embedder, the optional archive, the enrichment
// pipeline and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdobrica/Kokoro/common/crypto"
	"github.com/bdobrica/Kokoro/internal/kokoro/config"
	"github.com/bdobrica/Kokoro/internal/kokoro/embedder"
	"github.com/bdobrica/Kokoro/internal/kokoro/pipeline"
	"github.com/bdobrica/Kokoro/internal/kokoro/provider"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
	"github.com/bdobrica/Kokoro/internal/kokoro/summariser"
)

// embedderProvider names the embeddings backend in guards and errors.
const embedderProvider = "openai"

// App holds the components built from one Config.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	limiter *provider.RateLimiter

	Summariser summariser.Summariser
	Embedder   *embedder.OpenAIEmbedder
	Enricher   *pipeline.Enricher

	// Store is nil unless the archive is enabled.
	Store *store.Store
}

// New builds every component described by cfg. Call Close when done.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	// One limiter for the process: when both backends are OpenAI they draw
	// on the same quota.
	limiter := provider.NewRateLimiter(cfg.Resilience.RateLimit, cfg.Resilience.RateWindow)
	newGuard := func(name string) *provider.Guard {
		return provider.NewGuard(provider.GuardConfig{
			Name:            name,
			Retry:           cfg.Retry(),
			Limiter:         limiter,
			BreakerFailures: cfg.Resilience.BreakerFailures,
			BreakerTimeout:  cfg.Resilience.BreakerTimeout,
			Logger:          logger,
		})
	}

	sum, err := summariser.New(cfg.Summariser.Provider, summariser.Config{
		APIKey:      cfg.SummariserAPIKey(),
		BaseURL:     cfg.Summariser.BaseURL,
		Model:       cfg.Summariser.Model,
		Temperature: cfg.Summariser.Temperature,
		MaxTokens:   cfg.Summariser.MaxTokens,
		Timeout:     cfg.Summariser.Timeout,
		Guard:       newGuard(cfg.Summariser.Provider),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	emb := embedder.NewOpenAI(embedder.Config{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.Embedder.BaseURL,
		Model:      cfg.Embedder.Model,
		Dimensions: cfg.Embedder.Dimensions,
		Timeout:    cfg.Embedder.Timeout,
		Guard:      newGuard(embedderProvider),
		Logger:     logger,
	})

	a := &App{
		cfg:        cfg,
		logger:     logger,
		limiter:    limiter,
		Summariser: sum,
		Embedder:   emb,
	}

	var archive pipeline.Archive
	if cfg.Archive.Enabled {
		var opts []store.Option
		if cfg.ArchiveKey != "" {
			key, err := crypto.ParseKey(cfg.ArchiveKey)
			if err != nil {
				return nil, fmt.Errorf("app: archive key: %w", err)
			}
			fc, err := crypto.NewFieldCipher(key)
			if err != nil {
				return nil, fmt.Errorf("app: archive key: %w", err)
			}
			opts = append(opts, store.WithCipher(fc))
		}
		st, err := store.New(cfg.Archive.Path, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: open archive: %w", err)
		}
		a.Store = st
		archive = st
	}

	a.Enricher, err = pipeline.New(sum, emb, archive, cfg.Pipeline.EmbedSource, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	logger.Info("kokoro initialised",
		"summariser_provider", cfg.Summariser.Provider,
		"summariser_model", sum.Model(),
		"embedding_model", emb.Model(),
		"dimensions", emb.Dimensions(),
		"embed_source", string(a.Enricher.Source()),
		"archive", cfg.Archive.Enabled,
		"archive_sealed", cfg.Archive.Enabled && cfg.ArchiveKey != "",
	)
	return a, nil
}

// Close releases the archive, if open.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// Server returns an HTTP server bound to cfg.Server.Addr.
func (a *App) Server() *Server {
	var archive archiveReader
	if a.Store != nil {
		archive = a.Store
	}
	keys := []string{a.cfg.Summariser.Provider}
	if a.cfg.Summariser.Provider != embedderProvider {
		keys = append(keys, embedderProvider)
	}
	return NewServer(a.cfg.Server.Addr, a.Enricher, archive, a.logger).WithRateLimiter(a.limiter, keys...)
}

// Serve runs the HTTP server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := a.Server()
	if err := srv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	srv.Stop()
	return nil
}
