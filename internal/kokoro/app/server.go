package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bdobrica/Kokoro/common/spec/journal"
	"github.com/bdobrica/Kokoro/common/trace"
	"github.com/bdobrica/Kokoro/common/version"
	"github.com/bdobrica/Kokoro/internal/kokoro/pipeline"
	"github.com/bdobrica/Kokoro/internal/kokoro/provider"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

// maxEntryBytes caps the request body of POST /v1/enrich.
const maxEntryBytes = 64 << 10

// TraceHeader carries the trace ID in both directions.
const TraceHeader = "X-Trace-Id"

// enricher is what the server needs from the pipeline.
type enricher interface {
	Enrich(ctx context.Context, entry string) (*journal.Enrichment, error)
}

// archiveReader is what the server needs from the archive. Nil when the
// archive is disabled.
type archiveReader interface {
	CountEnrichments(ctx context.Context) (int, error)
	ListEnrichments(ctx context.Context, limit int) ([]*journal.Enrichment, error)
	GetEnrichment(ctx context.Context, id string) (*journal.Enrichment, error)
}

// Server exposes /health, /status and the enrichment API.
type Server struct {
	addr      string
	enricher  enricher
	archive   archiveReader
	logger    *slog.Logger
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux

	limiter     *provider.RateLimiter
	limiterKeys []string
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status         string    `json:"status"`
	Version        string    `json:"version"`
	Commit         string    `json:"commit"`
	BuildTime      string    `json:"build_time"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSecs     float64   `json:"uptime_seconds"`
	ArchiveEnabled bool      `json:"archive_enabled"`
	ArchivedCount  int       `json:"archived_count"`
	// RateLimitRemaining is the calls left in the current window, per provider.
	RateLimitRemaining map[string]int `json:"rate_limit_remaining,omitempty"`
}

type enrichRequest struct {
	Entry string `json:"entry"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewServer creates and configures the HTTP server (does not start it).
// archive may be nil, in which case the archive routes answer 404.
func NewServer(addr string, e enricher, archive archiveReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		addr:      addr,
		enricher:  e,
		archive:   archive,
		logger:    logger,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /v1/enrich", s.handleEnrich)
	mux.HandleFunc("GET /v1/enrichments", s.handleList)
	mux.HandleFunc("GET /v1/enrichments/{id}", s.handleGet)
	return s
}

// WithRateLimiter reports the remaining quota of rl for each key on /status.
func (s *Server) WithRateLimiter(rl *provider.RateLimiter, keys ...string) *Server {
	s.limiter = rl
	s.limiterKeys = keys
	return s
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start begins listening in the background and returns once the listener
// is open. The server shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.addr, err)
	}

	// Enrichment waits on two provider round trips, retries included.
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count := 0
	if s.archive != nil {
		if n, err := s.archive.CountEnrichments(r.Context()); err == nil {
			count = n
		} else {
			s.logger.Warn("status: count enrichments", "err", err)
		}
	}
	var remaining map[string]int
	if s.limiter != nil {
		remaining = make(map[string]int, len(s.limiterKeys))
		for _, k := range s.limiterKeys {
			remaining[k] = s.limiter.Remaining(k)
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:             "ok",
		Version:            version.Version,
		Commit:             version.GitCommit,
		BuildTime:          version.BuildTime,
		StartedAt:          s.startedAt,
		UptimeSecs:         time.Since(s.startedAt).Seconds(),
		ArchiveEnabled:     s.archive != nil,
		ArchivedCount:      count,
		RateLimitRemaining: remaining,
	})
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if id := r.Header.Get(TraceHeader); id != "" {
		ctx = trace.WithTraceID(ctx, id)
	}
	ctx, traceID := trace.Ensure(ctx)
	w.Header().Set(TraceHeader, traceID)

	var req enrichRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEntryBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "request body must be a JSON object with an \"entry\" string",
			TraceID: traceID,
		})
		return
	}

	e, err := s.enricher.Enrich(ctx, req.Entry)
	if err != nil {
		code, resp := errorFor(err)
		resp.TraceID = traceID
		writeJSON(w, code, resp)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "archive is disabled"})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	list, err := s.archive.ListEnrichments(r.Context(), limit)
	if err != nil {
		s.logger.Error("list enrichments", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if list == nil {
		list = []*journal.Enrichment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "archive is disabled"})
		return
	}
	e, err := s.archive.GetEnrichment(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "enrichment not found"})
		return
	}
	if err != nil {
		s.logger.Error("get enrichment", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// errorFor maps a pipeline error to a status code and a message that is
// safe to show to API clients.
func errorFor(err error) (int, errorResponse) {
	if errors.Is(err, pipeline.ErrArchive) {
		return http.StatusInternalServerError, errorResponse{Error: "the enrichment could not be archived"}
	}
	kind := provider.KindOf(err)
	if kind == "" {
		return http.StatusInternalServerError, errorResponse{Error: provider.PublicMessage(err)}
	}
	return kind.HTTPStatus(), errorResponse{Error: provider.PublicMessage(err), Kind: string(kind)}
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: failed to encode JSON response", "err", err)
	}
}
