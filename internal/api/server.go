package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/adgmcheck/internal/advisory"
	"github.com/dgallion1/adgmcheck/internal/archive"
	"github.com/dgallion1/adgmcheck/internal/pipeline"
	"github.com/dgallion1/adgmcheck/internal/retrieval"
)

// RunArchive looks up finished runs that have left the in-memory store.
type RunArchive interface {
	Get(ctx context.Context, runID string) (pipeline.Result, error)
	List(ctx context.Context, limit int) ([]archive.Summary, error)
}

// IndexLoader builds a fresh corpus index for a reload.
type IndexLoader func(ctx context.Context) (retrieval.Index, error)

// Options wires a Server. Only Queue is required.
type Options struct {
	Queue          *pipeline.Queue
	Archive        RunArchive
	Index          *retrieval.Handle
	LoadIndex      IndexLoader
	AdvisoryStats  *advisory.Stats
	AdvisoryModel  string
	Metrics        http.Handler
	APIKey         string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Server is the HTTP API server for adgmcheck.
type Server struct {
	router chi.Router
	opts   Options
	log    *slog.Logger
}

// NewServer creates and configures the HTTP server.
func NewServer(opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 52428800
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{opts: opts, log: log}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.opts.APIKey, s.log))

		r.Post("/api/analyze", s.handleAnalyze)
		r.Get("/api/runs", s.handleListRuns)
		r.Get("/api/runs/{runID}", s.handleGetRun)
		r.Get("/api/stats/advisory", s.handleAdvisoryStats)
		r.Post("/api/index/reload", s.handleIndexReload)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"index_version": s.opts.Index.Version(),
		"queue_depth":   s.opts.Queue.QueueDepth(),
	})
}
