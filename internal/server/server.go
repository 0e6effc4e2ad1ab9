// Package server exposes ingestion over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yashugupta786/sp/internal/metrics"
	"github.com/yashugupta786/sp/internal/service"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server wires the HTTP API to the service layer.
type Server struct {
	jobs     *service.JobManager
	poller   *service.StatusPoller
	registry *service.RunRegistry
	metrics  *metrics.Collector
	logger   *slog.Logger

	watchInterval time.Duration
	router        chi.Router
}

// Options configures a Server.
type Options struct {
	Jobs     *service.JobManager
	Poller   *service.StatusPoller
	Registry *service.RunRegistry
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	// WatchInterval is how often a watch stream re-reads the job.
	WatchInterval time.Duration
}

// New creates a server and its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = 500 * time.Millisecond
	}
	s := &Server{
		jobs:          opts.Jobs,
		poller:        opts.Poller,
		registry:      opts.Registry,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		watchInterval: opts.WatchInterval,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(RecoveryMiddleware(s.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/ingest/status", s.handleStatus)
		r.Post("/ingest/quarter", s.handleIngestQuarter)
		r.Post("/discover", s.handleDiscover)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}/watch", s.handleWatch)
		r.Get("/runs/{tenantID}/{engagementID}", s.handleGetRun)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}
