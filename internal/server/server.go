package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/slidesmith/pptx-pipeline/internal/cache"
	"github.com/slidesmith/pptx-pipeline/internal/config"
	"github.com/slidesmith/pptx-pipeline/internal/jobs"
	"github.com/slidesmith/pptx-pipeline/internal/render"
	"github.com/slidesmith/pptx-pipeline/internal/storage"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server

	cfg      *config.Service
	store    storage.Gateway
	local    *storage.Local // non-nil only with the local backend
	jobStore jobs.Store
	orch     *jobs.Orchestrator
	renderer *render.Selector
	cache    *cache.Cache
	log      zerolog.Logger
}

// Deps carries the wired components the server exposes over HTTP.
type Deps struct {
	Store    storage.Gateway
	Local    *storage.Local
	JobStore jobs.Store
	Orch     *jobs.Orchestrator
	Renderer *render.Selector
	Cache    *cache.Cache
	Log      zerolog.Logger
}

// New creates a new server instance.
func New(cfg *config.Service, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		local:    deps.Local,
		jobStore: deps.JobStore,
		orch:     deps.Orch,
		renderer: deps.Renderer,
		cache:    deps.Cache,
		log:      deps.Log.With().Str("component", "http").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/process", s.handleProcess)
	mux.HandleFunc("GET /v1/status/{job_id}", s.handleStatus)
	mux.HandleFunc("POST /v1/retry/{job_id}", s.handleRetry)
	mux.HandleFunc("GET /v1/results/{id}", s.handleResults)
	mux.HandleFunc("PUT /v1/translations/{session_id}", s.handlePutTranslations)
	mux.HandleFunc("POST /v1/export", s.handleExport)
	mux.HandleFunc("GET /v1/export/{session_id}/download", s.handleExportDownload)
	mux.HandleFunc("GET /v1/files/{key...}", s.handleFiles)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/metrics", s.handleMetrics)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests and blocks until shutdown.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-stop:
	}
	s.log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := s.orch.Shutdown(ctx); err != nil {
		return err
	}
	s.log.Info().Msg("server stopped")
	return nil
}

// withCORS adds CORS headers.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

// errorResponse writes an error JSON response.
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// failWith maps an error to its HTTP status and writes it.
func (s *Server) failWith(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.errorResponse(w, status, err.Error())
}
