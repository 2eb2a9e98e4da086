// Package server exposes the HTTP surface: span intake, trace queries,
// export/import, replay, scenario runs, live WebSocket fanout, and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/beacon/internal/bus"
	"github.com/haasonsaas/beacon/internal/export"
	"github.com/haasonsaas/beacon/internal/intake"
	"github.com/haasonsaas/beacon/internal/llm"
	"github.com/haasonsaas/beacon/internal/replay"
	"github.com/haasonsaas/beacon/internal/runner"
	"github.com/haasonsaas/beacon/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server wires the components behind the HTTP mux.
type Server struct {
	store    *store.Store
	pipeline *intake.Pipeline
	hub      *bus.Hub
	runner   *runner.Runner
	replay   *replay.Service
	export   *export.Service
	logger   *slog.Logger

	mux  *http.ServeMux
	http *http.Server
}

// Options carries the server dependencies.
type Options struct {
	Addr     string
	Store    *store.Store
	Registry *llm.Registry
	Logger   *slog.Logger
}

// New builds the full component graph around the store and provider
// registry.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hub := bus.NewHub(logger)
	pipeline := intake.New(opts.Store, hub, logger)

	s := &Server{
		store:    opts.Store,
		pipeline: pipeline,
		hub:      hub,
		runner:   runner.New(pipeline, opts.Registry, logger),
		replay:   replay.New(opts.Store, opts.Registry, logger),
		export:   export.New(opts.Store),
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	s.http = &http.Server{
		Addr:    opts.Addr,
		Handler: s.mux,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/spans", s.handleIngestSpans)
	s.mux.HandleFunc("POST /v1/otlp/traces", s.handleIngestOTLP)

	s.mux.HandleFunc("GET /v1/traces", s.handleListTraces)
	s.mux.HandleFunc("GET /v1/traces/export", s.handleBulkExport)
	s.mux.HandleFunc("POST /v1/traces/import", s.handleImport)
	s.mux.HandleFunc("GET /v1/traces/{id}", s.handleGetTrace)
	s.mux.HandleFunc("GET /v1/traces/{id}/graph", s.handleTraceGraph)
	s.mux.HandleFunc("GET /v1/traces/{id}/export", s.handleExportTrace)
	s.mux.HandleFunc("DELETE /v1/traces/{id}", s.handleDeleteTrace)
	s.mux.HandleFunc("DELETE /v1/traces", s.handleBatchDelete)
	s.mux.HandleFunc("PUT /v1/traces/{id}/tags", s.handleUpdateTags)

	s.mux.HandleFunc("GET /v1/spans/{id}", s.handleGetSpan)
	s.mux.HandleFunc("PUT /v1/spans/{id}/annotations", s.handleUpdateAnnotations)
	s.mux.HandleFunc("GET /v1/spans/{id}/prompt-versions", s.handleListPromptVersions)
	s.mux.HandleFunc("POST /v1/spans/{id}/prompt-versions", s.handleCreatePromptVersion)

	s.mux.HandleFunc("POST /v1/replay", s.handleReplay)

	s.mux.HandleFunc("GET /v1/scenarios", s.handleListScenarios)
	s.mux.HandleFunc("POST /v1/scenarios/{key}/run", s.handleRunScenario)

	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.Handle("/ws/live", s.hub)
}

// Handler returns the mux; tests mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the WebSocket sessions and stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
