// Package server exposes an Engine over a JSON HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/kektortree/pkg/engine"
	"github.com/sanonone/kektortree/pkg/ingest"
)

// Options configures a Server.
type Options struct {
	Addr string
	// AuthToken enables bearer authentication on every route except
	// /healthz and /metrics.
	AuthToken string
	// Threshold and MaxResults are used by searches that omit them.
	Threshold  float64
	MaxResults int
	// Rewrite is the default for text searches that omit "rewrite".
	Rewrite bool
	// Pipeline enables POST /system/ingest.
	Pipeline        *ingest.Pipeline
	ShutdownTimeout time.Duration
}

// Server holds the HTTP interface and the underlying Engine.
type Server struct {
	Engine *engine.Engine

	opts        Options
	httpServer  *http.Server
	taskManager *TaskManager

	// baseCtx is canceled on Shutdown and stops background tasks.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer initializes the HTTP server using an existing Engine.
// The Engine must be open; the Server never closes it.
func NewServer(eng *engine.Engine, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Engine:      eng,
		opts:        opts,
		taskManager: NewTaskManager(),
		baseCtx:     ctx,
		cancel:      cancel,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the full middleware chain around the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Chain middlewares: Recovery -> Logging -> Auth -> Mux
	// Recovery must be outer-most to catch everything.
	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.LoggingMiddleware(handler)
	handler = s.RecoveryMiddleware(handler)

	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)
	return rootMux
}

// Run starts the HTTP server and blocks until it is shut down.
func (s *Server) Run() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr, "auth", s.opts.AuthToken != "")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and cancels running tasks.
// It does NOT close the Engine.
func (s *Server) Shutdown() {
	slog.Info("Starting graceful shutdown of HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	s.cancel()
	s.taskManager.Wait()
}
