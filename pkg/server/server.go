package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/ledger"
	"mercator-hq/costgate/pkg/ledger/storage"
	"mercator-hq/costgate/pkg/telemetry/health"
	"mercator-hq/costgate/pkg/telemetry/metrics"
)

// Ledger is the subset of *ledger.Ledger the admin API exposes.
type Ledger interface {
	Document() *storage.Document
	Snapshot(key ledger.Key) (ledger.Bucket, bool)
	SetHardStop(ctx context.Context, key ledger.Key, stopped bool) error
	Outstanding() int
}

// Options carries the server's collaborators.
type Options struct {
	// Ledger is required.
	Ledger Ledger

	// Health backs /healthz. Nil serves an always-ok report.
	Health *health.Checker

	// Registry backs the metrics endpoint. Nil disables it.
	Registry *prometheus.Registry

	// MetricsPath is where Registry is served. Defaults to "/metrics".
	MetricsPath string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	config   *config.ServerConfig
	ledger   Ledger
	health   *health.Checker
	registry *prometheus.Registry
	metrics  string
	logger   *slog.Logger

	httpServer   *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New creates a new admin server.
func New(cfg *config.ServerConfig, opts Options) *Server {
	if opts.Health == nil {
		opts.Health = health.New(0, "")
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultPrometheusPath
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Server{
		config:   cfg,
		ledger:   opts.Ledger,
		health:   opts.Health,
		registry: opts.Registry,
		metrics:  opts.MetricsPath,
		logger:   opts.Logger.With("component", "server"),
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting admin server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown gracefully shuts down the server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("admin server stopped")
	})

	return shutdownErr
}

// Addr returns the bound address once Start is listening, or "".
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/healthz", s.health.Handler())
	mux.HandleFunc("GET /v1/ledger", s.handleLedger)
	mux.HandleFunc("GET /v1/ledger/{lane}/{provider}", s.handleBucket)
	mux.Handle("POST /v1/hardstop", requireToken(s.config.AdminToken, http.HandlerFunc(s.handleHardStop)))
	if s.registry != nil {
		mux.Handle("GET "+s.metrics, metrics.Handler(s.registry))
	}

	var handler http.Handler = mux
	handler = loggingMiddleware(s.logger)(handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger)(handler)

	return handler
}
