package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kadaliao/claude-relay-service/pkg/account"
	"github.com/kadaliao/claude-relay-service/pkg/config"
	"github.com/kadaliao/claude-relay-service/pkg/relay"
	"github.com/kadaliao/claude-relay-service/pkg/scheduler"
	"github.com/kadaliao/claude-relay-service/pkg/store"
	"github.com/kadaliao/claude-relay-service/pkg/telemetry/metrics"
)

// Server is the relay service's HTTP server.
type Server struct {
	config       *config.ServerConfig
	metricsCfg   *config.MetricsConfig
	forwarder    *relay.Forwarder
	pool         *scheduler.Pool
	store        *store.Store
	collector    *metrics.Collector
	httpServer   *http.Server
	shutdownOnce sync.Once

	mu        sync.RWMutex
	isRunning bool
}

// NewServer creates the relay HTTP server. The collector may be nil when
// metrics are disabled.
func NewServer(cfg *config.ServerConfig, metricsCfg *config.MetricsConfig, fwd *relay.Forwarder, pool *scheduler.Pool, st *store.Store, collector *metrics.Collector) *Server {
	return &Server{
		config:     cfg,
		metricsCfg: metricsCfg,
		forwarder:  fwd,
		pool:       pool,
		store:      st,
		collector:  collector,
	}
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting relay server", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the server, letting in-flight relays
// finish within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		slog.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		slog.Info("relay server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Claude-compatible relay: OAuth accounts first, console accounts as
	// overflow capacity.
	r.Post("/v1/messages", func(w http.ResponseWriter, req *http.Request) {
		s.forwarder.Forward(w, req, []account.Platform{
			account.PlatformClaude,
			account.PlatformClaudeConsole,
		})
	})

	// OpenAI-compatible relay.
	r.Post("/v1/responses", func(w http.ResponseWriter, req *http.Request) {
		s.forwarder.Forward(w, req, []account.Platform{account.PlatformOpenAI})
	})

	r.Get("/healthz", s.handleHealth)

	if s.collector != nil && s.metricsCfg.Enabled {
		r.Method(http.MethodGet, s.metricsCfg.Path, s.collector.Handler())
	}

	r.Route("/admin", func(r chi.Router) {
		r.Get("/accounts", s.handleListAccounts)
		r.Post("/accounts/{id}/pause", s.handlePauseAccount)
		r.Post("/accounts/{id}/resume", s.handleResumeAccount)
		r.Get("/usage", s.handleUsage)
	})

	return r
}
