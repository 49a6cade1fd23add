// Package server assembles the HTTP surface of the preview pool service:
// the dispatcher endpoint, health probes, Prometheus metrics, the admin
// API, and the Swagger UI.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tapforge/preview-pool/pkg/middleware"
	"github.com/tapforge/preview-pool/pkg/platform"
)

// Build identity, set via -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const limiterCleanupInterval = time.Minute

// Server runs the HTTP listener over an assembled platform.
type Server struct {
	platform *platform.Platform
	logger   *slog.Logger
	http     *http.Server

	limiter     *middleware.RateLimiter
	stopCleanup chan struct{}
}

// New builds the server from the platform's configuration and components.
func New(p *platform.Platform) *Server {
	cfg := p.Config()
	s := &Server{
		platform:    p,
		logger:      p.Logger(),
		stopCleanup: make(chan struct{}),
	}

	if rl := cfg.Dispatch.RateLimit; rl.Enabled {
		s.limiter = middleware.NewRateLimiter(rl.RequestsPerSecond, rl.Burst, s.logger)
	}

	s.http = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Run starts the listener and blocks until ctx is canceled or the listener
// fails, then shuts the server down within the configured timeout. The
// platform's own Stop/Close remain the caller's responsibility.
func (s *Server) Run(ctx context.Context) error {
	if s.limiter != nil {
		go s.limiter.StartCleanup(limiterCleanupInterval, s.stopCleanup)
	}
	defer close(s.stopCleanup)

	cfg := s.platform.Config().Server

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLS.Enabled {
			s.logger.Info("server: listening", "address", cfg.Address, "tls", true)
			err = s.http.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			s.logger.Info("server: listening", "address", cfg.Address)
			err = s.http.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server: shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// Handler exposes the assembled mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
