// Package server hosts the HTTP endpoints of the appview behind a shared
// middleware chain.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/syntrixbase/appview/internal/server/ratelimit"
)

type serverImpl struct {
	cfg    Config
	logger *slog.Logger

	// HTTP State
	httpMux    *http.ServeMux
	httpServer *http.Server
	listener   net.Listener

	rateLimiter ratelimit.Limiter

	// Lifecycle State
	mu      sync.Mutex
	started bool
	port    int
}

// New creates a new Service instance. The Prometheus exposition is mounted
// at /metrics.
func New(cfg Config, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	s := &serverImpl{
		cfg:     cfg,
		logger:  logger,
		httpMux: http.NewServeMux(),
	}

	if cfg.RateLimit.Enabled {
		s.rateLimiter = ratelimit.NewBucketLimiter(cfg.RateLimit)
	}

	s.httpMux.Handle("GET /metrics", promhttp.Handler())
	return s
}

func (s *serverImpl) Listen() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.port, nil
	}
	port, err := s.bind()
	if err != nil {
		return 0, err
	}
	s.port = port
	s.logger.Info("HTTP listener bound", "port", port)
	return port, nil
}

func (s *serverImpl) Start(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true

	// Initialize HTTP Server while holding the lock
	s.initHTTPServer()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go s.runHTTPServer(errChan)

	// Serve returns after Stop, or earlier on a fatal error.
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *serverImpl) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.httpServer != nil {
		s.logger.Info("Stopping HTTP server")
		if serr := s.httpServer.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("http shutdown error: %w", serr)
		}
	} else if s.listener != nil {
		// Bound but never served.
		s.listener.Close()
	}
	return err
}

func (s *serverImpl) RegisterHTTPHandler(pattern string, handler http.Handler) {
	s.httpMux.Handle(pattern, handler)
}

func (s *serverImpl) HTTPMux() *http.ServeMux {
	return s.httpMux
}
