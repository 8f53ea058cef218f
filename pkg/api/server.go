package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/goclaw/memopt/config"
	"github.com/goclaw/memopt/pkg/logger"
)

// HTTPServer serves the memopt API.
type HTTPServer struct {
	httpCfg config.HTTPConfig
	server  *http.Server
	router  chi.Router
	log     logger.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewHTTPServer builds the router and an http.Server bound to
// cfg.Server.Address(). Nothing listens until Start or Serve.
func NewHTTPServer(cfg *config.Config, log logger.Logger, h *Handlers) *HTTPServer {
	router := NewRouter(cfg, log, h)
	httpCfg := cfg.Server.HTTP

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadTimeout:       httpCfg.ReadTimeout,
		ReadHeaderTimeout: httpCfg.ReadTimeout,
		WriteTimeout:      httpCfg.WriteTimeout,
		IdleTimeout:       httpCfg.IdleTimeout,
		MaxHeaderBytes:    httpCfg.MaxHeaderBytes,
	}
	// net/http's own errors (TLS handshakes, broken connections) go to
	// the structured log at warn.
	if sl, ok := log.(interface{ Slog() *slog.Logger }); ok {
		srv.ErrorLog = slog.NewLogLogger(sl.Slog().With("component", "http").Handler(), slog.LevelWarn)
	}

	return &HTTPServer{httpCfg: httpCfg, server: srv, router: router, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address, nil before Serve.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens on the configured address and serves until Shutdown.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. A clean shutdown returns nil.
func (s *HTTPServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.log.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"read_timeout", s.httpCfg.ReadTimeout,
		"write_timeout", s.httpCfg.WriteTimeout,
		"request_timeout", s.httpCfg.RequestTimeout,
	)
	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
