// Package server implements the server half of the transport: the push-
// stream hub, the protocol dispatcher, and the HTTP surface binding them
// together.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/capwire/capwire/capability"
)

// Config for the transport server. Defaults can be loaded via envdecode.
type Config struct {
	// Addr to bind, like ":8000". ENV: CAPWIRE_ADDR
	Addr string `env:"CAPWIRE_ADDR,default=:8000"`
	// Name reported in the initialize result. ENV: CAPWIRE_SERVER_NAME
	Name string `env:"CAPWIRE_SERVER_NAME,default=capwire-server"`
	// Version reported in the initialize result. ENV: CAPWIRE_SERVER_VERSION
	Version string `env:"CAPWIRE_SERVER_VERSION,default=1.0.0"`
	// ShutdownTimeout bounds graceful shutdown. ENV: CAPWIRE_SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `env:"CAPWIRE_SHUTDOWN_TIMEOUT,default=10s"`
}

// ConfigFromEnv populates a Config using envdecode; struct tags supply the
// defaults.
func ConfigFromEnv() Config {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return cfg
}

// Server hosts the transport over a capability provider.
type Server struct {
	cfg  Config
	log  *slog.Logger
	hub  *Hub
	disp *Dispatcher
	h    *Handler
}

// New assembles a server around provider.
func New(cfg Config, provider capability.Provider, log *slog.Logger) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("capability provider is required")
	}
	if log == nil {
		log = slog.Default()
	}

	hub := NewHub(log)
	disp := NewDispatcher(provider, ServerInfo{Name: cfg.Name, Version: cfg.Version}, log)

	return &Server{
		cfg:  cfg,
		log:  log,
		hub:  hub,
		disp: disp,
		h:    NewHandler(disp, hub, log),
	}, nil
}

// Handler exposes the HTTP surface, mainly for tests that want to mount it
// on their own listener.
func (s *Server) Handler() http.Handler { return s.h }

// Serve binds the configured address and blocks until ctx is cancelled or
// the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.h,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", slog.String("addr", s.cfg.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.disp.Close()
	_ = s.hub.Close()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
