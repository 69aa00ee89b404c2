// Package api exposes the gateway over HTTP: JSON endpoints for every
// SIP2 operation, branch and health introspection, Prometheus metrics and
// a websocket dashboard stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sip2gate/sip2gate"
)

// ServerConfig sizes the HTTP listener.
type ServerConfig struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Server runs the HTTP listener in front of a Gateway.
type Server struct {
	log      zerolog.Logger
	cfg      ServerConfig
	server   *http.Server
	stopOnce sync.Once
}

// NewServer builds a stopped server; Start begins serving.
func NewServer(cfg ServerConfig, gw *sip2gate.Gateway) *Server {
	cfg.applyDefaults()
	logger := log.Logger.With().Str("caller", "apiServer").Logger()

	return &Server{
		log: logger,
		cfg: cfg,
		server: &http.Server{
			Addr:         cfg.Listen,
			Handler:      NewRouter(gw, logger),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start serves until the context is canceled, then shuts down gracefully
// under the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.cfg.Listen).Msg("http server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Stop shuts the listener down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		err = s.server.Shutdown(ctx)
	})
	return err
}
