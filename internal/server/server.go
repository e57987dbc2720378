// Package server runs the controller's HTTP API with optional TLS and HTTP/2.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mir00r/region-failover/internal/config"
	"github.com/mir00r/region-failover/pkg/logger"
)

// Server wraps http.Server with the listener options from config.ServerConfig
type Server struct {
	config config.ServerConfig
	server *http.Server
	logger *logger.Logger
}

// New creates a server for handler. With HTTP/2 enabled and TLS disabled the
// handler is wrapped for cleartext HTTP/2 (h2c).
func New(cfg config.ServerConfig, port int, handler http.Handler, log *logger.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: log.WithField("component", "http_server"),
	}

	h2 := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          cfg.IdleTimeout,
	}
	if cfg.HTTP2 && !cfg.TLS.Enabled {
		handler = h2c.NewHandler(handler, h2)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	if cfg.TLS.Enabled {
		s.server.TLSConfig = &tls.Config{MinVersion: tlsVersion(cfg.TLS.MinVersion)}
		if cfg.HTTP2 {
			if err := http2.ConfigureServer(s.server, h2); err != nil {
				return nil, fmt.Errorf("failed to configure HTTP/2: %w", err)
			}
		} else {
			// a non-nil empty map disables the automatic h2 upgrade
			s.server.TLSNextProto = map[string]func(*http.Server, *tls.Conn, http.Handler){}
		}
	}

	return s, nil
}

// Addr is the configured listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// ListenAndServe listens on the configured address. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.WithFields(map[string]interface{}{
		"addr":        ln.Addr().String(),
		"tls_enabled": s.config.TLS.Enabled,
		"http2":       s.config.HTTP2,
	}).Info("Starting HTTP server")

	var err error
	if s.config.TLS.Enabled {
		err = s.server.ServeTLS(ln, s.config.TLS.CertFile, s.config.TLS.KeyFile)
	} else {
		err = s.server.Serve(ln)
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	start := time.Now()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to shutdown HTTP server")
		return err
	}
	s.logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("HTTP server stopped")
	return nil
}

func tlsVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
