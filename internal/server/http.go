// Package server exposes the HTTP control surface: the JSON API, the
// WebSocket event stream and the Prometheus endpoint.
package server

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the daemon's HTTP front end.
type Server struct {
	mux      *http.ServeMux
	handlers *Handlers
	srv      *http.Server
	logger   *log.Logger
}

// NewServer wires the routes. reg is the registry the daemon's metrics
// live on.
func NewServer(addr string, handlers *Handlers, reg *prometheus.Registry, logger *log.Logger) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		handlers: handlers,
		logger:   logger,
	}
	s.srv = &http.Server{Addr: addr, Handler: s.mux}
	s.setupRoutes(reg)
	return s
}

func (s *Server) setupRoutes(reg *prometheus.Registry) {
	s.mux.HandleFunc("/api/transmit", s.handlers.HandleTransmit)
	s.mux.HandleFunc("/api/cancel", s.handlers.HandleCancel)
	s.mux.HandleFunc("/api/status", s.handlers.HandleStatus)
	s.mux.HandleFunc("/api/rates", s.handlers.HandleRates)
	s.mux.HandleFunc("/api/reset", s.handlers.HandleReset)

	s.mux.HandleFunc("/ws", s.handlers.HandleWebSocket)

	s.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

// Handler returns the route tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
