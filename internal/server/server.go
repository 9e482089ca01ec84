// Package server exposes metrics, health and parser status over plain HTTP
// on the metrics port.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/frameparser/internal/config"
	"github.com/zsiec/frameparser/internal/health"
	"github.com/zsiec/frameparser/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Server is the diagnostics HTTP server.
type Server struct {
	config     *config.MetricsConfig
	router     *mux.Router
	httpServer *http.Server
	logger     *logrus.Logger
	healthMgr  *health.Manager

	setup sync.Once

	// Additional handlers can be registered
	additionalRoutes []func(*mux.Router)
}

// New creates a new server instance.
func New(cfg *config.MetricsConfig, log *logrus.Logger, healthMgr *health.Manager) *Server {
	return &Server{
		config:           cfg,
		router:           mux.NewRouter(),
		logger:           log,
		healthMgr:        healthMgr,
		additionalRoutes: make([]func(*mux.Router), 0),
	}
}

// Start serves until ctx is done, then shuts down gracefully. Health checks
// run every HealthInterval while the server is up.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.healthMgr.StartPeriodicChecks(ctx, s.config.HealthInterval)

	s.logger.WithFields(logrus.Fields{
		"port": s.config.Port,
		"path": s.config.Path,
	}).Info("Starting diagnostics server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down diagnostics server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Handler returns the router with every route and middleware installed.
func (s *Server) Handler() http.Handler {
	s.setup.Do(s.setupRoutes)
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metricsMiddleware)

	s.router.Handle(s.config.Path, promhttp.Handler()).Methods("GET")

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/healthz", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	for _, registerFunc := range s.additionalRoutes {
		registerFunc(s.router)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
}

// RegisterRoutes adds route handlers. It must be called before Start.
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}
