// Package server assembles the gin router and HTTP server.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/handlers"
	"github.com/neurastack/gateway/internal/middleware"
	"github.com/neurastack/gateway/internal/observability"
)

// maxBodyBytes bounds request bodies; prompts are validated per-tier below
// this.
const maxBodyBytes = 1 << 20

// Server is the HTTP front of the gateway.
type Server struct {
	http   *http.Server
	logger *logrus.Logger
}

// Handlers groups the route handlers the server mounts.
type Handlers struct {
	Ensemble *handlers.EnsembleHandler
	Estimate *handlers.EstimateHandler
	Health   *handlers.HealthHandler
}

// New builds the router and server.
func New(cfg config.ServerConfig, monitoring config.MonitoringConfig, h Handlers, metrics *observability.Collector, logger *logrus.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.Recovery(logger),
		middleware.CorrelationID(),
		middleware.BodyLimit(maxBodyBytes),
		middleware.RequestLogger(logger, metrics),
	)

	router.POST("/ensemble", h.Ensemble.Handle)
	router.POST("/estimate", h.Estimate.Handle)
	router.GET("/healthz", h.Health.Handle)

	if monitoring.Enabled && metrics != nil {
		router.GET(monitoring.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	return &Server{
		http: &http.Server{
			Addr:         cfg.Host + ":" + cfg.Port,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	if s.logger != nil {
		s.logger.WithField("addr", s.http.Addr).Info("gateway listening")
	}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
