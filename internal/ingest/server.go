// Package ingest exposes the HTTP surface: telemetry push, baseline
// administration, and history/pattern queries.
package ingest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftstack/drift-engine/internal/config"
)

// Server wraps the HTTP listener and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
}

// NewServer builds the router and binds it to the configured address.
func NewServer(cfg config.ServerConfig, handlers *Handlers) *Server {
	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Address,
			Handler:      newRouter(handlers),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}
}

func newRouter(handlers *Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handlers.Health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/telemetry", handlers.PushTelemetry)
		v1.POST("/baseline/fit", handlers.FitBaseline)
		v1.GET("/history", handlers.QueryHistory)
		v1.GET("/history/:correlation_id", handlers.GetHistoryRecord)
		v1.GET("/patterns", handlers.GetPatterns)
		v1.GET("/status", handlers.Status)
	}
	return router
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
