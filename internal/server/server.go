// Package server provides the HTTP and WebSocket surface for recalld.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/services"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server exposes the CRUD surface, the recognition WebSocket, and the
// health/metrics endpoints.
type Server struct {
	echo     *echo.Echo
	registry services.Registry
	logger   *logging.Logger
	config   *Config
}

// NewServer creates the HTTP server.
func NewServer(registry services.Registry, logger *logging.Logger, cfg *Config) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("service registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8000,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		registry: registry,
		logger:   logger.Named("server"),
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Live recognition protocol
	s.echo.GET("/ws", s.handleWS)

	// Identity CRUD
	s.echo.GET("/people", s.handleListPeople)
	s.echo.GET("/people/:id", s.handleGetPerson)
	s.echo.POST("/people", s.handleCreatePerson)
	s.echo.DELETE("/people/:id", s.handleDeletePerson)
	s.echo.POST("/register-face/:id", s.handleRegisterFace)
	s.echo.POST("/cache/refresh", s.handleRefreshCache)

	// Memory capture helpers
	s.echo.POST("/extract", s.handleExtract)
	s.echo.POST("/transcribe", s.handleTranscribe)
}

// Echo exposes the underlying router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server and blocks until Shutdown or failure.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
