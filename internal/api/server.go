// Package api provides the HTTP API of the Atlas monitor.
// This package implements a RESTful API using the Gin framework.
//
// Example usage:
//
//	server := api.NewServer(cfg.Server, engine, storage, deps)
//	err := server.Start()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	v1 "atlas-system/internal/api/v1"
	"atlas-system/internal/config"
	"atlas-system/internal/core"
	"atlas-system/internal/storage"
)

// Server represents the HTTP API server.
type Server struct {
	config  config.ServerConfig
	engine  *core.Engine
	storage *storage.Storage
	deps    v1.Deps
	router  *gin.Engine
	server  *http.Server
}

// NewServer creates a new HTTP API server instance.
//
// Parameters:
//   - cfg: Server configuration containing address and timeout settings
//   - engine: Core monitoring engine instance
//   - storage: Storage instance for database operations
//   - deps: Services used by the v1 handlers
//
// Returns:
//   - *Server: Configured server, not yet listening
func NewServer(cfg config.ServerConfig, engine *core.Engine, storage *storage.Storage, deps v1.Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:  cfg,
		engine:  engine,
		storage: storage,
		deps:    deps,
		router:  gin.New(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
//
// Returns:
//   - error: Any error that occurred during server startup
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: Any error that occurred during shutdown
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// setupMiddleware configures middleware for the Gin router.
func (s *Server) setupMiddleware() {
	// Request ID middleware (should be first)
	s.router.Use(RequestID())
	s.router.Use(PanicRecovery())
	s.router.Use(SecurityHeaders())
	s.router.Use(LoggerMiddleware())
}
