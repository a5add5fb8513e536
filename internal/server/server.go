// Package server wires and runs every component of the Atlas monitor.
//
// The server follows a structured lifecycle:
//  1. Secret codec and storage initialization
//  2. Check manager, notification router and core engine startup
//  3. HTTP API server launch
//  4. Graceful shutdown on context cancellation
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"atlas-system/internal/api"
	v1 "atlas-system/internal/api/v1"
	"atlas-system/internal/checks"
	"atlas-system/internal/config"
	"atlas-system/internal/core"
	"atlas-system/internal/notify"
	"atlas-system/internal/secret"
	"atlas-system/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// Server represents the main Atlas server orchestrator.
type Server struct {
	cfg *config.Config
}

// New creates a new server instance with the provided configuration.
//
// The server is not started until Start() is called.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg: cfg,
	}
}

// Start initializes every component, serves until ctx is cancelled or the
// HTTP server fails, then shuts everything down in reverse order.
func (s *Server) Start(ctx context.Context) error {
	codec, err := secret.New(s.cfg.Secret.Key)
	if err != nil {
		return fmt.Errorf("failed to initialize secret codec: %w", err)
	}

	// Phase 1: storage; every other component depends on it
	store, err := storage.New(s.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	// Phase 2: checks, notifications and the engine
	checker := checks.NewManager(s.cfg, codec)
	router := notify.NewRouter(s.cfg.Notify, codec)
	engine := core.NewEngine(s.cfg, store.Gateway, checker, router)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer engine.Stop()

	log.Info().Strs("types", checker.GetSupportedTypes()).Msg("Check types registered")

	// Phase 3: HTTP API
	apiServer := api.NewServer(s.cfg.Server, engine, store, v1.Deps{
		Storage: store,
		Queue:   engine,
		Checker: checker,
		Sender:  router,
		Secrets: codec,

		MaxRedirects: s.cfg.Checks.HTTP.MaxRedirects,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	// Phase 4: wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received, starting graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting requests before the engine and storage go away.
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}
