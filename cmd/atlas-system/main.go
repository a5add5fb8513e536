// Package main provides the entry point for the Atlas System monitor.
//
// Atlas polls Windows and Ubuntu hosts, HTTP endpoints, SQL Server
// instances and TCP ports, records their usage and raises notifications
// when a configured threshold is crossed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"atlas-system/internal/api"
	"atlas-system/internal/config"
	"atlas-system/internal/logger"
	"atlas-system/internal/server"
)

// Version information set during build time
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// main is the entry point of the Atlas System monitor.
//
// The startup sequence is as follows:
//  1. Load configuration
//  2. Initialize logger
//  3. Setup graceful shutdown handling
//  4. Start the main server
func main() {
	cfg := loadConfig()
	logger.Setup(cfg.Log)
	api.Version = Version

	log.Info().
		Str("version", Version).
		Str("commit", GitCommit).
		Str("build_time", BuildTime).
		Msg("Starting Atlas System")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg).Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// loadConfig loads application configuration and terminates the program
// immediately if configuration cannot be loaded.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().
			Err(err).
			Msg("Failed to load configuration")
	}
	return cfg
}
