// Package main is the entry point for the market data service: a
// cache-through layer over external market data providers with ordered
// fallback chains, per-source circuit breakers and rate limiters, and
// background refresh of stale entries.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/marketdata/internal/config"
	"github.com/aristath/marketdata/internal/di"
	"github.com/aristath/marketdata/internal/server"
	"github.com/aristath/marketdata/pkg/logger"
)

// main orchestrates the startup sequence:
// 1. Load configuration from environment variables
// 2. Initialize logging
// 3. Wire all dependencies via the DI container
// 4. Start scheduled jobs and the optional trade stream
// 5. Start the HTTP server
// 6. Wait for shutdown signal and perform graceful shutdown
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting market data service")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	container.Scheduler.Start()

	if container.Stream != nil {
		if err := container.Stream.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start trade stream, continuing without it")
		}
	}

	srvCfg := server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Manager:  container.Manager,
		Resolver: container.Resolver,
		Analysis: container.AnalysisService,
		CacheDB:  container.CacheDB,
	}
	// Assign only when present: a nil *BackupService stored in the
	// interface would dodge the handler's nil check.
	if container.BackupService != nil {
		srvCfg.Backups = container.BackupService
	}
	srv := server.New(srvCfg)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
