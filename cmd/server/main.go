// Package main is the entry point for the folio valuation server.
//
// The server keeps per-portfolio holdings and the daily valuation series in
// step with the transaction ledger. It exposes an HTTP API for portfolio and
// ledger management, runs recomputation on a background work processor and
// refreshes market data on a cron schedule.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/di"
	"github.com/aristath/folio/internal/server"
	"github.com/aristath/folio/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("base_currency", cfg.BaseCurrency).
		Msg("Starting folio")

	// Databases, repositories, services, work types and jobs
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Recompute and refresh work runs here. Requests accepted by the API
	// before the workers are up simply wait in the queue.
	container.WorkProcessor.Start(ctx)

	container.Scheduler.Start()

	srv := server.New(server.Config{
		Log:       log,
		Databases: container.Databases(),
		EventBus:  container.EventBus,
		Work:      container.WorkProcessor,
		Routes:    di.Routes(container, cfg, log),
		Port:      cfg.Port,
		DevMode:   cfg.LogPretty,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop accepting requests first so no new work is enqueued during shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Deferred Close stops the scheduler and the work processor, then closes
	// the databases.
	log.Info().Msg("Server stopped")
}
