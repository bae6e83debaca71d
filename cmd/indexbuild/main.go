// Command indexbuild downloads the address catalogue and stores a fresh
// address index in the configured storage backend.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waste_reminder_bot/internal/app"
	"waste_reminder_bot/internal/infra/config"
	"waste_reminder_bot/internal/infra/logger"
	"waste_reminder_bot/internal/infra/storage"
	"waste_reminder_bot/internal/infra/upstream"
	"waste_reminder_bot/internal/observability"

	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Component("indexbuild")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Could not open storage")
	}
	defer backend.Close()

	catalogue := upstream.NewCatalogueClient(cfg.AddressAPIURL, upstream.Options{
		Timeout:     cfg.HTTPTimeout,
		MaxAttempts: cfg.FetchMaxAttempts,
		RetryDelay:  cfg.FetchRetryDelay,
		MaxDelay:    30 * time.Second,
	}, log)
	resolver := app.NewAddressResolver(catalogue, backend.Index, clockwork.NewRealClock(), cfg.IndexRefreshInterval, cfg.MatchTolerance, observability.NewMetrics(), log)

	start := time.Now()
	idx, err := resolver.Rebuild(ctx)
	if err != nil {
		log.WithError(err).Error("Address index build failed")
		backend.Close()
		os.Exit(1)
	}
	log.WithField("records", idx.Len()).WithField("duration", time.Since(start)).Info("Address index built")
}
