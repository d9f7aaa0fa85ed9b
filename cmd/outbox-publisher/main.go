// Command outbox-publisher relays queued ledger events to Pub/Sub.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/gridpay-backend/internal/bootstrap"
	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/metrics"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox/registry"
	"github.com/angelmondragon/gridpay-backend/pkg/pubsub"
)

func main() {
	cfg, logg, err := bootstrap.Load("outbox-publisher")
	if err != nil {
		bootstrap.Exit(logg, "failed to load config", err)
	}
	if err := run(cfg, logg); err != nil {
		bootstrap.Exit(logg, "outbox publisher stopped unexpectedly", err)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, closeDB, err := bootstrap.Database(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeDB()

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return err
	}
	ps, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	// Close flushes publishers, so it runs after the relay has stopped.
	defer func() {
		if err := ps.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	relay, err := NewRelay(RelayParams{
		Settings: cfg.Outbox,
		Logger:   logg,
		DB:       dbClient,
		Outbox:   outbox.NewRepository(dbClient.DB()),
		DLQ:      outbox.NewDLQRepository(dbClient.DB()),
		Registry: events,
		Topics:   pubsubTopics{client: ps},
		Metrics:  metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"batch_size": cfg.Outbox.BatchSize,
		"topics":     events.Topics(),
	})
	logg.Info(ctx, "outbox publisher starting")
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "outbox publisher stopped")
	return nil
}
