// Command cron-worker runs the ledger maintenance sweeps under a
// distributed lock.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/gridpay-backend/internal/bills"
	"github.com/angelmondragon/gridpay-backend/internal/bootstrap"
	"github.com/angelmondragon/gridpay-backend/internal/cron"
	"github.com/angelmondragon/gridpay-backend/internal/gateway"
	"github.com/angelmondragon/gridpay-backend/internal/payments"
	stripewebhook "github.com/angelmondragon/gridpay-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/db"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/metrics"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox"
	"github.com/angelmondragon/gridpay-backend/pkg/redis"
)

func main() {
	cfg, logg, err := bootstrap.Load("cron-worker")
	if err != nil {
		bootstrap.Exit(logg, "failed to load config", err)
	}
	if err := run(cfg, logg); err != nil {
		bootstrap.Exit(logg, "cron worker stopped unexpectedly", err)
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

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker", env), 0)
	if err != nil {
		return err
	}
	jobs, err := ledgerJobs(cfg, logg, dbClient)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Cron.Interval.String(),
	})
	logg.Info(ctx, "cron worker starting")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker stopped")
	return nil
}

// ledgerJobs registers pending-payment expiry and the two retention sweeps.
func ledgerJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	outboxRepo := outbox.NewRepository(dbClient.DB())
	gatewayService, err := gateway.NewService(gateway.ServiceParams{
		Logger:   logg,
		DB:       dbClient,
		Payments: payments.NewRepository(dbClient.DB()),
		Bills:    bills.NewRepository(dbClient.DB()),
		Outbox:   outbox.NewService(outboxRepo, logg),
		Currency: cfg.Ledger.Currency,
	})
	if err != nil {
		return nil, err
	}

	pendingExpiry, err := cron.NewPendingExpiryJob(cron.PendingExpiryJobParams{
		Logger:  logg,
		Expirer: gatewayService,
		TTL:     cfg.Ledger.PendingPaymentTTL,
	})
	if err != nil {
		return nil, err
	}
	webhookRetention, err := cron.NewWebhookRetentionJob(logg, dbClient,
		stripewebhook.NewProcessedEventRepository(dbClient.DB()), cfg.Webhooks.EventRetention)
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(logg, dbClient, outboxRepo,
		cfg.Outbox.RetentionWindow, cfg.Outbox.MaxAttempts)
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(pendingExpiry, webhookRetention, outboxRetention)
}
