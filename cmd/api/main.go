package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/gridpay-backend/api/controllers"
	"github.com/angelmondragon/gridpay-backend/api/routes"
	"github.com/angelmondragon/gridpay-backend/internal/bills"
	"github.com/angelmondragon/gridpay-backend/internal/bootstrap"
	"github.com/angelmondragon/gridpay-backend/internal/customers"
	"github.com/angelmondragon/gridpay-backend/internal/employees"
	"github.com/angelmondragon/gridpay-backend/internal/gateway"
	"github.com/angelmondragon/gridpay-backend/internal/payments"
	"github.com/angelmondragon/gridpay-backend/internal/reconciliation"
	stripewebhook "github.com/angelmondragon/gridpay-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/gridpay-backend/pkg/auth"
	"github.com/angelmondragon/gridpay-backend/pkg/bigquery"
	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/metrics"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox"
	"github.com/angelmondragon/gridpay-backend/pkg/redis"
	"github.com/angelmondragon/gridpay-backend/pkg/square"
	pkgstripe "github.com/angelmondragon/gridpay-backend/pkg/stripe"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, logg, err := bootstrap.Load("api")
	if err != nil {
		bootstrap.Exit(logg, "failed to load config", err)
	}
	if err := run(cfg, logg); err != nil {
		bootstrap.Exit(logg, "api server stopped unexpectedly", err)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	bootCtx := context.Background()

	dbClient, closeDB, err := bootstrap.Database(bootCtx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeDB()

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	tokens, err := auth.NewTokens(cfg.JWT)
	if err != nil {
		return err
	}

	stripeClient, err := pkgstripe.NewClient(bootCtx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	var terminal gateway.TerminalRefunds
	if cfg.Square.Enabled() {
		squareClient, err := square.NewClient(bootCtx, cfg.Square, logg)
		if err != nil {
			return err
		}
		terminal = squareClient
	} else {
		logg.Warn(bootCtx, "square access token not set, card-terminal refunds disabled")
	}

	loc, err := cfg.Ledger.Location()
	if err != nil {
		return err
	}

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)
	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	paymentRepo := payments.NewRepository(dbClient.DB())
	billRepo := bills.NewRepository(dbClient.DB())
	employeeRepo := employees.NewRepository(dbClient.DB())

	refunder := gateway.NewRefunder(gateway.RefunderParams{
		Logger:   logg,
		Stripe:   stripeClient,
		Terminal: terminal,
		Currency: cfg.Ledger.Currency,
	})

	paymentService, err := payments.NewService(payments.ServiceParams{
		Logger:    logg,
		DB:        dbClient,
		Payments:  paymentRepo,
		Bills:     billRepo,
		Employees: employeeRepo,
		Outbox:    outboxService,
		Refunder:  refunder,
		Policy:    payments.PolicyFromConfig(cfg.Ledger),
		Metrics:   ledgerMetrics,
	})
	if err != nil {
		return err
	}

	gatewayService, err := gateway.NewService(gateway.ServiceParams{
		Logger:    logg,
		DB:        dbClient,
		Payments:  paymentRepo,
		Bills:     billRepo,
		Customers: customers.NewRepository(dbClient.DB()),
		Stripe:    stripeClient,
		Outbox:    outboxService,
		Metrics:   ledgerMetrics,
		Currency:  cfg.Ledger.Currency,
	})
	if err != nil {
		return err
	}

	archive, closeArchive, err := buildArchive(bootCtx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeArchive()

	reportPolicy, err := reconciliation.PolicyFromConfig(cfg.Ledger)
	if err != nil {
		return err
	}
	reportService, err := reconciliation.NewService(reconciliation.ServiceParams{
		Logger:    logg,
		Payments:  paymentRepo,
		Bills:     billRepo,
		Employees: employeeRepo,
		Archive:   archive,
		Policy:    reportPolicy,
	})
	if err != nil {
		return err
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Logger:            logg,
		TransactionRunner: dbClient,
		Events:            stripewebhook.NewProcessedEventRepository(dbClient.DB()),
		Gateway:           gatewayService,
	})
	if err != nil {
		return err
	}
	dispatcher, err := stripewebhook.NewDispatcher(stripewebhook.DispatcherParams{
		Logger:         logg,
		Handler:        webhookService,
		Metrics:        webhookMetrics,
		Workers:        cfg.Webhooks.Workers,
		QueueSize:      cfg.Webhooks.QueueSize,
		ProcessTimeout: cfg.Webhooks.ProcessTimeout,
	})
	if err != nil {
		return err
	}
	dispatcher.Start()

	handler := routes.NewRouter(cfg, logg, routes.Dependencies{
		Tokens:           tokens,
		Payments:         paymentService,
		Gateway:          gatewayService,
		Reports:          reportService,
		Webhooks:         dispatcher,
		Stripe:           stripeClient,
		IdempotencyStore: redisClient,
		RateLimitStore:   redisClient,
		HTTPMetrics:      httpMetrics,
		MetricsHandler:   promhttp.Handler(),
		Ready: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		ReportLocation: loc,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "http shutdown incomplete", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Webhooks.ShutdownTimeout)
	defer cancelDrain()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		logg.Error(ctx, "webhook dispatcher did not drain", err)
	}
	return nil
}

// buildArchive returns the BigQuery reconciliation archive when enabled.
func buildArchive(ctx context.Context, cfg *config.Config, logg *logger.Logger) (reconciliation.Archive, func(), error) {
	noop := func() {}
	if !cfg.FeatureFlags.ArchiveReconciles {
		return nil, noop, nil
	}
	client, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return nil, noop, err
	}
	archive, err := reconciliation.NewBigQueryArchive(client, cfg.BigQuery.ReconciliationTable)
	if err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery", err)
		}
	}
	return archive, closeFn, nil
}
