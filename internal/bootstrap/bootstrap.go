// Package bootstrap holds the start-up steps shared by the gridpay binaries.
package bootstrap

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/db"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/migrate"
)

// Load reads .env when present, then the environment, and returns the
// config with a logger configured from it. On failure the returned logger is
// still usable.
func Load(service string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, logg, err
	}
	return cfg, NewLogger(service, cfg.App), nil
}

// NewLogger builds the service logger from the app settings.
func NewLogger(service string, app config.AppConfig) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(app.LogLevel),
		WarnStack:   app.LogWarnStack,
		Console:     app.ConsoleLogs(),
	})
}

// Database opens the pool and applies dev migrations when enabled. The
// returned func closes the pool and logs any error.
func Database(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*db.Client, func(), error) {
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := client.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}
	if err := migrate.MaybeRunDev(ctx, cfg, logg, client); err != nil {
		closeDB()
		return nil, nil, err
	}
	return client, closeDB, nil
}

// Exit logs err and terminates the process with status 1.
func Exit(logg *logger.Logger, msg string, err error) {
	logg.Error(context.Background(), msg, err)
	os.Exit(1)
}
