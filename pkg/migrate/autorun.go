package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/db"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on boot in dev environments
// with GRIDPAY_AUTO_MIGRATE set. Other environments run cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	m, err := New(sqlDB, Embedded(), logg)
	if err != nil {
		return err
	}
	logg.Info(ctx, "auto-migrating dev database")
	return m.Up(ctx)
}
