package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

// autoRunEnabled gates boot-time migrations. Outside dev the schema moves
// only through cmd/migrate.
func autoRunEnabled(cfg *config.Config) bool {
	return cfg != nil && cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate
}

// MaybeRunDev applies pending migrations when running in dev with
// FULFILLMENT_AUTO_MIGRATE set. Every binary calls it before wiring services.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !autoRunEnabled(cfg) {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "service": cfg.Service.Kind})
	results, err := Up(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("dev auto-migrate: %w", err)
	}
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		logg.Debug(logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"duration_ms": res.Duration.Milliseconds(),
		}), "migration applied")
	}

	logg.Info(logg.WithField(ctx, "applied", len(results)), "dev migrations up to date")
	return nil
}
