package migrate

import (
	"context"
	"fmt"

	"github.com/aspyhq/aspy-backend/pkg/config"
	"github.com/aspyhq/aspy-backend/pkg/db"
	"github.com/aspyhq/aspy-backend/pkg/logger"
)

// MaybeRunDev applies the embedded billing schema on startup when running in
// dev with ASPY_AUTO_MIGRATE set. Other environments migrate through cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if err := ValidateEmbedded(); err != nil {
		return fmt.Errorf("embedded migrations invalid: %w", err)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	files, _ := Files()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "migrations": len(files)})
	logg.Info(ctx, "applying billing schema")

	if err := Run(ctx, sqlDB, EmbeddedDir, "up"); err != nil {
		return err
	}
	logg.Info(ctx, "billing schema up to date")
	return nil
}
