package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/man-iishkr/RupX/internal/config"
	"github.com/man-iishkr/RupX/internal/database"
	"github.com/man-iishkr/RupX/internal/database/mariadb"
	"github.com/man-iishkr/RupX/internal/database/postgres"
	"github.com/man-iishkr/RupX/internal/database/sqlite"
)

// openBackend connects to the configured database and applies pending
// migrations.
func openBackend(ctx context.Context, cfg *config.Config, loc *time.Location, logger *slog.Logger) (*database.Store, error) {
	var (
		store *database.Store
		err   error
	)
	switch cfg.Database.Driver {
	case "postgres":
		store, err = postgres.Open(ctx, &cfg.Database, loc, logger)
	case "mariadb":
		store, err = mariadb.Open(ctx, &cfg.Database, loc, logger)
	case "sqlite":
		store, err = sqlite.Open(ctx, cfg.Database.SQLitePath, loc, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Database.Driver, err)
	}
	logger.Info("database ready", "driver", cfg.Database.Driver)
	return store, nil
}

// engineEnv is what every command that touches data needs.
type engineEnv struct {
	cfg     *config.Config
	logger  *slog.Logger
	loc     *time.Location
	backend *database.Store
}

func setupEngineEnv(ctx context.Context) (*engineEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Attendance.Location()
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(ctx, cfg, loc, logger)
	if err != nil {
		return nil, err
	}
	return &engineEnv{cfg: cfg, logger: logger, loc: loc, backend: backend}, nil
}

func (e *engineEnv) Close() {
	if err := e.backend.Close(); err != nil {
		e.logger.Warn("closing database", "error", err)
	}
}
