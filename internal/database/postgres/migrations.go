package postgres

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"

	"github.com/man-iishkr/RupX/internal/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations returns the embedded migration files.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies all pending migrations.
func (p *Pool) Migrate(ctx context.Context, logger *slog.Logger) error {
	return database.Migrate(ctx, p.db, Dialect, Migrations(), logger)
}

// MigrationsApplied returns the list of applied migrations.
func (p *Pool) MigrationsApplied(ctx context.Context) ([]string, error) {
	return database.AppliedMigrations(ctx, p.db)
}
