// Package sqlite is the local single-file backend and the default when no
// DATABASE_URL is configured.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/man-iishkr/RupX/internal/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect describes SQLite to the generic store.
var Dialect = database.Dialect{
	Name:         "sqlite",
	InsertIgnore: "INSERT INTO",
	IgnoreSuffix: " ON CONFLICT (project_id, identity_name, window_key) DO NOTHING",
	Vectors:      database.JSONVectors{},
}

// Migrations returns the embedded migration files.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// OpenDB opens the database file and applies connection pragmas.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return db, nil
}

// Open opens the database file, applies migrations and returns a ready store.
func Open(ctx context.Context, path string, loc *time.Location, logger *slog.Logger) (*database.Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, Dialect, Migrations(), logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database.NewStore(db, Dialect, loc, logger), nil
}
