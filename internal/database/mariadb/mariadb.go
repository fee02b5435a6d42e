// Package mariadb is the MariaDB/MySQL backend.
package mariadb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/man-iishkr/RupX/internal/config"
	"github.com/man-iishkr/RupX/internal/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect describes MariaDB to the generic store. INSERT IGNORE reports zero
// affected rows on a duplicate window.
var Dialect = database.Dialect{
	Name:         "mariadb",
	InsertIgnore: "INSERT IGNORE INTO",
	FromDual:     " FROM DUAL",
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

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MariaDB connection pool.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	db, err := sql.Open("mysql", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Migrate applies all pending migrations.
func (p *Pool) Migrate(ctx context.Context, logger *slog.Logger) error {
	return database.Migrate(ctx, p.db, Dialect, Migrations(), logger)
}

// Open connects, applies migrations and returns a ready store.
func Open(ctx context.Context, cfg *config.DatabaseConfig, loc *time.Location, logger *slog.Logger) (*database.Store, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(ctx, logger); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database.NewStore(pool.db, Dialect, loc, logger), nil
}
