// Package postgres is the PostgreSQL backend, storing identity vectors in
// pgvector columns.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/man-iishkr/RupX/internal/config"
	"github.com/man-iishkr/RupX/internal/database"
)

// Dialect describes PostgreSQL to the generic store.
var Dialect = database.Dialect{
	Name:         "postgres",
	Numbered:     true,
	InsertIgnore: "INSERT INTO",
	IgnoreSuffix: " ON CONFLICT (project_id, identity_name, window_key) DO NOTHING",
	Vectors:      vectorCodec{},
}

type vectorCodec struct{}

func (vectorCodec) Value(v []float32) any { return pgvector.NewVector(v) }

func (vectorCodec) Scanner() database.VectorScanner { return new(pgvector.Vector) }

// Pool manages a PostgreSQL connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
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

// Open connects, applies migrations and returns a ready store.
func Open(ctx context.Context, cfg *config.DatabaseConfig, loc *time.Location, logger *slog.Logger) (*database.Store, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err := pool.Migrate(ctx, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database.NewStore(pool.db, Dialect, loc, logger), nil
}
