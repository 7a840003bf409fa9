// Package postgres owns the database pool and schema migrations.
//
// The pool is pgx-native; stores work against a *sql.DB opened from the same
// pool via the pgx stdlib driver so transactional helpers built on
// database/sql keep working. Migrations are goose-annotated SQL files
// embedded at build time and applied on startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// DB bundles the pgx pool with its database/sql facade.
type DB struct {
	Pool *pgxpool.Pool
	SQL  *sql.DB
}

// Connect opens a pgx pool, verifies connectivity, and wraps it for
// database/sql consumers.
func Connect(ctx context.Context, url string) (*DB, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres URL not configured")
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &DB{
		Pool: pool,
		SQL:  stdlib.OpenDBFromPool(pool),
	}, nil
}

// Migrate applies all pending goose migrations from fsys.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS, logger *slog.Logger) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db.SQL, fsys)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", r.Source.Version, r.Source.Path, r.Error)
		}
		logger.Info("migration applied", "version", r.Source.Version, "file", r.Source.Path)
	}
	return nil
}

// Close releases the pool. The sql.DB facade shares the pool's connections
// and must be closed first.
func (db *DB) Close() {
	_ = db.SQL.Close()
	db.Pool.Close()
}
