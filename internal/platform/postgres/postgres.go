// Package postgres opens the database handles the stores run on.
//
// The primary handle is a database/sql pool over lib/pq and carries all
// transactional writes. The access gate reads through a separate pgx pool so
// a burst of access checks cannot starve toggle transactions of connections.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

// Open connects the primary database/sql pool and verifies the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OpenReadPool connects the pgx pool used for read-only access checks.
// Falls back to the primary URL when no replica is configured.
func OpenReadPool(ctx context.Context, url, fallbackURL string) (*pgxpool.Pool, error) {
	if url == "" {
		url = fallbackURL
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse read pool config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open read pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping read pool: %w", err)
	}
	return pool, nil
}
