// Package db owns the Postgres pool shared by the API and worker binaries.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing leaves headroom for the worker's tick transactions next to the
// API's request load on the same database.
const (
	maxConns        = 24
	minConns        = 2
	connLifetime    = 30 * time.Minute
	connIdleTimeout = 10 * time.Minute
)

// Connect parses the connection string, applies the pool tuning, and pings
// once so a bad DATABASE_URL fails at startup instead of on first request.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = connLifetime
	cfg.MaxConnIdleTime = connIdleTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}
