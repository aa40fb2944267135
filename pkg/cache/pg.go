package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgLogPrefix = "cache:pg"

// NewPool creates a new pgx connection pool from the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to cache database", pgLogPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", pgLogPrefix, err)
	}

	// Set sensible pool defaults
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", pgLogPrefix, err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", pgLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Cache database connection established", pgLogPrefix))
	return pool, nil
}

// Ensure creates the render cache schema if it does not exist.
func Ensure(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Ensuring render_cache schema", pgLogPrefix))

	_, err := pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS render_cache (
			digest   text PRIMARY KEY,
			envelope text NOT NULL,
			created  timestamptz NOT NULL DEFAULT now(),
			modified timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("%s - failed to ensure schema: %w", pgLogPrefix, err)
	}
	return nil
}

// PGStore is a Postgres-backed Store, for deployments where rendered formulas
// must survive restarts and be shared between instances.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore over the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Get returns the envelope stored under key.
func (s *PGStore) Get(ctx context.Context, key string) (string, bool, error) {
	var envelope string
	err := s.pool.QueryRow(ctx,
		`SELECT envelope FROM render_cache WHERE digest = $1`, key).Scan(&envelope)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s - failed to read %s: %w", pgLogPrefix, key, err)
	}
	return envelope, true, nil
}

// Put stores an envelope under key, overwriting any previous entry.
func (s *PGStore) Put(ctx context.Context, key, envelope string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO render_cache (digest, envelope, created, modified)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (digest) DO UPDATE SET envelope = EXCLUDED.envelope, modified = EXCLUDED.modified`,
		key, envelope, now)
	if err != nil {
		return fmt.Errorf("%s - failed to write %s: %w", pgLogPrefix, key, err)
	}
	return nil
}
