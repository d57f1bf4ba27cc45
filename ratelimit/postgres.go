package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore shares cooldowns between service instances through the
// rate_limits table.
type PostgresStore struct {
	pool DBPool
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

func NewPostgresStore(pool DBPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Hit(ctx context.Context, key string, now time.Time, cooldown time.Duration) (bool, error) {
	var recorded string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rate_limits (key, last_seen)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET last_seen = EXCLUDED.last_seen
		WHERE rate_limits.last_seen <= $3
		RETURNING key
	`, key, now, now.Add(-cooldown)).Scan(&recorded)
	if err != nil {
		// The conflicting row was too recent, so nothing was returned.
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("record rate limit hit: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Sweep(ctx context.Context, cutoff time.Time) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE last_seen < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("sweep rate limits: %w", err)
	}
	return nil
}
