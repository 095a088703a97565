package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitRepository is a fixed-window counter stored in the rate_limits
// table. It satisfies middleware.Limiter.
type RateLimitRepository interface {
	Allow(ctx context.Context, key string) (bool, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type rateLimitRepository struct {
	pool     *pgxpool.Pool
	requests int
	window   time.Duration
}

func NewRateLimitRepository(pool *pgxpool.Pool, requests int, window time.Duration) RateLimitRepository {
	return &rateLimitRepository{pool: pool, requests: requests, window: window}
}

func (r *rateLimitRepository) Allow(ctx context.Context, key string) (bool, error) {
	// Use PostgreSQL UPSERT to atomically check and update rate limit
	const q = `
		INSERT INTO rate_limits (rl_key, count, window_start, expires_at)
		VALUES ($1, 1, $4, $3)
		ON CONFLICT (rl_key) DO UPDATE SET
			count = CASE
				WHEN rate_limits.window_start < $2 THEN 1
				ELSE rate_limits.count + 1
			END,
			window_start = CASE
				WHEN rate_limits.window_start < $2 THEN $4
				ELSE rate_limits.window_start
			END,
			expires_at = $3
		RETURNING count`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	now := time.Now()
	var count int
	if err := r.pool.QueryRow(ctx, q, hashKey(key), now.Add(-r.window), now.Add(r.window), now).Scan(&count); err != nil {
		return false, err
	}
	return count <= r.requests, nil
}

func (r *rateLimitRepository) CleanupExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM rate_limits WHERE expires_at < now()`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
