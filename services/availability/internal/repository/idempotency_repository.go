package repository

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRepository remembers which booking a client key (or a processed
// webhook event) resolved to.
type IdempotencyRepository interface {
	// Lookup returns the booking id stored for key, or "" when unseen.
	Lookup(ctx context.Context, key string) (string, error)
	// Remember stores key -> bookingID. It reports false if the key was
	// already taken by a concurrent request.
	Remember(ctx context.Context, key, bookingID string) (bool, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type idempotencyRepository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewIdempotencyRepository(pool *pgxpool.Pool) IdempotencyRepository {
	return &idempotencyRepository{pool: pool, ttl: 24 * time.Hour}
}

func hashKey(key string) string {
	// Hash the idempotency key for privacy and consistent length
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum[:])
}

func (r *idempotencyRepository) Lookup(ctx context.Context, key string) (string, error) {
	const q = `SELECT booking_id::text FROM booking_idempotency WHERE key_hash = $1 AND expires_at > now()`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var bookingID string
	err := r.pool.QueryRow(ctx, q, hashKey(key)).Scan(&bookingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return bookingID, nil
}

func (r *idempotencyRepository) Remember(ctx context.Context, key, bookingID string) (bool, error) {
	const q = `INSERT INTO booking_idempotency (key_hash, booking_id, expires_at)
		VALUES ($1, $2::uuid, $3)
		ON CONFLICT (key_hash) DO NOTHING`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, hashKey(key), bookingID, time.Now().Add(r.ttl))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *idempotencyRepository) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `DELETE FROM booking_idempotency WHERE expires_at < now()`
	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
