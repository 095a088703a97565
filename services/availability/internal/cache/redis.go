package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "availability:"

// Redis is a Store shared between service replicas. Freshness is enforced by
// key expiry rather than a stored timestamp.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl, prefix: defaultRedisPrefix}
}

// NewRedisFromURL parses a redis:// URL and returns a Store bound to it.
func NewRedisFromURL(url, password string, db int, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DB = db
	return NewRedis(redis.NewClient(opts), ttl), nil
}

func (r *Redis) redisKey(key Key) string {
	return r.prefix + key.String()
}

func (r *Redis) Get(ctx context.Context, key Key) ([]domain.Booking, bool, error) {
	raw, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var bookings []domain.Booking
	if err := json.Unmarshal(raw, &bookings); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return bookings, true, nil
}

func (r *Redis) Set(ctx context.Context, key Key, bookings []domain.Booking) error {
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	raw, err := json.Marshal(bookings)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.redisKey(key), raw, r.ttl).Err()
}

func (r *Redis) InvalidateSpace(ctx context.Context, spaceID string) (int, error) {
	pattern := r.prefix + escapeGlob(SpacePrefix(spaceID)) + "*"

	removed := 0
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			n, err := r.client.Del(ctx, batch...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	if len(batch) > 0 {
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, nil
}

// escapeGlob escapes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Ping checks connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
