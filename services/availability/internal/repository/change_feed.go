package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChangeFeed delivers Postgres NOTIFY payloads from one channel.
type ChangeFeed interface {
	// Listen blocks, calling fn for every notification until ctx is done or
	// the connection fails.
	Listen(ctx context.Context, channel string, fn func(payload string)) error
}

type changeFeed struct {
	pool *pgxpool.Pool
}

func NewChangeFeed(pool *pgxpool.Pool) ChangeFeed {
	return &changeFeed{pool: pool}
}

func (f *changeFeed) Listen(ctx context.Context, channel string, fn func(payload string)) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		fn(n.Payload)
	}
}
