package service

import (
	"context"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/logger"
)

// Pruner deletes rows whose retention has lapsed.
type Pruner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// RunExpiry releases stale pending bookings and runs every pruner each
// interval until ctx is done.
func RunExpiry(ctx context.Context, bookings BookingService, interval time.Duration, pruners ...Pruner) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweep(ctx, bookings, pruners)
		}
	}
}

func sweep(ctx context.Context, bookings BookingService, pruners []Pruner) {
	n, err := bookings.ExpirePending(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Pending booking sweep failed", "error", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "Expired pending bookings", "count", n)
	}

	for _, p := range pruners {
		if removed, err := p.CleanupExpired(ctx); err != nil {
			logger.ErrorContext(ctx, "Expired row cleanup failed", "error", err)
		} else if removed > 0 {
			logger.DebugContext(ctx, "Removed expired rows", "count", removed)
		}
	}
}
