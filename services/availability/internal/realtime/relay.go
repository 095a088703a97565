package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/events"
	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/repository"
)

const (
	relayMinBackoff = time.Second
	relayMaxBackoff = 30 * time.Second
)

// Relay republishes row-level booking notifications from Postgres onto the
// event bus so writes made outside this service reach every listener.
type Relay struct {
	feed      repository.ChangeFeed
	publisher events.Publisher
	channel   string
	now       func() time.Time
}

func NewRelay(feed repository.ChangeFeed, publisher events.Publisher, channel string) *Relay {
	return &Relay{feed: feed, publisher: publisher, channel: channel, now: time.Now}
}

// Run listens until ctx is done, reconnecting with exponential backoff when
// the notification connection drops.
func (r *Relay) Run(ctx context.Context) error {
	backoff := relayMinBackoff
	for {
		started := r.now()
		err := r.feed.Listen(ctx, r.channel, func(payload string) {
			r.forward(ctx, payload)
		})
		if ctx.Err() != nil {
			return nil
		}

		// a connection that stayed up for a while resets the backoff
		if r.now().Sub(started) > relayMaxBackoff {
			backoff = relayMinBackoff
		}
		logger.WarnContext(ctx, "Booking change feed disconnected", "error", err, "retry_in", backoff.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, relayMaxBackoff)
	}
}

func (r *Relay) forward(ctx context.Context, payload string) {
	var ev events.BookingChangedEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		logger.WarnContext(ctx, "Dropping undecodable booking notification", "error", err)
		return
	}
	if ev.SpaceID == "" {
		logger.WarnContext(ctx, "Dropping booking notification without space", "booking_id", ev.BookingID)
		return
	}
	if ev.ChangedAt.IsZero() {
		ev.ChangedAt = r.now().UTC()
	}

	if err := r.publisher.Publish(ctx, events.SpaceBookingsSubject(ev.SpaceID), ev); err != nil {
		logger.ErrorContext(ctx, "Failed to relay booking change", "error", err, "space_id", ev.SpaceID)
	}
}
