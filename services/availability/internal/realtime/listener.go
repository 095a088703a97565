package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/diagnosis/coworking-spaces/pkg/events"
	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/google/uuid"
)

// Invalidator drops every cached booking range of a space.
type Invalidator interface {
	InvalidateSpace(ctx context.Context, spaceID string) int
}

// Listener turns booking change notifications into cache invalidation and
// view refreshes.
type Listener struct {
	bus   events.Subscriber
	cache Invalidator
}

func NewListener(bus events.Subscriber, cache Invalidator) *Listener {
	return &Listener{bus: bus, cache: cache}
}

// Subscription is the handle returned by Watch. Unsubscribe is safe to call
// more than once; no refresh runs after it returns.
type Subscription struct {
	ID      string
	SpaceID string

	sub    events.Subscription
	closed atomic.Bool
	mu     sync.Mutex
	once   sync.Once
	err    error
}

func (s *Subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed.Store(true)
		s.err = s.sub.Unsubscribe()
	})
	return s.err
}

// Watch subscribes to changes of one space. For every change the space's
// cache is invalidated before refresh is called, so a refresh always reads
// fresh data. refresh must not call Unsubscribe.
func (l *Listener) Watch(ctx context.Context, spaceID string, refresh func(ev *events.BookingChangedEvent)) (*Subscription, error) {
	if spaceID == "" {
		return nil, fmt.Errorf("watch requires a space id")
	}
	// handlers outlive the caller's request context
	ctx = context.WithoutCancel(logger.WithSpace(ctx, spaceID))
	s := &Subscription{ID: uuid.NewString(), SpaceID: spaceID}

	handler := func(msg *events.Message) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed.Load() {
			return
		}

		ev, err := events.DecodeBookingChanged(msg)
		if err != nil {
			logger.WarnContext(ctx, "Undecodable booking change, refreshing anyway", "error", err, "subject", msg.Subject)
			ev = &events.BookingChangedEvent{SpaceID: spaceID}
		}

		l.cache.InvalidateSpace(ctx, spaceID)
		refresh(ev)
	}

	sub, err := l.bus.Subscribe(events.SpaceBookingsSubject(spaceID), handler)
	if err != nil {
		return nil, fmt.Errorf("failed to watch space %s: %w", spaceID, err)
	}
	s.sub = sub

	logger.DebugContext(ctx, "Watching space bookings", "subscription_id", s.ID)
	return s, nil
}

// Changes is Watch delivered over a channel. Bursts are coalesced: while a
// change is waiting to be consumed further changes are dropped, since the
// consumer recomputes the whole view anyway.
func (l *Listener) Changes(ctx context.Context, spaceID string) (<-chan *events.BookingChangedEvent, *Subscription, error) {
	ch := make(chan *events.BookingChangedEvent, 1)
	sub, err := l.Watch(ctx, spaceID, func(ev *events.BookingChangedEvent) {
		select {
		case ch <- ev:
		default:
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return ch, sub, nil
}

// RunCacheInvalidation keeps the local cache coherent with writes made by
// other instances until ctx is done.
func (l *Listener) RunCacheInvalidation(ctx context.Context) error {
	sub, err := l.bus.Subscribe(events.AllBookingChanges, func(msg *events.Message) {
		spaceID, ok := events.SpaceIDFromSubject(msg.Subject)
		if !ok {
			logger.WarnContext(ctx, "Ignoring change on unexpected subject", "subject", msg.Subject)
			return
		}
		n := l.cache.InvalidateSpace(ctx, spaceID)
		logger.DebugContext(ctx, "Invalidated cache from change event", "space_id", spaceID, "removed", n)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to booking changes: %w", err)
	}

	logger.InfoContext(ctx, "Cache invalidation listener started", "subject", events.AllBookingChanges)
	<-ctx.Done()
	return sub.Unsubscribe()
}
