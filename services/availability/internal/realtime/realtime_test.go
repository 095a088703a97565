package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/events"
)

// ---------- Mocks ----------

type memSub struct {
	bus     *memBus
	subject string
	handler func(*events.Message)
	calls   int
}

func (s *memSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.calls++
	delete(s.bus.subs, s)
	return nil
}

type memBus struct {
	mu        sync.Mutex
	subs      map[*memSub]struct{}
	published []string
}

func newMemBus() *memBus { return &memBus{subs: make(map[*memSub]struct{})} }

func matches(pattern, subject string) bool {
	p, s := strings.Split(pattern, "."), strings.Split(subject, ".")
	if len(p) != len(s) {
		return false
	}
	for i := range p {
		if p[i] != "*" && p[i] != s[i] {
			return false
		}
	}
	return true
}

func (b *memBus) Subscribe(subject string, handler func(msg *events.Message)) (events.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &memSub{bus: b, subject: subject, handler: handler}
	b.subs[s] = struct{}{}
	return s, nil
}

func (b *memBus) Publish(_ context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.published = append(b.published, subject)
	var targets []*memSub
	for s := range b.subs {
		if matches(s.subject, subject) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.handler(&events.Message{Subject: subject, Data: payload, Timestamp: time.Now()})
	}
	return nil
}

func (b *memBus) Close() error { return nil }

func (b *memBus) active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
	order       *[]string
}

func (c *recordingCache) InvalidateSpace(_ context.Context, spaceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, spaceID)
	if c.order != nil {
		*c.order = append(*c.order, "invalidate:"+spaceID)
	}
	return 1
}

func change(spaceID, bookingID string) events.BookingChangedEvent {
	return events.BookingChangedEvent{Op: events.OpUpdate, SpaceID: spaceID, BookingID: bookingID}
}

// ---------- Tests ----------

func TestWatch_InvalidatesBeforeRefresh(t *testing.T) {
	ctx := context.Background()
	bus := newMemBus()
	var order []string
	cache := &recordingCache{order: &order}
	l := NewListener(bus, cache)

	sub, err := l.Watch(ctx, "s1", func(ev *events.BookingChangedEvent) {
		order = append(order, "refresh:"+ev.BookingID)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()

	bus.Publish(ctx, events.SpaceBookingsSubject("s1"), change("s1", "b1"))
	bus.Publish(ctx, events.SpaceBookingsSubject("s2"), change("s2", "b2"))

	if len(order) != 2 || order[0] != "invalidate:s1" || order[1] != "refresh:b1" {
		t.Fatalf("unexpected sequence: %v", order)
	}
}

func TestWatch_UnsubscribeStopsRefresh(t *testing.T) {
	ctx := context.Background()
	bus := newMemBus()
	l := NewListener(bus, &recordingCache{})

	refreshed := 0
	sub, err := l.Watch(ctx, "s1", func(*events.BookingChangedEvent) { refreshed++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bus.Publish(ctx, events.SpaceBookingsSubject("s1"), change("s1", "b1"))
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe should be a no-op, got %v", err)
	}
	bus.Publish(ctx, events.SpaceBookingsSubject("s1"), change("s1", "b2"))

	if refreshed != 1 {
		t.Fatalf("expected 1 refresh, got %d", refreshed)
	}
	if bus.active() != 0 {
		t.Fatal("subscription leaked")
	}
}

func TestWatch_UndecodablePayloadStillRefreshes(t *testing.T) {
	ctx := context.Background()
	bus := newMemBus()
	cache := &recordingCache{}
	l := NewListener(bus, cache)

	var got *events.BookingChangedEvent
	sub, _ := l.Watch(ctx, "s1", func(ev *events.BookingChangedEvent) { got = ev })
	defer sub.Unsubscribe()

	bus.Publish(ctx, events.SpaceBookingsSubject("s1"), "not an object")
	if got == nil || got.SpaceID != "s1" || len(cache.invalidated) != 1 {
		t.Fatalf("expected refresh with space fallback, got %+v", got)
	}
}

func TestChanges_Coalesces(t *testing.T) {
	ctx := context.Background()
	bus := newMemBus()
	l := NewListener(bus, &recordingCache{})

	ch, sub, err := l.Changes(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()

	for _, id := range []string{"b1", "b2", "b3"} {
		bus.Publish(ctx, events.SpaceBookingsSubject("s1"), change("s1", id))
	}

	select {
	case ev := <-ch:
		if ev.BookingID != "b1" {
			t.Fatalf("expected first pending change, got %s", ev.BookingID)
		}
	default:
		t.Fatal("expected a pending change")
	}
	select {
	case ev := <-ch:
		t.Fatalf("burst should coalesce, got extra %s", ev.BookingID)
	default:
	}
}

func TestRunCacheInvalidation(t *testing.T) {
	bus := newMemBus()
	cache := &recordingCache{}
	l := NewListener(bus, cache)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.RunCacheInvalidation(ctx) }()

	deadline := time.Now().Add(time.Second)
	for bus.active() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	bus.Publish(ctx, events.SpaceBookingsSubject("s1"), change("s1", "b1"))
	bus.Publish(ctx, events.SpaceBookingsSubject("s10"), change("s10", "b2"))

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.invalidated) != 2 || cache.invalidated[0] != "s1" || cache.invalidated[1] != "s10" {
		t.Fatalf("unexpected invalidations: %v", cache.invalidated)
	}
	if bus.active() != 0 {
		t.Fatal("listener must unsubscribe on shutdown")
	}
}

type scriptedFeed struct {
	mu       sync.Mutex
	payloads []string
	calls    int
}

func (f *scriptedFeed) Listen(ctx context.Context, _ string, fn func(string)) error {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()

	if first {
		for _, p := range f.payloads {
			fn(p)
		}
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRelay_ForwardsAndReconnects(t *testing.T) {
	bus := newMemBus()
	feed := &scriptedFeed{payloads: []string{
		`{"op":"INSERT","booking_id":"b1","space_id":"s1","booking_date":"2024-03-04","status":"pending"}`,
		`{"op":"UPDATE","booking_id":"b2"}`,
		`garbage`,
	}}
	relay := NewRelay(feed, bus, "bookings_changes")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		feed.mu.Lock()
		calls := feed.calls
		feed.mu.Unlock()
		if calls >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if feed.calls < 2 {
		t.Fatal("relay should reconnect after the feed drops")
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.published) != 1 || bus.published[0] != events.SpaceBookingsSubject("s1") {
		t.Fatalf("expected only the complete notification to be relayed, got %v", bus.published)
	}
}
