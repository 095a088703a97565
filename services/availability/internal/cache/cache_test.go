package cache

import (
	"context"
	"testing"
	"time"

	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMemory() (*Memory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	return NewMemory(5*time.Minute, clock.Now), clock
}

func TestMemory_FreshnessWindow(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory()
	key := Key{SpaceID: "s1", StartDate: "2025-06-01", EndDate: "2025-06-30"}

	if err := m.Set(ctx, key, []domain.Booking{{ID: "b1"}}); err != nil {
		t.Fatalf("set: %v", err)
	}

	clock.Advance(4*time.Minute + 59*time.Second)
	got, ok, err := m.Get(ctx, key)
	if err != nil || !ok || len(got) != 1 || got[0].ID != "b1" {
		t.Fatalf("expected fresh hit, got %v %v %v", got, ok, err)
	}

	clock.Advance(time.Second)
	if _, ok, _ := m.Get(ctx, key); ok {
		t.Fatal("entry at exactly the ttl must be treated as absent")
	}
	if m.Len() != 0 {
		t.Fatalf("expired entry should be dropped, have %d", m.Len())
	}
}

func TestMemory_InvalidateSpace(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()

	keys := []Key{
		{SpaceID: "s1", StartDate: "2025-06-01", EndDate: "2025-06-30"},
		{SpaceID: "s1", StartDate: "2025-07-01", EndDate: "2025-07-31"},
		{SpaceID: "s10", StartDate: "2025-06-01", EndDate: "2025-06-30"},
		{SpaceID: "s2", StartDate: "2025-06-01", EndDate: "2025-06-30"},
	}
	for _, k := range keys {
		m.Set(ctx, k, nil)
	}

	removed, err := m.InvalidateSpace(ctx, "s1")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 entries removed, got %d", removed)
	}
	if _, ok, _ := m.Get(ctx, keys[0]); ok {
		t.Fatal("s1 june should be gone")
	}
	if _, ok, _ := m.Get(ctx, keys[2]); !ok {
		t.Fatal("s10 shares a textual prefix with s1 but must survive")
	}
	if _, ok, _ := m.Get(ctx, keys[3]); !ok {
		t.Fatal("s2 must survive")
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	key := Key{SpaceID: "s1", StartDate: "a", EndDate: "b"}

	src := []domain.Booking{{ID: "b1"}}
	m.Set(ctx, key, src)
	src[0].ID = "mutated"

	got, _, _ := m.Get(ctx, key)
	got[0].ID = "mutated-again"

	again, _, _ := m.Get(ctx, key)
	if again[0].ID != "b1" {
		t.Fatalf("cache entry was aliased, got %q", again[0].ID)
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("a*b?[c]\\"); got != `a\*b\?\[c\]\\` {
		t.Fatalf("unexpected escape: %s", got)
	}
	if got := (Key{SpaceID: "s", StartDate: "x", EndDate: "y"}).String(); got != "s|x|y" {
		t.Fatalf("unexpected key: %s", got)
	}
}
