package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_GetSet(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t, time.Minute)
	key := Key{SpaceID: "s1", StartDate: "2025-06-01", EndDate: "2025-06-30"}

	if _, ok, err := r.Get(ctx, key); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := r.Set(ctx, key, []domain.Booking{{ID: "b1", SpaceID: "s1", Status: domain.BookingConfirmed}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].ID != "b1" || got[0].Status != domain.BookingConfirmed {
		t.Fatalf("unexpected bookings: %+v", got)
	}
	if !mr.Exists("availability:s1|2025-06-01|2025-06-30") {
		t.Fatalf("expected prefixed key, have %v", mr.Keys())
	}

	// an empty result is cached as a hit, not a miss
	empty := Key{SpaceID: "s1", StartDate: "2025-07-01", EndDate: "2025-07-31"}
	if err := r.Set(ctx, empty, nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, ok, _ := r.Get(ctx, empty); !ok || len(got) != 0 {
		t.Fatalf("expected cached empty list, got ok=%v %+v", ok, got)
	}
}

func TestRedis_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t, time.Minute)
	key := Key{SpaceID: "s1", StartDate: "2025-06-01", EndDate: "2025-06-30"}

	if err := r.Set(ctx, key, []domain.Booking{{ID: "b1"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := mr.TTL("availability:" + key.String()); ttl != time.Minute {
		t.Fatalf("expected 1m TTL, got %v", ttl)
	}

	mr.FastForward(59 * time.Second)
	if _, ok, _ := r.Get(ctx, key); !ok {
		t.Fatal("entry should still be fresh")
	}
	mr.FastForward(time.Second)
	if _, ok, _ := r.Get(ctx, key); ok {
		t.Fatal("entry should have expired")
	}
}

func TestRedis_CorruptEntry(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	key := Key{SpaceID: "s1", StartDate: "2025-06-01", EndDate: "2025-06-30"}
	if err := mr.Set("availability:"+key.String(), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, ok, err := r.Get(context.Background(), key); ok || err == nil {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}
}

func TestRedis_InvalidateSpace(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t, time.Minute)

	keys := []Key{
		{SpaceID: "s1", StartDate: "2025-06-01", EndDate: "2025-06-30"},
		{SpaceID: "s1", StartDate: "2025-07-01", EndDate: "2025-07-31"},
		{SpaceID: "s10", StartDate: "2025-06-01", EndDate: "2025-06-30"},
		{SpaceID: "s2", StartDate: "2025-06-01", EndDate: "2025-06-30"},
	}
	for _, k := range keys {
		if err := r.Set(ctx, k, []domain.Booking{{ID: k.SpaceID}}); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	// unrelated keys sharing the server are left alone
	if err := mr.Set("sessions:s1|x", "keep"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	n, err := r.InvalidateSpace(ctx, "s1")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	for _, k := range keys[:2] {
		if _, ok, _ := r.Get(ctx, k); ok {
			t.Fatalf("%s should be gone", k)
		}
	}
	for _, k := range keys[2:] {
		if _, ok, _ := r.Get(ctx, k); !ok {
			t.Fatalf("%s should survive invalidating s1", k)
		}
	}
	if !mr.Exists("sessions:s1|x") {
		t.Fatal("foreign key was deleted")
	}

	if n, err := r.InvalidateSpace(ctx, "s1"); err != nil || n != 0 {
		t.Fatalf("second invalidate should remove nothing, got %d, %v", n, err)
	}
}

func TestRedis_InvalidateSpaceManyKeys(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, time.Minute)

	// more keys than one SCAN/DEL batch
	for i := 0; i < 250; i++ {
		k := Key{SpaceID: "s1", StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02"), EndDate: "2026-01-01"}
		if err := r.Set(ctx, k, nil); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := r.Set(ctx, Key{SpaceID: "s2", StartDate: "2025-01-01", EndDate: "2025-01-31"}, nil); err != nil {
		t.Fatalf("set: %v", err)
	}

	n, err := r.InvalidateSpace(ctx, "s1")
	if err != nil || n != 250 {
		t.Fatalf("expected 250 removed, got %d, %v", n, err)
	}
	if _, ok, _ := r.Get(ctx, Key{SpaceID: "s2", StartDate: "2025-01-01", EndDate: "2025-01-31"}); !ok {
		t.Fatal("other space should be untouched")
	}
}
