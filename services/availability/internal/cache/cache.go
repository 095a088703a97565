// Package cache memoizes per-space booking lists for a bounded freshness
// window. Entries are keyed by (space, start date, end date) and can be
// dropped for a whole space at once.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
)

// DefaultTTL is the freshness window after which an entry counts as absent.
const DefaultTTL = 5 * time.Minute

// Clock returns the current time. Tests inject a controllable one.
type Clock func() time.Time

type Key struct {
	SpaceID   string
	StartDate string
	EndDate   string
}

// String renders the key so that every key of a space shares the
// SpacePrefix(spaceID) prefix and no other space's keys do.
func (k Key) String() string {
	return SpacePrefix(k.SpaceID) + k.StartDate + "|" + k.EndDate
}

func SpacePrefix(spaceID string) string {
	return spaceID + "|"
}

type Store interface {
	Get(ctx context.Context, key Key) ([]domain.Booking, bool, error)
	Set(ctx context.Context, key Key, bookings []domain.Booking) error
	InvalidateSpace(ctx context.Context, spaceID string) (int, error)
}

type entry struct {
	bookings []domain.Booking
	storedAt time.Time
}

// Memory is a process-local Store. Concurrent fetches for one key may race;
// the last Set wins.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     Clock
}

func NewMemory(ttl time.Duration, now Clock) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     now,
	}
}

func (m *Memory) Get(_ context.Context, key Key) ([]domain.Booking, bool, error) {
	k := key.String()

	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if m.now().Sub(e.storedAt) >= m.ttl {
		m.mu.Lock()
		// only drop it if nobody refreshed it in between
		if cur, still := m.entries[k]; still && cur.storedAt.Equal(e.storedAt) {
			delete(m.entries, k)
		}
		m.mu.Unlock()
		return nil, false, nil
	}

	return cloneBookings(e.bookings), true, nil
}

func (m *Memory) Set(_ context.Context, key Key, bookings []domain.Booking) error {
	m.mu.Lock()
	m.entries[key.String()] = entry{bookings: cloneBookings(bookings), storedAt: m.now()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) InvalidateSpace(_ context.Context, spaceID string) (int, error) {
	prefix := SpacePrefix(spaceID)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, fresh or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cloneBookings(in []domain.Booking) []domain.Booking {
	out := make([]domain.Booking, len(in))
	copy(out, in)
	return out
}
