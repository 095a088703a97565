package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diagnosis/coworking-spaces/services/availability/internal/cache"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/slots"
)

var errDown = errors.New("connection refused")

// ---------- Mocks ----------

type mockBookingRepo struct {
	mu       sync.Mutex
	nextID   int
	bookings map[string]*domain.Booking

	rpcErr       error
	listErr      error
	batchErr     error
	conflictsErr error
	lockErr      error
	lockRaw      []byte
	altErr       error
	alts         []string
	createErr    error

	rpcCalls   int
	listCalls  int
	lockCalls  int
	lastUserID string
}

func newMockBookingRepo(bookings ...domain.Booking) *mockBookingRepo {
	m := &mockBookingRepo{nextID: 1, bookings: make(map[string]*domain.Booking)}
	for i := range bookings {
		b := bookings[i]
		m.bookings[b.ID] = &b
	}
	return m
}

func (m *mockBookingRepo) active(spaceID, startDate, endDate string) []domain.Booking {
	out := []domain.Booking{}
	for _, b := range m.bookings {
		if b.SpaceID == spaceID && b.Date >= startDate && b.Date <= endDate && b.Status.Blocks() {
			out = append(out, *b)
		}
	}
	return out
}

func (m *mockBookingRepo) SpaceAvailabilityRPC(_ context.Context, spaceID, startDate, endDate string) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rpcCalls++
	if m.rpcErr != nil {
		return nil, m.rpcErr
	}
	return m.active(spaceID, startDate, endDate), nil
}

func (m *mockBookingRepo) ListActive(_ context.Context, spaceID, startDate, endDate string) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.active(spaceID, startDate, endDate), nil
}

func (m *mockBookingRepo) ListActiveForSpaces(_ context.Context, spaceIDs []string, startDate, endDate string) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	var out []domain.Booking
	for _, id := range spaceIDs {
		out = append(out, m.active(id, startDate, endDate)...)
	}
	return out, nil
}

func (m *mockBookingRepo) ListConflicts(_ context.Context, spaceID, date, startTime, endTime, excludeID string) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictsErr != nil {
		return nil, m.conflictsErr
	}
	out := []domain.Booking{}
	for _, b := range m.active(spaceID, date, date) {
		if b.ID != excludeID && b.Overlaps(date, startTime, endTime) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockBookingRepo) ValidateSlotWithLock(_ context.Context, _, _, _, _, userID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	m.lastUserID = userID
	if m.lockErr != nil {
		return nil, m.lockErr
	}
	if m.lockRaw != nil {
		return m.lockRaw, nil
	}
	return []byte(`{"valid":true,"conflicts":[],"message":"Slot is available"}`), nil
}

func (m *mockBookingRepo) AlternativeSlots(_ context.Context, _, _ string, _ float64) ([]string, error) {
	if m.altErr != nil {
		return nil, m.altErr
	}
	return m.alts, nil
}

func (m *mockBookingRepo) Create(_ context.Context, b *domain.Booking) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	created := *b
	created.ID = fmt.Sprintf("booking-%d", m.nextID)
	m.nextID++
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	m.bookings[created.ID] = &created
	out := created
	return &out, nil
}

func (m *mockBookingRepo) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	out := *b
	return &out, nil
}

func (m *mockBookingRepo) TransitionStatus(_ context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	for _, s := range from {
		if b.Status == s {
			b.Status = to
			out := *b
			return &out, nil
		}
	}
	return nil, nil
}

func (m *mockBookingRepo) ExpirePending(_ context.Context, createdBefore time.Time) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.Status == domain.BookingPending && b.PaidAt == nil && b.CreatedAt.Before(createdBefore) {
			b.Status = domain.BookingCancelled
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockBookingRepo) MarkPaid(_ context.Context, id string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != domain.BookingPending {
		return nil, nil
	}
	if b.PaidAt == nil {
		now := time.Now()
		b.PaidAt = &now
	}
	out := *b
	return &out, nil
}

type mockSpaceRepo struct {
	availability map[string]*domain.SpaceAvailability
	spaces       map[string]*domain.Space
	err          error
}

func (m *mockSpaceRepo) GetAvailability(_ context.Context, spaceID string) (*domain.SpaceAvailability, error) {
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.availability[spaceID]
	if !ok {
		return nil, domain.ErrSpaceNotFound
	}
	return a, nil
}

func (m *mockSpaceRepo) GetSpace(_ context.Context, spaceID string) (*domain.Space, error) {
	if m.err != nil {
		return nil, m.err
	}
	if sp, ok := m.spaces[spaceID]; ok {
		return sp, nil
	}
	if _, ok := m.availability[spaceID]; !ok {
		return nil, domain.ErrSpaceNotFound
	}
	return &domain.Space{ID: spaceID, HostID: "host-1", ConfirmationType: domain.ConfirmInstant}, nil
}

type mockIdempotencyRepo struct {
	keys      map[string]string
	lookupErr error
}

func newMockIdempotencyRepo() *mockIdempotencyRepo {
	return &mockIdempotencyRepo{keys: make(map[string]string)}
}

func (m *mockIdempotencyRepo) Lookup(_ context.Context, key string) (string, error) {
	if m.lookupErr != nil {
		return "", m.lookupErr
	}
	return m.keys[key], nil
}

func (m *mockIdempotencyRepo) Remember(_ context.Context, key, bookingID string) (bool, error) {
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = bookingID
	return true, nil
}

func (m *mockIdempotencyRepo) CleanupExpired(context.Context) (int64, error) { return 0, nil }

type published struct {
	subject string
	data    interface{}
}

type mockPublisher struct {
	mu     sync.Mutex
	events []published
}

func (m *mockPublisher) Publish(_ context.Context, subject string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, published{subject: subject, data: data})
	return nil
}

func (m *mockPublisher) Close() error { return nil }

// ---------- Fixtures ----------

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func weekdaysOpen() *domain.SpaceAvailability {
	rec := map[string]domain.DaySchedule{}
	for _, d := range []string{"monday", "tuesday", "wednesday", "thursday", "friday"} {
		rec[d] = domain.DaySchedule{Enabled: true}
	}
	return &domain.SpaceAvailability{Recurring: rec}
}

func booking(id, space, date, start, end string, status domain.BookingStatus) domain.Booking {
	return domain.Booking{ID: id, SpaceID: space, UserID: "user-" + id, Date: date, StartTime: start, EndTime: end, Status: status}
}

type harness struct {
	repo   *mockBookingRepo
	spaces *mockSpaceRepo
	store  *cache.Memory
	clock  *fakeClock
	svc    AvailabilityService
}

func newHarness(bookings ...domain.Booking) *harness {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	h := &harness{
		repo:   newMockBookingRepo(bookings...),
		spaces: &mockSpaceRepo{availability: map[string]*domain.SpaceAvailability{"s1": weekdaysOpen(), "s2": weekdaysOpen()}},
		store:  cache.NewMemory(cache.DefaultTTL, clock.Now),
		clock:  clock,
	}
	h.svc = NewAvailabilityService(h.repo, h.spaces, h.store, slots.DefaultWindow, nil)
	return h
}
