package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/cache"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/repository"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/slots"
)

type FetchOptions struct {
	UseCache bool
	UseRPC   bool
}

var DefaultFetchOptions = FetchOptions{UseCache: true, UseRPC: true}

type AvailabilityService interface {
	FetchSpaceBookings(ctx context.Context, spaceID, startDate, endDate string, opts FetchOptions) (*domain.FetchResult, error)
	InvalidateSpace(ctx context.Context, spaceID string) int
	DayAvailability(ctx context.Context, spaceID, date string) (*domain.DayAvailability, error)
	MonthAvailability(ctx context.Context, spaceID string, month time.Time, forceRefresh bool) (*domain.MonthAvailability, error)
	ValidateBookingSlotWithLock(ctx context.Context, spaceID, date, startTime, endTime, userID string) (*domain.ValidationResult, error)
	CheckRealTimeConflicts(ctx context.Context, spaceID, date, startTime, endTime, excludeBookingID string) domain.ConflictCheck
	AlternativeSlots(ctx context.Context, spaceID, date string, durationHours float64) ([]string, error)
	FetchMultipleSpaces(ctx context.Context, spaceIDs []string, startDate, endDate string) (map[string][]domain.Booking, error)
}

type availabilityService struct {
	bookings repository.BookingRepository
	spaces   repository.SpaceRepository
	cache    cache.Store
	window   slots.Window
	metrics  *Metrics
}

func NewAvailabilityService(
	bookings repository.BookingRepository,
	spaces repository.SpaceRepository,
	store cache.Store,
	window slots.Window,
	metrics *Metrics,
) AvailabilityService {
	return &availabilityService{
		bookings: bookings,
		spaces:   spaces,
		cache:    store,
		window:   window,
		metrics:  metrics,
	}
}

func validateRange(startDate, endDate string) error {
	start, err := domain.ParseDate(startDate)
	if err != nil {
		return err
	}
	end, err := domain.ParseDate(endDate)
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("%w: %s after %s", domain.ErrInvalidTimeRange, startDate, endDate)
	}
	return nil
}

// FetchSpaceBookings returns the active bookings of a space in a date range,
// tagged with the path that produced them. Remote failures degrade to an
// empty, uncached result rather than an error.
func (s *availabilityService) FetchSpaceBookings(ctx context.Context, spaceID, startDate, endDate string, opts FetchOptions) (*domain.FetchResult, error) {
	if spaceID == "" {
		return nil, domain.ErrMissingSpace
	}
	if err := validateRange(startDate, endDate); err != nil {
		return nil, err
	}
	ctx = logger.WithSpace(ctx, spaceID)
	key := cache.Key{SpaceID: spaceID, StartDate: startDate, EndDate: endDate}

	if opts.UseCache {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			logger.WarnContext(ctx, "Availability cache read failed", "error", err, "key", key.String())
		} else if ok {
			res := &domain.FetchResult{Source: domain.SourceCache, Bookings: cached}
			s.metrics.observeFetch(res)
			return res, nil
		}
	}

	res := &domain.FetchResult{}
	if opts.UseRPC {
		bookings, err := s.bookings.SpaceAvailabilityRPC(ctx, spaceID, startDate, endDate)
		if err == nil {
			res.Source, res.Bookings = domain.SourceOptimized, bookings
		} else {
			logger.WarnContext(ctx, "Optimized availability RPC failed, falling back to direct query", "error", err)
		}
	}

	if res.Source == "" {
		bookings, err := s.bookings.ListActive(ctx, spaceID, startDate, endDate)
		if err != nil {
			logger.WarnContext(ctx, "Direct bookings query failed, serving empty availability", "error", err)
			res = &domain.FetchResult{Source: domain.SourceFallback, Bookings: []domain.Booking{}, Degraded: true}
			s.metrics.observeFetch(res)
			return res, nil
		}
		res.Source, res.Bookings = domain.SourceFallback, bookings
	}

	if res.Bookings == nil {
		res.Bookings = []domain.Booking{}
	}
	if err := s.cache.Set(ctx, key, res.Bookings); err != nil {
		logger.WarnContext(ctx, "Availability cache write failed", "error", err, "key", key.String())
	}

	s.metrics.observeFetch(res)
	return res, nil
}

func (s *availabilityService) InvalidateSpace(ctx context.Context, spaceID string) int {
	removed, err := s.cache.InvalidateSpace(ctx, spaceID)
	if err != nil {
		logger.WarnContext(logger.WithSpace(ctx, spaceID), "Availability cache invalidation failed", "error", err)
	}
	logger.DebugContext(ctx, "Availability cache invalidated", "space_id", spaceID, "removed", removed)
	return removed
}

// schedule loads the recurring availability. An unknown space is an error;
// any other failure degrades to "no schedule" so the calendar still renders.
func (s *availabilityService) schedule(ctx context.Context, spaceID string) (*domain.SpaceAvailability, error) {
	sched, err := s.spaces.GetAvailability(ctx, spaceID)
	if errors.Is(err, domain.ErrSpaceNotFound) {
		return nil, err
	}
	if err != nil {
		logger.WarnContext(ctx, "Failed to load space availability, treating all days as disabled", "error", err)
		return nil, nil
	}
	return sched, nil
}

func (s *availabilityService) DayAvailability(ctx context.Context, spaceID, date string) (*domain.DayAvailability, error) {
	day, err := domain.ParseDate(date)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithSpace(ctx, spaceID)

	sched, err := s.schedule(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	var bookings []domain.Booking
	if sched.Day(domain.Weekday(day)).Enabled {
		res, err := s.FetchSpaceBookings(ctx, spaceID, date, date, DefaultFetchOptions)
		if err != nil {
			return nil, err
		}
		bookings = res.Bookings
	}

	result, err := slots.CalculateDay(date, sched, bookings, s.window)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *availabilityService) MonthAvailability(ctx context.Context, spaceID string, month time.Time, forceRefresh bool) (*domain.MonthAvailability, error) {
	first, last := domain.MonthRange(month)
	startDate, endDate := first.Format(domain.DateLayout), last.Format(domain.DateLayout)
	ctx = logger.WithSpace(ctx, spaceID)

	res, err := s.FetchSpaceBookings(ctx, spaceID, startDate, endDate, FetchOptions{UseCache: !forceRefresh, UseRPC: true})
	if err != nil {
		return nil, err
	}

	sched, err := s.schedule(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	days, err := slots.CalculateRange(startDate, endDate, sched, res.Bookings, s.window)
	if err != nil {
		return nil, err
	}

	return &domain.MonthAvailability{
		SpaceID: spaceID,
		Month:   first.Format("2006-01"),
		Source:  res.Source,
		Days:    days,
	}, nil
}

func (s *availabilityService) CheckRealTimeConflicts(ctx context.Context, spaceID, date, startTime, endTime, excludeBookingID string) domain.ConflictCheck {
	conflicts, err := s.bookings.ListConflicts(ctx, spaceID, date, startTime, endTime, excludeBookingID)
	if err != nil {
		logger.WarnContext(logger.WithSpace(ctx, spaceID), "Real-time conflict check failed", "error", err)
		return domain.ConflictCheck{HasConflict: false, ConflictingBookings: []domain.Booking{}}
	}
	if conflicts == nil {
		conflicts = []domain.Booking{}
	}
	return domain.ConflictCheck{HasConflict: len(conflicts) > 0, ConflictingBookings: conflicts}
}

func (s *availabilityService) AlternativeSlots(ctx context.Context, spaceID, date string, durationHours float64) ([]string, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return nil, err
	}
	if durationHours <= 0 || durationHours > 24 {
		return nil, fmt.Errorf("%w: duration must be within (0, 24] hours", domain.ErrInvalidTimeRange)
	}

	alts, err := s.bookings.AlternativeSlots(ctx, spaceID, date, durationHours)
	if err != nil {
		logger.WarnContext(logger.WithSpace(ctx, spaceID), "Alternative slots RPC failed", "error", err)
		return []string{}, nil
	}

	out := make([]string, 0, len(alts))
	for _, a := range alts {
		if t, err := domain.NormalizeClock(a); err == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// FetchMultipleSpaces groups the active bookings of several spaces. Every
// requested space is present in the result; a failed query yields an empty map.
func (s *availabilityService) FetchMultipleSpaces(ctx context.Context, spaceIDs []string, startDate, endDate string) (map[string][]domain.Booking, error) {
	if err := validateRange(startDate, endDate); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(spaceIDs))
	ids := make([]string, 0, len(spaceIDs))
	for _, id := range spaceIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return map[string][]domain.Booking{}, nil
	}

	bookings, err := s.bookings.ListActiveForSpaces(ctx, ids, startDate, endDate)
	if err != nil {
		logger.WarnContext(ctx, "Batch availability query failed", "error", err, "spaces", len(ids))
		return map[string][]domain.Booking{}, nil
	}

	grouped := make(map[string][]domain.Booking, len(ids))
	for _, id := range ids {
		grouped[id] = []domain.Booking{}
	}
	for _, b := range bookings {
		if _, ok := grouped[b.SpaceID]; ok {
			grouped[b.SpaceID] = append(grouped[b.SpaceID], b)
		}
	}
	return grouped, nil
}
