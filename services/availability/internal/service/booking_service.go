package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/events"
	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/repository"
)

type BookingService interface {
	CreateBooking(ctx context.Context, userID string, req domain.CreateBookingReq, idempotencyKey string) (*domain.CreateBookingResult, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id, userID string, privileged bool) (*domain.Booking, error)
	ConfirmPayment(ctx context.Context, id string) (*domain.Booking, error)
	ApproveBooking(ctx context.Context, id, hostID string, privileged bool) (*domain.Booking, error)
	RejectBooking(ctx context.Context, id, hostID string, privileged bool) (*domain.Booking, error)
	ReleaseUnpaid(ctx context.Context, id, reason string) (*domain.Booking, error)
	ExpirePending(ctx context.Context) (int, error)
}

type bookingService struct {
	bookingRepo     repository.BookingRepository
	spaceRepo       repository.SpaceRepository
	idempotencyRepo repository.IdempotencyRepository
	availability    AvailabilityService
	publisher       events.Publisher
	pendingTTL      time.Duration
	now             func() time.Time
}

func NewBookingService(
	bookingRepo repository.BookingRepository,
	spaceRepo repository.SpaceRepository,
	idempotencyRepo repository.IdempotencyRepository,
	availability AvailabilityService,
	publisher events.Publisher,
	pendingTTL time.Duration,
) BookingService {
	return &bookingService{
		bookingRepo:     bookingRepo,
		spaceRepo:       spaceRepo,
		idempotencyRepo: idempotencyRepo,
		availability:    availability,
		publisher:       publisher,
		pendingTTL:      pendingTTL,
		now:             time.Now,
	}
}

// idempotency keys are scoped per user so two clients cannot collide
func scopedKey(userID, key string) string {
	return "booking:" + userID + ":" + key
}

func (s *bookingService) CreateBooking(ctx context.Context, userID string, req domain.CreateBookingReq, idempotencyKey string) (*domain.CreateBookingResult, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	ctx = logger.WithSpace(ctx, req.SpaceID)

	// Check idempotency if key provided
	if idempotencyKey != "" {
		existingID, err := s.idempotencyRepo.Lookup(ctx, scopedKey(userID, idempotencyKey))
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if existingID != "" {
			existing, err := s.bookingRepo.GetByID(ctx, existingID)
			if err != nil {
				return nil, fmt.Errorf("failed to load replayed booking: %w", err)
			}
			if existing != nil {
				return &domain.CreateBookingResult{Booking: existing, Replayed: true}, nil
			}
		}
	}

	validation, err := s.availability.ValidateBookingSlotWithLock(ctx, req.SpaceID, req.Date, req.StartTime, req.EndTime, userID)
	if err != nil {
		return nil, fmt.Errorf("slot validation failed: %w", err)
	}
	if !validation.Valid {
		return nil, &domain.SlotConflictError{Result: validation}
	}
	if validation.ClientSide() {
		logger.WarnContext(ctx, "Admitting booking on client-side slot check", "date", req.Date, "start", req.StartTime, "end", req.EndTime)
	}

	booking, err := s.bookingRepo.Create(ctx, &domain.Booking{
		SpaceID:   req.SpaceID,
		UserID:    userID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Status:    domain.BookingPending,
	})
	if errors.Is(err, domain.ErrSlotUnavailable) {
		// lost the race between validation and insert
		check := s.availability.CheckRealTimeConflicts(ctx, req.SpaceID, req.Date, req.StartTime, req.EndTime, "")
		return nil, &domain.SlotConflictError{Result: &domain.ValidationResult{
			Valid:     false,
			Conflicts: domain.SummarizeConflicts(check.ConflictingBookings),
			Message:   "Slot was booked concurrently",
			Source:    domain.ValidationServer,
		}}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	// Store idempotency record if key was provided
	if idempotencyKey != "" {
		stored, err := s.idempotencyRepo.Remember(ctx, scopedKey(userID, idempotencyKey), booking.ID)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to store idempotency record", "error", err, "booking_id", booking.ID)
		} else if !stored {
			logger.WarnContext(ctx, "Idempotency key already bound to another booking", "booking_id", booking.ID)
		}
	}

	s.announce(ctx, booking, events.OpInsert, "")

	return &domain.CreateBookingResult{Booking: booking, Validation: validation}, nil
}

func (s *bookingService) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil {
		return nil, domain.ErrBookingNotFound
	}
	return b, nil
}

// CancelBooking cancels an active booking on behalf of its owner, the host
// of its space, or a privileged caller.
func (s *bookingService) CancelBooking(ctx context.Context, id, userID string, privileged bool) (*domain.Booking, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	reason := "cancelled_by_user"
	if !privileged && !b.IsOwner(userID) {
		space, err := s.getSpace(ctx, b.SpaceID)
		if err != nil {
			return nil, err
		}
		if !space.IsHost(userID) {
			return nil, domain.ErrForbidden
		}
		reason = "cancelled_by_host"
	}
	if !b.CanCancel() {
		return nil, fmt.Errorf("%w: %s booking cannot be cancelled", domain.ErrInvalidStatusTransition, b.Status)
	}

	return s.transition(ctx, id, domain.ActiveStatuses, domain.BookingCancelled, reason)
}

// ConfirmPayment applies a captured payment. On instant-confirmation spaces
// the booking becomes confirmed; otherwise it stays pending, marked paid,
// until the host approves or rejects it. A booking cancelled before the
// payment arrived yields ErrBookingReleased.
func (s *bookingService) ConfirmPayment(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := payableStatus(b); err != nil {
		return b, err
	}
	if b.Status == domain.BookingConfirmed {
		return b, nil
	}

	space, err := s.getSpace(ctx, b.SpaceID)
	if err != nil {
		return nil, err
	}
	if space.InstantConfirmation() {
		updated, err := s.bookingRepo.TransitionStatus(ctx, id, []domain.BookingStatus{domain.BookingPending}, domain.BookingConfirmed)
		if err != nil {
			return nil, fmt.Errorf("failed to confirm booking: %w", err)
		}
		if updated == nil {
			return s.settled(ctx, id)
		}
		s.announce(ctx, updated, events.OpUpdate, "payment_confirmed")
		return updated, nil
	}

	paid, err := s.bookingRepo.MarkPaid(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	if paid == nil {
		return s.settled(ctx, id)
	}
	s.announce(ctx, paid, events.OpUpdate, "awaiting_host_approval")
	return paid, nil
}

// payableStatus rejects payments for bookings that no longer hold a slot.
func payableStatus(b *domain.Booking) error {
	switch b.Status {
	case domain.BookingPending, domain.BookingConfirmed:
		return nil
	case domain.BookingCancelled:
		return fmt.Errorf("%w: %w", domain.ErrInvalidStatusTransition, domain.ErrBookingReleased)
	default:
		return fmt.Errorf("%w: cannot confirm %s booking", domain.ErrInvalidStatusTransition, b.Status)
	}
}

// settled re-reads a booking whose pending status changed underneath a
// payment update.
func (s *bookingService) settled(ctx context.Context, id string) (*domain.Booking, error) {
	current, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := payableStatus(current); err != nil {
		return current, err
	}
	return current, nil
}

// ApproveBooking confirms a pending booking on behalf of the space's host.
func (s *bookingService) ApproveBooking(ctx context.Context, id, hostID string, privileged bool) (*domain.Booking, error) {
	b, err := s.hostedBooking(ctx, id, hostID, privileged)
	if err != nil {
		return nil, err
	}
	if b.Status == domain.BookingConfirmed {
		return b, nil
	}
	if b.Status != domain.BookingPending {
		return nil, fmt.Errorf("%w: cannot approve %s booking", domain.ErrInvalidStatusTransition, b.Status)
	}

	check := s.availability.CheckRealTimeConflicts(ctx, b.SpaceID, b.Date, b.StartTime, b.EndTime, b.ID)
	if check.HasConflict {
		return nil, &domain.SlotConflictError{Result: &domain.ValidationResult{
			Valid:     false,
			Conflicts: domain.SummarizeConflicts(check.ConflictingBookings),
			Message:   "Slot is no longer available",
			Source:    domain.ValidationServer,
		}}
	}

	return s.transition(ctx, id, []domain.BookingStatus{domain.BookingPending}, domain.BookingConfirmed, "approved_by_host")
}

// RejectBooking cancels a pending booking on behalf of the space's host.
func (s *bookingService) RejectBooking(ctx context.Context, id, hostID string, privileged bool) (*domain.Booking, error) {
	b, err := s.hostedBooking(ctx, id, hostID, privileged)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingPending {
		return nil, fmt.Errorf("%w: cannot reject %s booking", domain.ErrInvalidStatusTransition, b.Status)
	}

	updated, err := s.transition(ctx, id, []domain.BookingStatus{domain.BookingPending}, domain.BookingCancelled, "rejected_by_host")
	if err != nil {
		return nil, err
	}
	if updated.PaidAt != nil {
		logger.WarnContext(ctx, "Rejected paid booking (needs refund)", "booking_id", updated.ID)
	}
	return updated, nil
}

// hostedBooking loads a booking and checks that hostID hosts its space.
func (s *bookingService) hostedBooking(ctx context.Context, id, hostID string, privileged bool) (*domain.Booking, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if privileged {
		return b, nil
	}
	space, err := s.getSpace(ctx, b.SpaceID)
	if err != nil {
		return nil, err
	}
	if !space.IsHost(hostID) {
		return nil, domain.ErrForbidden
	}
	return b, nil
}

func (s *bookingService) getSpace(ctx context.Context, spaceID string) (*domain.Space, error) {
	space, err := s.spaceRepo.GetSpace(ctx, spaceID)
	if errors.Is(err, domain.ErrSpaceNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load space: %w", err)
	}
	return space, nil
}

// transition moves a booking between statuses and announces the change. A
// booking that left the from statuses concurrently is a transition error.
func (s *bookingService) transition(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus, reason string) (*domain.Booking, error) {
	updated, err := s.bookingRepo.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to update booking: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: booking changed concurrently", domain.ErrInvalidStatusTransition)
	}
	s.announce(ctx, updated, events.OpUpdate, reason)
	return updated, nil
}

// ReleaseUnpaid cancels a booking that is still pending. Bookings in any
// other status are returned unchanged.
func (s *bookingService) ReleaseUnpaid(ctx context.Context, id, reason string) (*domain.Booking, error) {
	updated, err := s.bookingRepo.TransitionStatus(ctx, id, []domain.BookingStatus{domain.BookingPending}, domain.BookingCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to release booking: %w", err)
	}
	if updated != nil {
		s.announce(ctx, updated, events.OpUpdate, reason)
		return updated, nil
	}
	return s.GetBooking(ctx, id)
}

func (s *bookingService) ExpirePending(ctx context.Context) (int, error) {
	expired, err := s.bookingRepo.ExpirePending(ctx, s.now().Add(-s.pendingTTL))
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending bookings: %w", err)
	}
	for i := range expired {
		s.announce(ctx, &expired[i], events.OpUpdate, "pending_expired")
	}
	return len(expired), nil
}

// announce drops cached availability for the booking's space and publishes
// the change for other instances and live views.
func (s *bookingService) announce(ctx context.Context, b *domain.Booking, op events.ChangeOp, reason string) {
	s.availability.InvalidateSpace(ctx, b.SpaceID)

	if s.publisher == nil {
		return
	}
	event := events.BookingChangedEvent{
		Op:        op,
		BookingID: b.ID,
		SpaceID:   b.SpaceID,
		Date:      b.Date,
		Status:    string(b.Status),
		Reason:    reason,
		ChangedAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, events.SpaceBookingsSubject(b.SpaceID), event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking change", "error", err, "booking_id", b.ID)
	}
}
