package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/repository"
	"github.com/stripe/stripe-go/v76"
)

// BookingIDMetadataKey is the checkout session metadata entry that links a
// Stripe session to a booking.
const BookingIDMetadataKey = "booking_id"

type PaymentService interface {
	HandleEvent(ctx context.Context, event stripe.Event) error
}

type paymentService struct {
	bookings        BookingService
	idempotencyRepo repository.IdempotencyRepository
}

func NewPaymentService(bookings BookingService, idempotencyRepo repository.IdempotencyRepository) PaymentService {
	return &paymentService{bookings: bookings, idempotencyRepo: idempotencyRepo}
}

func eventKey(event stripe.Event) string {
	return "stripe:" + event.ID
}

// HandleEvent applies a verified Stripe event to the linked booking. Events
// already processed are acknowledged without side effects.
func (s *paymentService) HandleEvent(ctx context.Context, event stripe.Event) error {
	var apply func(ctx context.Context, session *stripe.CheckoutSession, bookingID string) error

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		apply = s.confirm
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		apply = s.release
	default:
		logger.DebugContext(ctx, "Ignoring Stripe event", "type", event.Type, "event_id", event.ID)
		return nil
	}

	if event.Data == nil {
		return fmt.Errorf("stripe event %s has no data", event.ID)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to decode checkout session: %w", err)
	}
	bookingID := session.Metadata[BookingIDMetadataKey]
	if bookingID == "" {
		logger.WarnContext(ctx, "Checkout session without booking reference", "event_id", event.ID, "session_id", session.ID)
		return nil
	}

	seen, err := s.idempotencyRepo.Lookup(ctx, eventKey(event))
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if seen != "" {
		logger.InfoContext(ctx, "Stripe event already processed", "event_id", event.ID, "booking_id", seen)
		return nil
	}

	if err := apply(ctx, &session, bookingID); err != nil {
		return err
	}

	if _, err := s.idempotencyRepo.Remember(ctx, eventKey(event), bookingID); err != nil {
		logger.ErrorContext(ctx, "Failed to record processed Stripe event", "error", err, "event_id", event.ID)
	}
	return nil
}

func (s *paymentService) confirm(ctx context.Context, session *stripe.CheckoutSession, bookingID string) error {
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		logger.InfoContext(ctx, "Checkout completed without payment, waiting for async result",
			"booking_id", bookingID, "payment_status", session.PaymentStatus)
		return nil
	}
	b, err := s.bookings.ConfirmPayment(ctx, bookingID)
	if errors.Is(err, domain.ErrBookingReleased) {
		// retrying cannot revive the slot; record the event and leave the refund to an operator
		logger.ErrorContext(ctx, "Paid for released booking (needs refund)",
			"booking_id", bookingID, "session_id", session.ID, "payment_intent", paymentIntentID(session))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to confirm booking %s: %w", bookingID, err)
	}
	if b.Status == domain.BookingPending {
		logger.InfoContext(ctx, "Paid booking awaiting host approval", "booking_id", b.ID, "session_id", session.ID)
		return nil
	}
	logger.InfoContext(ctx, "Booking confirmed by payment", "booking_id", b.ID, "session_id", session.ID)
	return nil
}

func paymentIntentID(session *stripe.CheckoutSession) string {
	if session.PaymentIntent == nil {
		return ""
	}
	return session.PaymentIntent.ID
}

func (s *paymentService) release(ctx context.Context, session *stripe.CheckoutSession, bookingID string) error {
	b, err := s.bookings.ReleaseUnpaid(ctx, bookingID, "payment_not_completed")
	if err != nil {
		return fmt.Errorf("failed to release booking %s: %w", bookingID, err)
	}
	logger.InfoContext(ctx, "Unpaid booking released", "booking_id", b.ID, "status", b.Status)
	return nil
}
