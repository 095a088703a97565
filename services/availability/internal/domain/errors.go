package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBookingNotFound         = errors.New("booking not found")
	ErrSpaceNotFound           = errors.New("space not found")
	ErrMissingSpace            = errors.New("space id is required")
	ErrInvalidDate             = errors.New("invalid date, expected YYYY-MM-DD")
	ErrInvalidTime             = errors.New("invalid time, expected HH:MM")
	ErrInvalidTimeRange        = errors.New("invalid time range")
	ErrSlotUnavailable         = errors.New("slot is not available")
	ErrMalformedLockResponse   = errors.New("malformed slot lock response")
	ErrInvalidStatusTransition = errors.New("invalid booking status transition")
	ErrForbidden               = errors.New("not allowed to modify this booking")

	// ErrBookingReleased is returned with ErrInvalidStatusTransition when a
	// payment arrives for a booking that was already cancelled.
	ErrBookingReleased = errors.New("booking was released before payment")
)

// SlotConflictError is returned when a booking attempt is refused by slot
// validation. It unwraps to ErrSlotUnavailable.
type SlotConflictError struct {
	Result *ValidationResult
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSlotUnavailable, e.Result.Message)
}

func (e *SlotConflictError) Unwrap() error {
	return ErrSlotUnavailable
}
