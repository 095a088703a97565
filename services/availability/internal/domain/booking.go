package domain

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	// BookingServed marks a consumed booking. Revenue reports count it; it does
	// not block availability.
	BookingServed BookingStatus = "served"
)

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(s) {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingServed:
		return BookingStatus(s), true
	default:
		return "", false
	}
}

// ActiveStatuses are the statuses that hold a slot.
var ActiveStatuses = []BookingStatus{BookingPending, BookingConfirmed}

// Blocks reports whether a booking in this status occupies its interval.
func (s BookingStatus) Blocks() bool {
	return s == BookingPending || s == BookingConfirmed
}

type Booking struct {
	ID        string        `json:"id"`
	SpaceID   string        `json:"space_id"`
	UserID    string        `json:"user_id"`
	Date      string        `json:"booking_date"` // YYYY-MM-DD
	StartTime string        `json:"start_time"`   // HH:MM
	EndTime   string        `json:"end_time"`     // HH:MM
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	// PaidAt is set once payment is captured. A paid booking still pending is
	// waiting for host approval and is never expired.
	PaidAt *time.Time `json:"paid_at,omitempty"`
}

// Overlaps reports whether the half-open interval [start, end) intersects the
// booking on the same date. Touching intervals do not overlap.
func (b *Booking) Overlaps(date, start, end string) bool {
	return b.Date == date && start < b.EndTime && end > b.StartTime
}

// CanCancel reports whether the booking can still be cancelled.
func (b *Booking) CanCancel() bool {
	return b.Status.Blocks()
}

func (b *Booking) IsOwner(userID string) bool {
	return b.UserID != "" && b.UserID == userID
}

type CreateBookingReq struct {
	SpaceID   string `json:"space_id"`
	Date      string `json:"booking_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Normalize validates the request and rewrites its times to canonical HH:MM.
func (r *CreateBookingReq) Normalize() error {
	if r.SpaceID == "" {
		return ErrMissingSpace
	}
	date, start, end, err := NormalizeInterval(r.Date, r.StartTime, r.EndTime)
	if err != nil {
		return err
	}
	r.Date, r.StartTime, r.EndTime = date, start, end
	return nil
}

// CreateBookingResult carries the created booking together with the
// validation verdict it was admitted under.
type CreateBookingResult struct {
	Booking    *Booking          `json:"booking"`
	Validation *ValidationResult `json:"validation"`
	Replayed   bool              `json:"replayed,omitempty"`
}
