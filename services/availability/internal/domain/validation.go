package domain

import "strings"

type ConflictSummary struct {
	ID        string `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status"`
	UserID    string `json:"user_id"`
}

type ValidationSource string

const (
	ValidationServer ValidationSource = "server"
	ValidationClient ValidationSource = "client"
)

// ClientSideMarker is embedded in the message of every verdict produced by the
// local fallback instead of the database lock.
const ClientSideMarker = "client-side check"

type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Conflicts []ConflictSummary `json:"conflicts"`
	Message   string            `json:"message"`
	Source    ValidationSource  `json:"source"`
}

// ClientSide reports whether the verdict came from the degraded local check.
func (v *ValidationResult) ClientSide() bool {
	return v.Source == ValidationClient || strings.Contains(v.Message, ClientSideMarker)
}

func SummarizeConflicts(bookings []Booking) []ConflictSummary {
	out := make([]ConflictSummary, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, ConflictSummary{
			ID:        b.ID,
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
			Status:    string(b.Status),
			UserID:    b.UserID,
		})
	}
	return out
}

// ConflictCheck is the result of a direct, uncached overlap query.
type ConflictCheck struct {
	HasConflict         bool      `json:"has_conflict"`
	ConflictingBookings []Booking `json:"conflicting_bookings"`
}

// FetchSource tags which read path produced a booking list.
type FetchSource string

const (
	SourceCache     FetchSource = "cache"
	SourceOptimized FetchSource = "optimized"
	SourceFallback  FetchSource = "fallback"
)

type FetchResult struct {
	Source   FetchSource `json:"source"`
	Bookings []Booking   `json:"bookings"`
	// Degraded is set when every remote path failed and Bookings is an
	// empty placeholder rather than real data.
	Degraded bool `json:"degraded,omitempty"`
}
