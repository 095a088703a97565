package domain

type TimeSlot struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
	BookingID string `json:"booking_id,omitempty"`
}

type DayStatus string

const (
	DayAvailable   DayStatus = "available"
	DayPartial     DayStatus = "partial"
	DayUnavailable DayStatus = "unavailable"
	DayDisabled    DayStatus = "disabled"
)

type DayAvailability struct {
	Date   string     `json:"date"`
	Status DayStatus  `json:"status"`
	Slots  []TimeSlot `json:"available_slots"`
}

// MonthAvailability is the per-day view of one calendar month for a space.
type MonthAvailability struct {
	SpaceID string                     `json:"space_id"`
	Month   string                     `json:"month"` // YYYY-MM
	Source  FetchSource                `json:"source"`
	Days    map[string]DayAvailability `json:"days"`
}

// DaySchedule is one weekday entry of a space's recurring availability.
// Hosts may store extra keys (hour ranges); only Enabled drives the calendar.
type DaySchedule struct {
	Enabled bool `json:"enabled"`
}

// SpaceAvailability mirrors the availability JSON document stored on a space.
type SpaceAvailability struct {
	Recurring map[string]DaySchedule `json:"recurring"`
}

// Day returns the schedule for a lowercase weekday name. A nil receiver or a
// missing entry yields a disabled day.
func (a *SpaceAvailability) Day(weekday string) DaySchedule {
	if a == nil || a.Recurring == nil {
		return DaySchedule{}
	}
	return a.Recurring[weekday]
}
