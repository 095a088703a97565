// Package slots holds the pure availability arithmetic: half-hour slot
// boundaries, the half-open overlap check and the per-day classification.
package slots

import (
	"fmt"

	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
)

const (
	DefaultOpenHour  = 9
	DefaultCloseHour = 18
)

// Window is the business-day span slots are generated for.
type Window struct {
	OpenHour  int
	CloseHour int
}

var DefaultWindow = Window{OpenHour: DefaultOpenHour, CloseHour: DefaultCloseHour}

// Generate returns the slot boundaries from openHour to closeHour inclusive at
// 30 minute steps, so N hours yield 2N+1 marks. An empty or inverted window
// yields no marks.
func Generate(openHour, closeHour int) []string {
	if openHour < 0 {
		openHour = 0
	}
	if closeHour > 24 {
		closeHour = 24
	}
	if closeHour <= openHour {
		return nil
	}

	marks := make([]string, 0, 2*(closeHour-openHour)+1)
	for m := openHour * 60; m <= closeHour*60; m += domain.SlotMinutes {
		marks = append(marks, domain.FormatClock(m))
	}
	return marks
}

// IsAvailable reports whether [start, end) on date is free of every pending or
// confirmed booking. Cancelled and served bookings never block.
func IsAvailable(date, start, end string, bookings []domain.Booking) bool {
	return FirstConflict(date, start, end, bookings) == nil
}

// FirstConflict returns the first blocking booking in slice order, or nil.
func FirstConflict(date, start, end string, bookings []domain.Booking) *domain.Booking {
	for i := range bookings {
		if bookings[i].Status.Blocks() && bookings[i].Overlaps(date, start, end) {
			return &bookings[i]
		}
	}
	return nil
}

// Conflicts returns every blocking booking overlapping [start, end) on date.
func Conflicts(date, start, end string, bookings []domain.Booking) []domain.Booking {
	var out []domain.Booking
	for _, b := range bookings {
		if b.Status.Blocks() && b.Overlaps(date, start, end) {
			out = append(out, b)
		}
	}
	return out
}

// CalculateDay classifies one calendar day for a space. A weekday that is
// missing from the recurring schedule or not enabled short-circuits to
// disabled without looking at bookings.
func CalculateDay(date string, schedule *domain.SpaceAvailability, bookings []domain.Booking, window Window) (domain.DayAvailability, error) {
	day, err := domain.ParseDate(date)
	if err != nil {
		return domain.DayAvailability{}, err
	}

	if !schedule.Day(domain.Weekday(day)).Enabled {
		return domain.DayAvailability{
			Date:   date,
			Status: domain.DayDisabled,
			Slots:  []domain.TimeSlot{},
		}, nil
	}

	marks := Generate(window.OpenHour, window.CloseHour)
	result := domain.DayAvailability{Date: date, Slots: []domain.TimeSlot{}}

	unavailable := 0
	for i := 0; i+1 < len(marks); i++ {
		slot := domain.TimeSlot{Start: marks[i], End: marks[i+1], Available: true}
		if b := FirstConflict(date, slot.Start, slot.End, bookings); b != nil {
			slot.Available = false
			slot.BookingID = b.ID
			unavailable++
		}
		result.Slots = append(result.Slots, slot)
	}

	result.Status = classify(unavailable, len(result.Slots))
	return result, nil
}

func classify(unavailable, total int) domain.DayStatus {
	switch {
	case total == 0:
		// an enabled day with an empty window has nothing to book
		return domain.DayUnavailable
	case unavailable == 0:
		return domain.DayAvailable
	case unavailable == total:
		return domain.DayUnavailable
	default:
		return domain.DayPartial
	}
}

// CalculateRange computes every day from first to last inclusive.
func CalculateRange(first, last string, schedule *domain.SpaceAvailability, bookings []domain.Booking, window Window) (map[string]domain.DayAvailability, error) {
	start, err := domain.ParseDate(first)
	if err != nil {
		return nil, err
	}
	end, err := domain.ParseDate(last)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s after %s", domain.ErrInvalidTimeRange, first, last)
	}

	days := make(map[string]domain.DayAvailability)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(domain.DateLayout)
		day, err := CalculateDay(date, schedule, bookings, window)
		if err != nil {
			return nil, err
		}
		days[date] = day
	}
	return days, nil
}
