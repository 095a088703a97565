package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"

	// SlotMinutes is the booking granularity.
	SlotMinutes = 30
)

// NormalizeClock accepts HH:MM or HH:MM:SS and returns HH:MM. 24:00 is
// accepted as the end-of-day boundary.
func NormalizeClock(s string) (string, error) {
	m, err := ClockMinutes(s)
	if err != nil {
		return "", err
	}
	return FormatClock(m), nil
}

// ClockMinutes returns minutes since midnight for an HH:MM[:SS] string.
func ClockMinutes(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec != 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return h*60 + m, nil
}

func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// Weekday returns the lowercase English weekday name used as the key of the
// recurring schedule.
func Weekday(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}

// NormalizeInterval validates a booking interval: a real date, slot-aligned
// times and start strictly before end.
func NormalizeInterval(date, start, end string) (string, string, string, error) {
	if _, err := ParseDate(date); err != nil {
		return "", "", "", err
	}
	startMin, err := ClockMinutes(start)
	if err != nil {
		return "", "", "", err
	}
	endMin, err := ClockMinutes(end)
	if err != nil {
		return "", "", "", err
	}
	if startMin >= endMin {
		return "", "", "", fmt.Errorf("%w: %s-%s", ErrInvalidTimeRange, start, end)
	}
	if startMin%SlotMinutes != 0 || endMin%SlotMinutes != 0 {
		return "", "", "", fmt.Errorf("%w: times must align to %d minutes", ErrInvalidTimeRange, SlotMinutes)
	}
	return date, FormatClock(startMin), FormatClock(endMin), nil
}

// MonthRange returns the first and last calendar day of the month containing t.
func MonthRange(t time.Time) (time.Time, time.Time) {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first, last
}
