package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/slots"
)

// ValidateBookingSlotWithLock asks the database to validate the interval under
// a row lock. If the lock procedure cannot be reached the verdict is computed
// from a direct conflict query and tagged as a client-side check. A response
// that arrives but does not match the expected shape is an error.
func (s *availabilityService) ValidateBookingSlotWithLock(ctx context.Context, spaceID, date, startTime, endTime, userID string) (*domain.ValidationResult, error) {
	if spaceID == "" {
		return nil, domain.ErrMissingSpace
	}
	date, start, end, err := domain.NormalizeInterval(date, startTime, endTime)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithSpace(ctx, spaceID)

	raw, err := s.bookings.ValidateSlotWithLock(ctx, spaceID, date, start, end, userID)
	if err != nil {
		logger.WarnContext(ctx, "Slot lock validation unavailable, using client-side check", "error", err)
		res := s.clientSideValidation(ctx, spaceID, date, start, end)
		s.metrics.observeValidation(res)
		return res, nil
	}

	res, err := decodeLockResponse(raw)
	if err != nil {
		logger.ErrorContext(ctx, "Slot lock validation returned an unexpected payload", "error", err)
		return nil, err
	}
	res.Source = domain.ValidationServer

	s.metrics.observeValidation(res)
	return res, nil
}

func (s *availabilityService) clientSideValidation(ctx context.Context, spaceID, date, start, end string) *domain.ValidationResult {
	found, err := s.bookings.ListConflicts(ctx, spaceID, date, start, end, "")
	if err != nil {
		logger.ErrorContext(ctx, "Client-side conflict query failed", "error", err)
		return &domain.ValidationResult{
			Valid:     false,
			Conflicts: []domain.ConflictSummary{},
			Message:   "Unable to verify slot availability (" + domain.ClientSideMarker + " failed)",
			Source:    domain.ValidationClient,
		}
	}

	// the query is trusted for the date but the overlap rule is applied here too
	conflicts := slots.Conflicts(date, start, end, found)
	res := &domain.ValidationResult{
		Valid:     len(conflicts) == 0,
		Conflicts: domain.SummarizeConflicts(conflicts),
		Source:    domain.ValidationClient,
	}
	if res.Valid {
		res.Message = "Slot is available (" + domain.ClientSideMarker + ")"
	} else {
		res.Message = fmt.Sprintf("Slot conflicts with %d existing booking(s) (%s)", len(conflicts), domain.ClientSideMarker)
	}
	return res
}

type lockConflict struct {
	ID        *string `json:"id"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	Status    *string `json:"status"`
	UserID    *string `json:"user_id"`
}

type lockResponse struct {
	Valid     *bool           `json:"valid"`
	Conflicts *[]lockConflict `json:"conflicts"`
	Message   *string         `json:"message"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedLockResponse, fmt.Sprintf(format, args...))
}

// decodeLockResponse checks the lock procedure's JSON strictly: every field
// present, every conflict complete, and no valid verdict carrying conflicts.
func decodeLockResponse(raw []byte) (*domain.ValidationResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, malformed("empty payload")
	}

	var resp lockResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, malformed("%v", err)
	}
	if resp.Valid == nil {
		return nil, malformed("missing valid")
	}
	if resp.Conflicts == nil {
		return nil, malformed("missing conflicts")
	}
	if resp.Message == nil {
		return nil, malformed("missing message")
	}

	out := &domain.ValidationResult{
		Valid:     *resp.Valid,
		Conflicts: make([]domain.ConflictSummary, 0, len(*resp.Conflicts)),
		Message:   *resp.Message,
	}
	for i, c := range *resp.Conflicts {
		if c.ID == nil || c.StartTime == nil || c.EndTime == nil || c.Status == nil {
			return nil, malformed("conflict %d is incomplete", i)
		}
		start, err := domain.NormalizeClock(*c.StartTime)
		if err != nil {
			return nil, malformed("conflict %d start_time: %v", i, err)
		}
		end, err := domain.NormalizeClock(*c.EndTime)
		if err != nil {
			return nil, malformed("conflict %d end_time: %v", i, err)
		}
		status, ok := domain.ParseBookingStatus(*c.Status)
		if !ok {
			return nil, malformed("conflict %d has unknown status %q", i, *c.Status)
		}
		summary := domain.ConflictSummary{ID: *c.ID, StartTime: start, EndTime: end, Status: string(status)}
		if c.UserID != nil {
			summary.UserID = *c.UserID
		}
		out.Conflicts = append(out.Conflicts, summary)
	}

	if out.Valid && len(out.Conflicts) > 0 {
		return nil, malformed("valid verdict with %d conflicts", len(out.Conflicts))
	}
	return out, nil
}
