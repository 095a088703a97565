package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
)

func TestValidateBookingSlotWithLock_Server(t *testing.T) {
	h := newHarness()
	h.repo.lockRaw = []byte(`{"valid":false,"conflicts":[{"id":"b1","start_time":"10:00:00","end_time":"11:00:00","status":"confirmed","user_id":"u9"}],"message":"Slot conflicts with 1 booking"}`)

	res, err := h.svc.ValidateBookingSlotWithLock(context.Background(), "s1", "2024-03-04", "10:30", "11:30", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid || res.Source != domain.ValidationServer || res.ClientSide() {
		t.Fatalf("expected server-side rejection, got %+v", res)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].StartTime != "10:00" || res.Conflicts[0].UserID != "u9" {
		t.Fatalf("unexpected conflicts: %+v", res.Conflicts)
	}
	if h.repo.lastUserID != "u1" {
		t.Fatalf("user id not forwarded to lock procedure: %q", h.repo.lastUserID)
	}
}

func TestValidateBookingSlotWithLock_ClientFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(booking("b1", "s1", "2024-03-04", "10:00", "11:00", domain.BookingConfirmed))
	h.repo.lockErr = errDown

	res, err := h.svc.ValidateBookingSlotWithLock(ctx, "s1", "2024-03-04", "10:30", "11:30", "u1")
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if res.Valid || len(res.Conflicts) != 1 || res.Conflicts[0].ID != "b1" {
		t.Fatalf("expected conflict with b1, got %+v", res)
	}
	if !res.ClientSide() || !strings.Contains(res.Message, domain.ClientSideMarker) {
		t.Fatalf("fallback verdict must be marked client-side, got %+v", res)
	}

	// touching intervals are free
	res, _ = h.svc.ValidateBookingSlotWithLock(ctx, "s1", "2024-03-04", "11:00", "12:00", "u1")
	if !res.Valid || !res.ClientSide() {
		t.Fatalf("expected client-side approval, got %+v", res)
	}
}

func TestValidateBookingSlotWithLock_BothTiersDown(t *testing.T) {
	h := newHarness()
	h.repo.lockErr, h.repo.conflictsErr = errDown, errDown

	res, err := h.svc.ValidateBookingSlotWithLock(context.Background(), "s1", "2024-03-04", "10:00", "11:00", "u1")
	if err != nil {
		t.Fatalf("expected a verdict, got error %v", err)
	}
	if res.Valid || !res.ClientSide() || res.Conflicts == nil {
		t.Fatalf("expected fail-closed client-side verdict, got %+v", res)
	}
}

func TestValidateBookingSlotWithLock_InvalidInput(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.svc.ValidateBookingSlotWithLock(ctx, "s1", "2024-03-04", "11:00", "10:00", "u1"); !errors.Is(err, domain.ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}
	if h.repo.lockCalls != 0 {
		t.Fatal("lock procedure must not be called for invalid input")
	}
}

func TestValidateBookingSlotWithLock_MalformedResponse(t *testing.T) {
	h := newHarness()
	h.repo.lockRaw = []byte(`{"ok":true}`)

	_, err := h.svc.ValidateBookingSlotWithLock(context.Background(), "s1", "2024-03-04", "10:00", "11:00", "u1")
	if !errors.Is(err, domain.ErrMalformedLockResponse) {
		t.Fatalf("expected ErrMalformedLockResponse, got %v", err)
	}
}

func TestDecodeLockResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		valid   bool
	}{
		{name: "available", raw: `{"valid":true,"conflicts":[],"message":"ok"}`, valid: true},
		{name: "null user id", raw: `{"valid":false,"conflicts":[{"id":"b","start_time":"10:00","end_time":"11:00","status":"pending","user_id":null}],"message":"taken"}`},
		{name: "null payload", raw: `null`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
		{name: "missing valid", raw: `{"conflicts":[],"message":"x"}`, wantErr: true},
		{name: "missing conflicts", raw: `{"valid":true,"message":"x"}`, wantErr: true},
		{name: "null conflicts", raw: `{"valid":true,"conflicts":null,"message":"x"}`, wantErr: true},
		{name: "missing message", raw: `{"valid":true,"conflicts":[]}`, wantErr: true},
		{name: "wrong type", raw: `{"valid":"yes","conflicts":[],"message":"x"}`, wantErr: true},
		{name: "incomplete conflict", raw: `{"valid":false,"conflicts":[{"id":"b"}],"message":"x"}`, wantErr: true},
		{name: "bad conflict time", raw: `{"valid":false,"conflicts":[{"id":"b","start_time":"ten","end_time":"11:00","status":"pending"}],"message":"x"}`, wantErr: true},
		{name: "unknown conflict status", raw: `{"valid":false,"conflicts":[{"id":"b","start_time":"10:00","end_time":"11:00","status":"held"}],"message":"x"}`, wantErr: true},
		{name: "valid with conflicts", raw: `{"valid":true,"conflicts":[{"id":"b","start_time":"10:00","end_time":"11:00","status":"pending"}],"message":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := decodeLockResponse([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrMalformedLockResponse) {
					t.Fatalf("expected ErrMalformedLockResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Valid != tt.valid {
				t.Fatalf("valid = %v, want %v", res.Valid, tt.valid)
			}
		})
	}
}
