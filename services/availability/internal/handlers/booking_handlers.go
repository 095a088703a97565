package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/diagnosis/coworking-spaces/pkg/auth"
	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/pkg/response"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req domain.CreateBookingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON")
		return
	}

	ctx := logger.WithSpace(r.Context(), req.SpaceID)
	res, err := h.bookings.CreateBooking(ctx, claims.Sub, req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	response.WriteJSON(w, status, res)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	b, err := h.bookings.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !b.IsOwner(claims.Sub) && claims.Role != auth.RoleAdmin {
		// do not reveal other users' bookings
		response.NotFound(w, "Booking not found")
		return
	}
	response.WriteJSON(w, http.StatusOK, b)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	b, err := h.bookings.CancelBooking(r.Context(), chi.URLParam(r, "id"), claims.Sub, claims.Role == auth.RoleAdmin)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, b)
}

// ApproveBooking confirms a pending booking. Only the host of the booked
// space (or an admin) may approve.
func (h *Handlers) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	h.hostDecision(w, r, h.bookings.ApproveBooking)
}

func (h *Handlers) RejectBooking(w http.ResponseWriter, r *http.Request) {
	h.hostDecision(w, r, h.bookings.RejectBooking)
}

func (h *Handlers) hostDecision(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, id, hostID string, privileged bool) (*domain.Booking, error)) {
	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	b, err := decide(r.Context(), chi.URLParam(r, "id"), claims.Sub, claims.Role == auth.RoleAdmin)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, b)
}
