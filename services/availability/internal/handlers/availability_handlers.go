package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/pkg/response"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxBatchSpaces = 100

// parseMonth reads ?month=YYYY-MM, defaulting to the current month.
func parseMonth(r *http.Request) (time.Time, bool) {
	v := r.URL.Query().Get("month")
	if v == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), true
	}
	t, err := time.Parse("2006-01", v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func queryBool(r *http.Request, key string, fallback bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func (h *Handlers) MonthAvailability(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceID")
	month, ok := parseMonth(r)
	if !ok {
		response.BadRequest(w, "month must be YYYY-MM")
		return
	}

	view, err := h.availability.MonthAvailability(logger.WithSpace(r.Context(), spaceID), spaceID, month, queryBool(r, "refresh", false))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, view)
}

func (h *Handlers) DayAvailability(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceID")
	day, err := h.availability.DayAvailability(logger.WithSpace(r.Context(), spaceID), spaceID, chi.URLParam(r, "date"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, day)
}

// SpaceBookings exposes the raw fetch with its source tag.
func (h *Handlers) SpaceBookings(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceID")
	q := r.URL.Query()
	opts := service.FetchOptions{
		UseCache: queryBool(r, "cache", true),
		UseRPC:   queryBool(r, "rpc", true),
	}

	res, err := h.availability.FetchSpaceBookings(logger.WithSpace(r.Context(), spaceID), spaceID, q.Get("start"), q.Get("end"), opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, res)
}

func (h *Handlers) Conflicts(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceID")
	q := r.URL.Query()
	date, start, end, err := domain.NormalizeInterval(q.Get("date"), q.Get("start"), q.Get("end"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	check := h.availability.CheckRealTimeConflicts(logger.WithSpace(r.Context(), spaceID), spaceID, date, start, end, q.Get("exclude"))
	response.WriteJSON(w, http.StatusOK, check)
}

func (h *Handlers) Alternatives(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceID")
	q := r.URL.Query()
	duration, err := strconv.ParseFloat(q.Get("duration"), 64)
	if err != nil {
		response.BadRequest(w, "duration must be a number of hours")
		return
	}

	alts, err := h.availability.AlternativeSlots(logger.WithSpace(r.Context(), spaceID), spaceID, q.Get("date"), duration)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"space_id":     spaceID,
		"date":         q.Get("date"),
		"alternatives": alts,
	})
}

type validateSlotReq struct {
	Date      string `json:"booking_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *Handlers) ValidateSlot(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceID")
	var req validateSlotReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON")
		return
	}

	var userID string
	if claims := getClaims(r); claims != nil {
		userID = claims.Sub
	}

	res, err := h.availability.ValidateBookingSlotWithLock(logger.WithSpace(r.Context(), spaceID), spaceID, req.Date, req.StartTime, req.EndTime, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, res)
}

type batchReq struct {
	SpaceIDs  []string `json:"space_ids"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
}

func (h *Handlers) BatchAvailability(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON")
		return
	}
	if len(req.SpaceIDs) > maxBatchSpaces {
		response.BadRequest(w, "too many space_ids")
		return
	}

	grouped, err := h.availability.FetchMultipleSpaces(r.Context(), req.SpaceIDs, req.StartDate, req.EndDate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{"spaces": grouped})
}
