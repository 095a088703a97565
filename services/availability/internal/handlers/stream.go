package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/events"
	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/pkg/response"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/go-chi/chi/v5"
)

type streamFrame struct {
	Change *events.BookingChangedEvent `json:"change,omitempty"`
	View   *domain.MonthAvailability   `json:"view"`
}

// StreamAvailability pushes the month view as server-sent events: once on
// connect and again after every booking change of the space. The change
// subscription lives exactly as long as the client connection.
func (h *Handlers) StreamAvailability(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceID")
	month, ok := parseMonth(r)
	if !ok {
		response.BadRequest(w, "month must be YYYY-MM")
		return
	}
	ctx := logger.WithSpace(r.Context(), spaceID)

	// validates the space before committing to a stream
	initial, err := h.availability.MonthAvailability(ctx, spaceID, month, false)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	changes, sub, err := h.listener.Changes(ctx, spaceID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer sub.Unsubscribe()

	rc := http.NewResponseController(w)
	// the server write timeout would otherwise cut the stream
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(event string, data interface{}) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := send("availability", streamFrame{View: initial}); err != nil {
		return
	}
	logger.DebugContext(ctx, "Availability stream opened", "subscription_id", sub.ID)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(context.WithoutCancel(ctx), "Availability stream closed", "subscription_id", sub.ID)
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case ev := <-changes:
			// the listener has already invalidated the space's cache
			view, err := h.availability.MonthAvailability(ctx, spaceID, month, false)
			if err != nil {
				logger.WarnContext(ctx, "Failed to refresh streamed availability", "error", err)
				if send("error", map[string]string{"error": "refresh failed"}) != nil {
					return
				}
				continue
			}
			if err := send("availability", streamFrame{Change: ev, View: view}); err != nil {
				return
			}
		}
	}
}
