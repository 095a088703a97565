package handlers

import (
	"io"
	"net/http"

	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/pkg/response"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe recommends rejecting payloads above this size
const maxWebhookBody = 65536

func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		response.WriteError(w, http.StatusServiceUnavailable, "Webhooks are not configured", response.CodeInternalError)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Unreadable body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		logger.WarnContext(r.Context(), "Rejected Stripe webhook", "error", err)
		response.BadRequest(w, "Invalid signature")
		return
	}

	if err := h.payments.HandleEvent(r.Context(), event); err != nil {
		// a non-2xx makes Stripe redeliver
		logger.ErrorContext(r.Context(), "Stripe event handling failed", "error", err, "event_id", event.ID, "type", event.Type)
		response.InternalError(w, "Event handling failed")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
