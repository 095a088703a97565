package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/auth"
	"github.com/diagnosis/coworking-spaces/pkg/config"
	"github.com/diagnosis/coworking-spaces/pkg/logger"
	mw "github.com/diagnosis/coworking-spaces/pkg/middleware"
	"github.com/diagnosis/coworking-spaces/pkg/response"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/realtime"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/service"
	"github.com/go-chi/chi/v5"
)

type ctxKey string

const claimsKey ctxKey = "claims"

type Handlers struct {
	availability  service.AvailabilityService
	bookings      service.BookingService
	payments      service.PaymentService
	listener      *realtime.Listener
	jwtSecret     string
	webhookSecret string
	heartbeat     time.Duration
	limiter       mw.Limiter
}

func New(
	availability service.AvailabilityService,
	bookings service.BookingService,
	payments service.PaymentService,
	listener *realtime.Listener,
	cfg *config.Config,
) *Handlers {
	return &Handlers{
		availability:  availability,
		bookings:      bookings,
		payments:      payments,
		listener:      listener,
		jwtSecret:     cfg.Auth.JWTSecret,
		webhookSecret: cfg.Stripe.WebhookSecret,
		heartbeat:     25 * time.Second,
	}
}

// WithRateLimit throttles slot validation and booking creation per client IP.
func (h *Handlers) WithRateLimit(l mw.Limiter) *Handlers {
	h.limiter = l
	return h
}

func (h *Handlers) throttle(prefix string) func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw.RateLimit(h.limiter, mw.ClientIPKey(prefix))
}

func (h *Handlers) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Route("/spaces", func(r chi.Router) {
			r.Post("/availability/batch", h.BatchAvailability)

			r.Route("/{spaceID}", func(r chi.Router) {
				r.Get("/availability", h.MonthAvailability)
				r.Get("/availability/stream", h.StreamAvailability)
				r.Get("/days/{date}", h.DayAvailability)
				r.Get("/bookings", h.SpaceBookings)
				r.Get("/conflicts", h.Conflicts)
				r.Get("/alternatives", h.Alternatives)
				r.With(h.throttle("validate"), h.RequireJWT("")).Post("/slots/validate", h.ValidateSlot)
			})
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Use(h.RequireJWT(""))
			r.With(h.throttle("create")).Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Delete("/{id}", h.CancelBooking)
			r.With(h.RequireJWT(auth.RoleHost)).Post("/{id}/approve", h.ApproveBooking)
			r.With(h.RequireJWT(auth.RoleHost)).Post("/{id}/reject", h.RejectBooking)
		})

		r.Post("/webhooks/stripe", h.StripeWebhook)
	})
}

// Middleware for JWT authentication
func (h *Handlers) RequireJWT(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Unauthorized(w, "Missing or invalid authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.Parse(token, h.jwtSecret)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "Invalid token", response.CodeInvalidToken)
				return
			}

			if requiredRole != "" && claims.Role != requiredRole && claims.Role != auth.RoleAdmin {
				response.Forbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), logger.UserIDKey, claims.Sub)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// writeServiceError maps domain errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *domain.SlotConflictError
	switch {
	case errors.As(err, &conflict):
		response.Conflict(w, conflict.Result.Message, conflict.Result)
	case errors.Is(err, domain.ErrBookingNotFound):
		response.NotFound(w, "Booking not found")
	case errors.Is(err, domain.ErrSpaceNotFound):
		response.NotFound(w, "Space not found")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(w, err.Error())
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		response.WriteError(w, http.StatusConflict, err.Error(), response.CodeConflict)
	case errors.Is(err, domain.ErrMissingSpace),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidTime),
		errors.Is(err, domain.ErrInvalidTimeRange):
		response.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrMalformedLockResponse):
		logger.ErrorContext(r.Context(), "Slot validation returned an invalid verdict", "error", err)
		response.WriteError(w, http.StatusBadGateway, "Slot validation is unavailable", response.CodeInternalError)
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
		response.InternalError(w, "Internal server error")
	}
}
