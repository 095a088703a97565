package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/pkg/response"
)

// Limiter counts a hit for key and reports whether it is still within quota.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit rejects requests with 429 once any key from keyFunc is over
// quota. Limiter errors let the request through.
func RateLimit(l Limiter, keyFunc func(r *http.Request) []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, key := range keyFunc(r) {
				ok, err := l.Allow(r.Context(), key)
				if err != nil {
					logger.WarnContext(r.Context(), "Rate limit check failed", "error", err)
					continue
				}
				if !ok {
					response.TooManyRequests(w, "Too many requests. Try again later.")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKey rate limits by caller address, scoped to the route prefix.
func ClientIPKey(prefix string) func(r *http.Request) []string {
	return func(r *http.Request) []string {
		ip := ClientIP(r)
		if ip == "" {
			return nil
		}
		return []string{prefix + ":ip:" + ip}
	}
}

// ClientIP extracts the real client IP from the request
func ClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
