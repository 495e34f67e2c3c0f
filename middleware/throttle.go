package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/credcore/credcore"
)

// Limiter decides whether a tracker may make another request. A positive
// wait refuses the request; an error with no wait is a backend failure.
type Limiter interface {
	Allow(ctx context.Context, tracker string) (time.Duration, error)
}

// Throttle refuses requests over budget with 429. The tracker is
// "user-<id>" when the request carries a valid access token, otherwise the
// client IP. Backend failures are logged and the request passes.
func Throttle(engine *credcore.Engine, limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tracker := Tracker(engine, r)
			wait, err := limiter.Allow(r.Context(), tracker)
			if wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteJSON(w, http.StatusTooManyRequests, ErrorBody{
					StatusCode: http.StatusTooManyRequests,
					Error:      http.StatusText(http.StatusTooManyRequests),
					Message:    TooManyRequestsMessage(wait),
				})
				return
			}
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", "tracker", tracker, "error", err)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Tracker names the caller for throttling.
func Tracker(engine *credcore.Engine, r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		return "user-" + claims.UserID
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok && engine != nil {
		if claims, err := engine.ValidateAccess(r.Context(), token); err == nil {
			return "user-" + claims.UserID
		}
	}
	return ClientIP(r)
}

// TooManyRequestsMessage rounds wait up to whole minutes.
func TooManyRequestsMessage(wait time.Duration) string {
	minutes := int(math.Ceil(wait.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Too many requests. Please try again in %d minute(s).", minutes)
}
