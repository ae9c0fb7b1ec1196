// Package requesttime pins a single "now" per request so token expiry checks,
// scan timestamps and meeting updates within one call agree on the time.
package requesttime

import (
	"net/http"
	"time"

	"practicum/pkg/requestcontext"
)

// Middleware captures the wall-clock time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return New(time.Now)(next)
}

// New pins the time reported by clock. Acceptance tests pass a fake clock.
func New(clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clock())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
