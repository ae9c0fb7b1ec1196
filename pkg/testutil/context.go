package testutil

import (
	"net/http"
	"time"

	id "practicum/pkg/domain"
	"practicum/pkg/requestcontext"
)

// WithIdentity attaches a caller identity to the request context, simulating
// the auth middleware for handler tests.
func WithIdentity(req *http.Request, userID id.UserID, tenantID id.TenantID, role id.Role) *http.Request {
	return req.WithContext(requestcontext.WithIdentity(req.Context(), userID, tenantID, role))
}

// WithTime pins the request clock, simulating the requesttime middleware.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
