package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "practicum/pkg/domain"
	"practicum/pkg/requestcontext"
)

// JWTValidator defines the interface for validating bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims is the caller identity asserted by the identity provider.
type JWTClaims struct {
	UserID   string
	TenantID string
	Role     string
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth validates the bearer token and injects the caller identity
// into the request context. The core trusts this identity as-is.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			userID, errUser := id.ParseUserID(claims.UserID)
			tenantID, errTenant := id.ParseTenantID(claims.TenantID)
			role, errRole := id.ParseRole(claims.Role)
			if errUser != nil || errTenant != nil || errRole != nil {
				logger.WarnContext(ctx, "unauthorized access - incomplete identity claims",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid identity claims")
				return
			}

			ctx = requestcontext.WithIdentity(ctx, userID, tenantID, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose role is not in allowed. Must run after RequireAuth.
func RequireRole(logger *slog.Logger, allowed ...id.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			role := requestcontext.Role(ctx)
			if !role.In(allowed...) {
				logger.WarnContext(ctx, "forbidden - role not permitted",
					"request_id", requestcontext.RequestID(ctx),
					"role", role,
					"path", r.URL.Path,
				)
				writeJSONError(w, http.StatusForbidden, "forbidden", "Role not permitted for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
