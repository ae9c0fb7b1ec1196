// Package middleware applies per-caller sliding-window limits to
// authenticated routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"practicum/internal/ratelimit/metrics"
	"practicum/internal/ratelimit/models"
	"practicum/internal/ratelimit/store/bucket"
	"practicum/pkg/platform/circuit"
	"practicum/pkg/platform/httputil"
	"practicum/pkg/requestcontext"
)

// Store is a sliding-window bucket store.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	primary  Store
	fallback Store
	breaker  *circuit.Breaker
	limits   map[models.EndpointClass]models.Limit
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns every RateLimit into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithLimit sets the budget for a class. Classes without a budget are not limited.
func WithLimit(class models.EndpointClass, limit models.Limit) Option {
	return func(m *Middleware) {
		if limit.RequestsPerWindow > 0 && limit.Window > 0 {
			m.limits[class] = limit
		}
	}
}

// WithFallback replaces the in-memory store used while the primary circuit is open.
func WithFallback(store Store) Option {
	return func(m *Middleware) {
		m.fallback = store
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(mw *Middleware) {
		mw.metrics = m
	}
}

func New(primary Store, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary:  primary,
		fallback: bucket.New(),
		breaker:  circuit.New("ratelimit-store"),
		limits:   make(map[models.EndpointClass]models.Limit),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit limits the authenticated caller. It must run after RequireAuth.
// A failing store lets the request through until the circuit opens, after
// which the in-memory fallback decides and X-RateLimit-Status is "degraded".
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, ok := m.limits[class]
			if m.disabled || !ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := models.NewUserKey(class, requestcontext.TenantID(ctx), requestcontext.UserID(ctx))
			result, degraded, err := m.check(ctx, key, limit)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"request_id", requestcontext.RequestID(ctx),
					"class", class,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			if !result.Allowed {
				m.record(class, "denied")
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"class", class,
					"user_id", requestcontext.UserID(ctx),
				)
				writeRateLimitExceeded(w, result)
				return
			}
			m.record(class, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, bool, error) {
	result, err := m.primary.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
	if err == nil {
		if _, change := m.breaker.RecordSuccess(); change.Closed {
			m.logger.InfoContext(ctx, "rate limit store recovered", "breaker", m.breaker.Name())
			m.setCircuit(false)
		}
		return result, false, nil
	}

	if m.metrics != nil {
		m.metrics.IncrementStoreErrors()
	}
	useFallback, change := m.breaker.RecordFailure()
	if change.Opened {
		m.logger.WarnContext(ctx, "rate limit store circuit opened", "breaker", m.breaker.Name(), "error", err)
		m.setCircuit(true)
	}
	if !useFallback {
		return nil, false, err
	}
	result, fbErr := m.fallback.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
	if fbErr != nil {
		return nil, true, fbErr
	}
	return result, true, nil
}

func (m *Middleware) record(class models.EndpointClass, outcome string) {
	if m.metrics != nil {
		m.metrics.IncrementDecision(string(class), outcome)
	}
}

func (m *Middleware) setCircuit(open bool) {
	if m.metrics != nil {
		m.metrics.SetCircuitOpen(open)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:            "rate_limit_exceeded",
		ErrorDescription: "too many requests, try again later",
		RetryAfter:       result.RetryAfter,
	})
}
