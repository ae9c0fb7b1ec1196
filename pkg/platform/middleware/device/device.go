// Package device summarizes the scanning client from its User-Agent so scan
// records carry a coarse, non-identifying description of the scanner.
package device

import (
	"context"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"practicum/pkg/requestcontext"
)

type contextKeyDevice struct{}

const maxSummaryLen = 128

// Summarize renders a short "browser version / os [mobile|bot]" string.
// Returns "" for an empty User-Agent.
func Summarize(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ""
	}
	ua := useragent.New(userAgent)

	parts := make([]string, 0, 3)
	if name, version := ua.Browser(); name != "" {
		parts = append(parts, strings.TrimSpace(name+" "+version))
	}
	if os := ua.OS(); os != "" {
		parts = append(parts, os)
	}
	summary := strings.Join(parts, " / ")
	switch {
	case ua.Bot():
		summary += " [bot]"
	case ua.Mobile():
		summary += " [mobile]"
	}
	summary = strings.TrimSpace(summary)
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen]
	}
	return summary
}

// Middleware stores the device summary of the request's User-Agent in context.
// Must run after metadata.ClientMetadata.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithDevice(r.Context(), Summarize(requestcontext.UserAgent(r.Context())))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Device retrieves the device summary from the context.
func Device(ctx context.Context) string {
	if d, ok := ctx.Value(contextKeyDevice{}).(string); ok {
		return d
	}
	return ""
}

// WithDevice injects a device summary into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithDevice(ctx context.Context, summary string) context.Context {
	return context.WithValue(ctx, contextKeyDevice{}, summary)
}
