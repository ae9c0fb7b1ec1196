package models

import (
	"time"

	id "practicum/pkg/domain"
)

// EndpointClass groups routes that share a limit.
type EndpointClass string

const (
	// ClassTokenIssue covers token issuance; a subject's device refreshes on the rotation cadence.
	ClassTokenIssue EndpointClass = "token_issue"
	// ClassScan covers token validation by staff scanners.
	ClassScan EndpointClass = "scan"
)

func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassTokenIssue, ClassScan:
		return true
	}
	return false
}

// Limit is a sliding-window budget.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// NewUserKey scopes a bucket to one caller within one tenant.
func NewUserKey(class EndpointClass, tenantID id.TenantID, userID id.UserID) string {
	return "rl:" + string(class) + ":" + tenantID.String() + ":" + userID.String()
}

// RateLimitExceededResponse is the API response when a caller's budget is spent.
type RateLimitExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}

// RetryAfterSeconds rounds the wait until resetAt up to whole seconds, minimum 1.
func RetryAfterSeconds(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
