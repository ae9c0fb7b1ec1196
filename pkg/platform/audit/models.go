package audit

import (
	"context"
	"time"

	id "practicum/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// Retention and routing are decided per category downstream.
type EventCategory string

const (
	// CategoryCompliance covers records of what was agreed or credited:
	// meeting lifecycle changes and accepted attendance scans.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events worth alerting on: replayed tokens,
	// cross-tenant presentations, forged tokens.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	TenantID  id.TenantID
	UserID    id.UserID
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RequestID string
	// ActorID is set when someone other than UserID performed the action,
	// e.g. the supervisor who scanned a student's token.
	ActorID string
	Device  string
}

type AuditEvent string

const (
	// Attendance events
	EventAttendanceTokenIssued  AuditEvent = "attendance_token_issued"
	EventAttendanceScanAccepted AuditEvent = "attendance_scan_accepted"
	EventAttendanceScanRejected AuditEvent = "attendance_scan_rejected"
	EventAttendanceScanReplayed AuditEvent = "attendance_scan_replayed"

	// Meeting events
	EventMeetingCreated   AuditEvent = "meeting_created"
	EventMeetingResponded AuditEvent = "meeting_responded"
	EventMeetingCancelled AuditEvent = "meeting_cancelled"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAttendanceScanAccepted: CategoryCompliance,
	EventMeetingCreated:         CategoryCompliance,
	EventMeetingResponded:       CategoryCompliance,
	EventMeetingCancelled:       CategoryCompliance,

	EventAttendanceScanReplayed: CategorySecurity,
	EventAttendanceScanRejected: CategorySecurity,

	EventAttendanceTokenIssued: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
