package domain

import (
	"github.com/google/uuid"

	dErrors "practicum/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so the compiler rejects passing a
// tenant where a user is expected.
type (
	UserID    uuid.UUID
	TenantID  uuid.UUID
	MeetingID uuid.UUID
	ScanID    uuid.UUID
)

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id TenantID) String() string  { return uuid.UUID(id).String() }
func (id MeetingID) String() string { return uuid.UUID(id).String() }
func (id ScanID) String() string    { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id MeetingID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ScanID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// ParseUserID parses a non-nil UUID string into a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user_id")
	return UserID(u), err
}

// ParseTenantID parses a non-nil UUID string into a TenantID.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant_id")
	return TenantID(u), err
}

// ParseMeetingID parses a non-nil UUID string into a MeetingID.
func ParseMeetingID(s string) (MeetingID, error) {
	u, err := parseUUID(s, "meeting_id")
	return MeetingID(u), err
}

// ParseScanID parses a non-nil UUID string into a ScanID.
func ParseScanID(s string) (ScanID, error) {
	u, err := parseUUID(s, "scan_id")
	return ScanID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is too long")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be nil")
	}
	return u, nil
}
