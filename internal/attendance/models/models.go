package models

import (
	"time"

	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
)

// ScanResult is the outcome recorded for a presented token.
type ScanResult string

const (
	ScanAccepted               ScanResult = "accepted"
	ScanRejectedExpired        ScanResult = "rejected_expired"
	ScanRejectedReplay         ScanResult = "rejected_replay"
	ScanRejectedTenantMismatch ScanResult = "rejected_tenant_mismatch"
)

func (r ScanResult) IsValid() bool {
	switch r {
	case ScanAccepted, ScanRejectedExpired, ScanRejectedReplay, ScanRejectedTenantMismatch:
		return true
	}
	return false
}

// VerificationToken is a short-lived proof that SubjectID presented itself
// to a scanner. It is never persisted; only its Nonce survives in ScanRecords.
//
// Invariants:
//   - ExpiresAt is after IssuedAt
//   - ExpiresAt - IssuedAt equals the configured window
//   - Nonce is unique per issuance
type VerificationToken struct {
	SubjectID id.UserID
	TenantID  id.TenantID
	IssuedAt  time.Time
	ExpiresAt time.Time
	Nonce     string
}

func (t VerificationToken) Lifetime() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// IsExpiredAt reports whether the token is past its window at now.
// A token is still valid at exactly ExpiresAt.
func (t VerificationToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IssuedToken is a freshly encoded token plus the time the client should
// replace it. RotateAt falls inside the validity window so a displayed code
// is always retired before it expires.
type IssuedToken struct {
	Token     string
	SubjectID id.UserID
	TenantID  id.TenantID
	IssuedAt  time.Time
	ExpiresAt time.Time
	RotateAt  time.Time
}

// ScanRecord is the append-only outcome of one validation attempt.
type ScanRecord struct {
	ID        id.ScanID
	TenantID  id.TenantID
	SubjectID id.UserID
	ScannedBy id.UserID
	Nonce     string
	Result    ScanResult
	ScannedAt time.Time
	Device    string
}

// NewScanRecord builds a record for token as seen by scannedBy at now.
func NewScanRecord(scanID id.ScanID, token VerificationToken, scannedBy id.UserID, result ScanResult, now time.Time, device string) (*ScanRecord, error) {
	if scanID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "scan id required")
	}
	if token.SubjectID.IsNil() || token.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "scan record requires subject and tenant")
	}
	if token.Nonce == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "scan record requires nonce")
	}
	if !result.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown scan result")
	}
	return &ScanRecord{
		ID:        scanID,
		TenantID:  token.TenantID,
		SubjectID: token.SubjectID,
		ScannedBy: scannedBy,
		Nonce:     token.Nonce,
		Result:    result,
		ScannedAt: now,
		Device:    device,
	}, nil
}

// PresenceStatus is derived from ScanRecords; it is never stored.
type PresenceStatus string

const (
	PresencePresent    PresenceStatus = "present"
	PresenceAbsent     PresenceStatus = "absent"
	PresenceNotScanned PresenceStatus = "not_scanned"
)

// SubjectPresence is one row of a presence poll.
type SubjectPresence struct {
	SubjectID  id.UserID
	Status     PresenceStatus
	LastScanAt *time.Time
}
