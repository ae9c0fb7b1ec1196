package models

import (
	"strings"
	"time"
	"unicode/utf8"

	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
)

const (
	maxPurposeLength = 500
	maxNoteLength    = 1000
)

type MeetingType string

const (
	MeetingPhysical MeetingType = "physical"
	MeetingRemote   MeetingType = "remote"
)

func (t MeetingType) IsValid() bool {
	return t == MeetingPhysical || t == MeetingRemote
}

// PartyStatus is one party's answer to a meeting request.
type PartyStatus string

const (
	PartyPending      PartyStatus = "pending"
	PartyAccepted     PartyStatus = "accepted"
	PartyDeclined     PartyStatus = "declined"
	PartyRescheduling PartyStatus = "rescheduling"
)

func (s PartyStatus) IsValid() bool {
	switch s {
	case PartyPending, PartyAccepted, PartyDeclined, PartyRescheduling:
		return true
	}
	return false
}

// IsTerminal reports whether the party can no longer change its answer.
func (s PartyStatus) IsTerminal() bool {
	return s == PartyAccepted || s == PartyDeclined
}

type OverallStatus string

const (
	OverallPending      OverallStatus = "pending"
	OverallConfirmed    OverallStatus = "confirmed"
	OverallRescheduling OverallStatus = "rescheduling"
	OverallDeclined     OverallStatus = "declined"
	OverallCancelled    OverallStatus = "cancelled"
)

func (s OverallStatus) IsTerminal() bool {
	return s == OverallConfirmed || s == OverallDeclined || s == OverallCancelled
}

// DeriveOverallStatus combines both party answers. A decline from either side
// dominates, then a reschedule request; only two acceptances confirm.
func DeriveOverallStatus(a, b PartyStatus) OverallStatus {
	switch {
	case a == PartyDeclined || b == PartyDeclined:
		return OverallDeclined
	case a == PartyRescheduling || b == PartyRescheduling:
		return OverallRescheduling
	case a == PartyAccepted && b == PartyAccepted:
		return OverallConfirmed
	default:
		return OverallPending
	}
}

// Party identifies which side of the meeting a user is on.
type Party string

const (
	PartyA Party = "a"
	PartyB Party = "b"
)

// Meeting is a site-visit request between a supervised party (A) and a
// supervising party (B), created by an initiator.
//
// Invariants:
//   - PartyAID and PartyBID are distinct
//   - OverallStatus is cancelled when CancelledAt is set, otherwise
//     DeriveOverallStatus(PartyAStatus, PartyBStatus)
//   - Version increases by one on every applied transition
type Meeting struct {
	ID                 id.MeetingID
	TenantID           id.TenantID
	InitiatorID        id.UserID
	PartyAID           id.UserID
	PartyBID           id.UserID
	Type               MeetingType
	Purpose            string
	ScheduledAt        time.Time
	PartyAStatus       PartyStatus
	PartyBStatus       PartyStatus
	OverallStatus      OverallStatus
	RescheduleProposal *time.Time
	RescheduleBy       *id.UserID
	// DeclineReason is the note of the first party to decline; that decline
	// decided the meeting.
	DeclineReason      string
	DeclinedBy         *id.UserID
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int
}

// NewMeeting builds a pending/pending meeting, enforcing construction invariants.
func NewMeeting(meetingID id.MeetingID, tenantID id.TenantID, initiatorID, partyAID, partyBID id.UserID, typ MeetingType, purpose string, scheduledAt, now time.Time) (*Meeting, error) {
	purpose = strings.TrimSpace(purpose)
	switch {
	case meetingID.IsNil():
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "meeting id is required")
	case tenantID.IsNil():
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant id is required")
	case initiatorID.IsNil(), partyAID.IsNil(), partyBID.IsNil():
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "initiator and both parties are required")
	case partyAID == partyBID:
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "parties must be distinct")
	case !typ.IsValid():
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "meeting type must be physical or remote")
	case scheduledAt.IsZero():
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "scheduled time is required")
	case purpose == "":
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "purpose is required")
	case utf8.RuneCountInString(purpose) > maxPurposeLength:
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "purpose is too long")
	}
	return &Meeting{
		ID:            meetingID,
		TenantID:      tenantID,
		InitiatorID:   initiatorID,
		PartyAID:      partyAID,
		PartyBID:      partyBID,
		Type:          typ,
		Purpose:       purpose,
		ScheduledAt:   scheduledAt,
		PartyAStatus:  PartyPending,
		PartyBStatus:  PartyPending,
		OverallStatus: OverallPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}, nil
}

// PartyOf returns which side userID is on.
func (m *Meeting) PartyOf(userID id.UserID) (Party, bool) {
	switch userID {
	case m.PartyAID:
		return PartyA, true
	case m.PartyBID:
		return PartyB, true
	}
	return "", false
}

// IsParticipant reports whether userID may see the meeting.
func (m *Meeting) IsParticipant(userID id.UserID) bool {
	_, isParty := m.PartyOf(userID)
	return isParty || userID == m.InitiatorID
}

func (m *Meeting) StatusOf(p Party) PartyStatus {
	if p == PartyA {
		return m.PartyAStatus
	}
	return m.PartyBStatus
}

func (m *Meeting) recompute() {
	if m.CancelledAt != nil {
		m.OverallStatus = OverallCancelled
		return
	}
	m.OverallStatus = DeriveOverallStatus(m.PartyAStatus, m.PartyBStatus)
}

// Response is a party's answer.
type Response struct {
	Status       PartyStatus
	Note         string
	ProposedTime *time.Time
}

// Validate normalizes the note and checks the fields each status needs.
func (r *Response) Validate() error {
	r.Note = strings.TrimSpace(r.Note)
	if utf8.RuneCountInString(r.Note) > maxNoteLength {
		return dErrors.New(dErrors.CodeValidation, "note is too long")
	}
	switch r.Status {
	case PartyAccepted:
		return nil
	case PartyDeclined:
		if r.Note == "" {
			return dErrors.New(dErrors.CodeValidation, "a decline requires a note")
		}
		return nil
	case PartyRescheduling:
		if r.ProposedTime == nil || r.ProposedTime.IsZero() {
			return dErrors.New(dErrors.CodeValidation, "a reschedule request requires a proposed time")
		}
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, "status must be accepted, declined or rescheduling")
}

// CanRespond checks whether responder may answer with resp.
// Re-sending a party's current terminal answer is allowed and changes nothing.
func (m *Meeting) CanRespond(responder id.UserID, resp Response) error {
	party, ok := m.PartyOf(responder)
	if !ok {
		return dErrors.New(dErrors.CodeInvalidParty, "responder is not a party to this meeting")
	}
	if m.CancelledAt != nil {
		return dErrors.New(dErrors.CodeAlreadyTerminal, "meeting was cancelled")
	}
	current := m.StatusOf(party)
	if current.IsTerminal() && current != resp.Status {
		return dErrors.New(dErrors.CodeAlreadyTerminal, "party has already "+string(current))
	}
	return nil
}

// ApplyResponse records the answer and recomputes the overall status. It
// returns false when the answer repeats a terminal one. Call CanRespond first.
func (m *Meeting) ApplyResponse(responder id.UserID, resp Response, now time.Time) bool {
	party, _ := m.PartyOf(responder)
	if m.StatusOf(party).IsTerminal() {
		return false
	}

	if party == PartyA {
		m.PartyAStatus = resp.Status
	} else {
		m.PartyBStatus = resp.Status
	}
	switch resp.Status {
	case PartyDeclined:
		if m.DeclinedBy == nil {
			by := responder
			m.DeclineReason = resp.Note
			m.DeclinedBy = &by
		}
	case PartyRescheduling:
		proposed := *resp.ProposedTime
		by := responder
		m.RescheduleProposal = &proposed
		m.RescheduleBy = &by
	}
	m.recompute()
	m.UpdatedAt = now
	m.Version++
	return true
}

// CanCancel allows only the initiator, and only before a terminal outcome.
func (m *Meeting) CanCancel(initiator id.UserID) error {
	if initiator != m.InitiatorID {
		return dErrors.New(dErrors.CodeForbidden, "only the initiator may cancel a meeting")
	}
	if m.OverallStatus.IsTerminal() {
		return dErrors.New(dErrors.CodeAlreadyTerminal, "meeting is already "+string(m.OverallStatus))
	}
	return nil
}

func (m *Meeting) ApplyCancel(now time.Time) {
	at := now
	m.CancelledAt = &at
	m.recompute()
	m.UpdatedAt = now
	m.Version++
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (m *Meeting) Clone() *Meeting {
	c := *m
	if m.RescheduleProposal != nil {
		t := *m.RescheduleProposal
		c.RescheduleProposal = &t
	}
	if m.RescheduleBy != nil {
		u := *m.RescheduleBy
		c.RescheduleBy = &u
	}
	if m.DeclinedBy != nil {
		u := *m.DeclinedBy
		c.DeclinedBy = &u
	}
	if m.CancelledAt != nil {
		t := *m.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
