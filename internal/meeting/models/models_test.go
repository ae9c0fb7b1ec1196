package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
)

var allPartyStatuses = []PartyStatus{PartyPending, PartyAccepted, PartyDeclined, PartyRescheduling}

func TestDeriveOverallStatus(t *testing.T) {
	want := map[[2]PartyStatus]OverallStatus{
		{PartyAccepted, PartyAccepted}:         OverallConfirmed,
		{PartyPending, PartyPending}:           OverallPending,
		{PartyPending, PartyAccepted}:          OverallPending,
		{PartyAccepted, PartyPending}:          OverallPending,
		{PartyRescheduling, PartyPending}:      OverallRescheduling,
		{PartyRescheduling, PartyAccepted}:     OverallRescheduling,
		{PartyRescheduling, PartyRescheduling}: OverallRescheduling,
		{PartyPending, PartyRescheduling}:      OverallRescheduling,
		{PartyAccepted, PartyRescheduling}:     OverallRescheduling,
	}
	for _, a := range allPartyStatuses {
		for _, b := range allPartyStatuses {
			got := DeriveOverallStatus(a, b)
			assert.Equal(t, got, DeriveOverallStatus(a, b), "derivation must be deterministic")
			if a == PartyDeclined || b == PartyDeclined {
				assert.Equal(t, OverallDeclined, got, "%s/%s", a, b)
				continue
			}
			assert.Equal(t, want[[2]PartyStatus{a, b}], got, "%s/%s", a, b)
		}
	}
}

type fixture struct {
	initiator, a, b id.UserID
	m               *Meeting
	now             time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		initiator: id.UserID(uuid.New()),
		a:         id.UserID(uuid.New()),
		b:         id.UserID(uuid.New()),
		now:       time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	m, err := NewMeeting(id.MeetingID(uuid.New()), id.TenantID(uuid.New()), f.initiator, f.a, f.b,
		MeetingPhysical, "  mid-term site visit ", f.now.Add(48*time.Hour), f.now)
	require.NoError(t, err)
	f.m = m
	return f
}

func (f *fixture) respond(t *testing.T, who id.UserID, resp Response) error {
	t.Helper()
	if err := resp.Validate(); err != nil {
		return err
	}
	if err := f.m.CanRespond(who, resp); err != nil {
		return err
	}
	f.m.ApplyResponse(who, resp, f.now)
	return nil
}

func TestNewMeeting(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "mid-term site visit", f.m.Purpose)
	assert.Equal(t, OverallPending, f.m.OverallStatus)
	assert.Equal(t, 1, f.m.Version)

	same := id.UserID(uuid.New())
	_, err := NewMeeting(id.MeetingID(uuid.New()), id.TenantID(uuid.New()), f.initiator, same, same,
		MeetingRemote, "visit", f.now, f.now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewMeeting(id.MeetingID(uuid.New()), id.TenantID(uuid.New()), f.initiator, f.a, f.b,
		MeetingType("hybrid"), "visit", f.now, f.now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestBothAcceptConfirms(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.respond(t, f.a, Response{Status: PartyAccepted}))
	assert.Equal(t, OverallPending, f.m.OverallStatus)
	require.NoError(t, f.respond(t, f.b, Response{Status: PartyAccepted}))
	assert.Equal(t, OverallConfirmed, f.m.OverallStatus)
	assert.Equal(t, 3, f.m.Version)
}

func TestDeclineDominates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.respond(t, f.b, Response{Status: PartyDeclined, Note: "conflict"}))
	assert.Equal(t, OverallDeclined, f.m.OverallStatus)
	assert.Equal(t, "conflict", f.m.DeclineReason)

	require.NoError(t, f.respond(t, f.a, Response{Status: PartyAccepted}))
	assert.Equal(t, PartyAccepted, f.m.PartyAStatus)
	assert.Equal(t, OverallDeclined, f.m.OverallStatus)
}

func TestSecondDeclineKeepsFirstReason(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.respond(t, f.a, Response{Status: PartyDeclined, Note: "A: sick"}))
	require.NoError(t, f.respond(t, f.b, Response{Status: PartyDeclined, Note: "B: travelling"}))

	assert.Equal(t, PartyDeclined, f.m.PartyBStatus)
	assert.Equal(t, "A: sick", f.m.DeclineReason)
	require.NotNil(t, f.m.DeclinedBy)
	assert.Equal(t, f.a, *f.m.DeclinedBy)

	c := f.m.Clone()
	*c.DeclinedBy = f.b
	assert.Equal(t, f.a, *f.m.DeclinedBy, "clone must not share the decliner")
}

func TestTerminalImmutability(t *testing.T) {
	for _, terminal := range []Response{
		{Status: PartyAccepted},
		{Status: PartyDeclined, Note: "unavailable"},
	} {
		t.Run(string(terminal.Status), func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.respond(t, f.a, terminal))
			version := f.m.Version

			proposed := f.now.Add(72 * time.Hour)
			for _, next := range []Response{
				{Status: PartyAccepted},
				{Status: PartyDeclined, Note: "changed my mind"},
				{Status: PartyRescheduling, ProposedTime: &proposed},
			} {
				err := f.respond(t, f.a, next)
				if next.Status == terminal.Status {
					assert.NoError(t, err, "re-sending the same answer is a no-op")
				} else {
					assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyTerminal), "got %v", err)
				}
				assert.Equal(t, terminal.Status, f.m.PartyAStatus)
			}
			assert.Equal(t, version, f.m.Version)
			if terminal.Status == PartyDeclined {
				assert.Equal(t, "unavailable", f.m.DeclineReason)
			}
		})
	}
}

func TestRescheduling(t *testing.T) {
	f := newFixture(t)
	first := f.now.Add(72 * time.Hour)
	second := f.now.Add(96 * time.Hour)

	require.NoError(t, f.respond(t, f.a, Response{Status: PartyAccepted}))
	require.NoError(t, f.respond(t, f.b, Response{Status: PartyRescheduling, ProposedTime: &first}))
	assert.Equal(t, OverallRescheduling, f.m.OverallStatus)
	assert.Equal(t, PartyAccepted, f.m.PartyAStatus, "the other party is not reset")
	require.NotNil(t, f.m.RescheduleProposal)
	assert.True(t, f.m.RescheduleProposal.Equal(first))

	require.NoError(t, f.respond(t, f.b, Response{Status: PartyRescheduling, ProposedTime: &second}))
	assert.True(t, f.m.RescheduleProposal.Equal(second))
	assert.Equal(t, f.b, *f.m.RescheduleBy)

	require.NoError(t, f.respond(t, f.b, Response{Status: PartyAccepted}))
	assert.Equal(t, OverallConfirmed, f.m.OverallStatus)
}

func TestResponseValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		resp Response
		code dErrors.Code
	}{
		{"decline without note", Response{Status: PartyDeclined, Note: "   "}, dErrors.CodeValidation},
		{"reschedule without time", Response{Status: PartyRescheduling}, dErrors.CodeValidation},
		{"pending is not an answer", Response{Status: PartyPending}, dErrors.CodeValidation},
		{"unknown status", Response{Status: "maybe"}, dErrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.respond(t, f.a, tt.resp)
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	t.Run("strangers are not parties", func(t *testing.T) {
		err := f.respond(t, id.UserID(uuid.New()), Response{Status: PartyAccepted})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidParty))
	})

	t.Run("the initiator is not a party", func(t *testing.T) {
		err := f.respond(t, f.initiator, Response{Status: PartyAccepted})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidParty))
		assert.True(t, f.m.IsParticipant(f.initiator))
	})
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	assert.True(t, dErrors.HasCode(f.m.CanCancel(f.a), dErrors.CodeForbidden))

	require.NoError(t, f.m.CanCancel(f.initiator))
	f.m.ApplyCancel(f.now)
	assert.Equal(t, OverallCancelled, f.m.OverallStatus)

	assert.True(t, dErrors.HasCode(f.m.CanCancel(f.initiator), dErrors.CodeAlreadyTerminal))
	err := f.respond(t, f.a, Response{Status: PartyAccepted})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyTerminal))

	confirmed := newFixture(t)
	require.NoError(t, confirmed.respond(t, confirmed.a, Response{Status: PartyAccepted}))
	require.NoError(t, confirmed.respond(t, confirmed.b, Response{Status: PartyAccepted}))
	assert.True(t, dErrors.HasCode(confirmed.m.CanCancel(confirmed.initiator), dErrors.CodeAlreadyTerminal))
}
