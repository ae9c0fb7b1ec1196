package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"practicum/internal/meeting/models"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
	"practicum/pkg/platform/sentinel"
)

type meetingStore interface {
	Create(ctx context.Context, m *models.Meeting) error
	FindByID(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID) (*models.Meeting, error)
	ListByParticipant(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*models.Meeting, error)
	Execute(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID, validate func(*models.Meeting) error, mutate func(*models.Meeting)) (*models.Meeting, error)
}

// StoreSuite is the behaviour shared by every meeting store.
type StoreSuite struct {
	suite.Suite
	newStore func() meetingStore
	reset    func(ctx context.Context) error

	store     meetingStore
	ctx       context.Context
	tenant    id.TenantID
	initiator id.UserID
	now       time.Time
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	if s.reset != nil {
		s.Require().NoError(s.reset(s.ctx))
	}
	s.store = s.newStore()
	s.tenant = id.TenantID(uuid.New())
	s.initiator = id.UserID(uuid.New())
	s.now = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) meeting(a, b id.UserID, scheduledAt time.Time) *models.Meeting {
	m, err := models.NewMeeting(id.MeetingID(uuid.New()), s.tenant, s.initiator, a, b,
		models.MeetingRemote, "placement review", scheduledAt, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, m))
	return m
}

func (s *StoreSuite) TestCreateAndFind() {
	m := s.meeting(id.UserID(uuid.New()), id.UserID(uuid.New()), s.now.Add(time.Hour))

	got, err := s.store.FindByID(s.ctx, s.tenant, m.ID)
	s.Require().NoError(err)
	s.Equal(m.PartyAID, got.PartyAID)
	s.Equal(models.OverallPending, got.OverallStatus)
	s.Nil(got.RescheduleProposal)

	_, err = s.store.FindByID(s.ctx, id.TenantID(uuid.New()), m.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.store.Create(s.ctx, m), sentinel.ErrConflict)
}

func (s *StoreSuite) TestListByParticipantOrdersBySchedule() {
	a := id.UserID(uuid.New())
	late := s.meeting(a, id.UserID(uuid.New()), s.now.Add(48*time.Hour))
	early := s.meeting(id.UserID(uuid.New()), a, s.now.Add(2*time.Hour))
	s.meeting(id.UserID(uuid.New()), id.UserID(uuid.New()), s.now.Add(time.Hour))

	got, err := s.store.ListByParticipant(s.ctx, s.tenant, a)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(early.ID, got[0].ID)
	s.Equal(late.ID, got[1].ID)

	all, err := s.store.ListByParticipant(s.ctx, s.tenant, s.initiator)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *StoreSuite) TestExecute() {
	a, b := id.UserID(uuid.New()), id.UserID(uuid.New())
	m := s.meeting(a, b, s.now.Add(time.Hour))
	proposed := s.now.Add(72 * time.Hour)

	s.Run("applies and persists the mutation", func() {
		resp := models.Response{Status: models.PartyRescheduling, ProposedTime: &proposed}
		updated, err := s.store.Execute(s.ctx, s.tenant, m.ID,
			func(cur *models.Meeting) error { return cur.CanRespond(b, resp) },
			func(cur *models.Meeting) { cur.ApplyResponse(b, resp, s.now) },
		)
		s.Require().NoError(err)
		s.Equal(models.OverallRescheduling, updated.OverallStatus)

		stored, err := s.store.FindByID(s.ctx, s.tenant, m.ID)
		s.Require().NoError(err)
		s.Equal(models.PartyRescheduling, stored.PartyBStatus)
		s.Require().NotNil(stored.RescheduleProposal)
		s.True(stored.RescheduleProposal.Equal(proposed))
		s.Require().NotNil(stored.RescheduleBy)
		s.Equal(b, *stored.RescheduleBy)
		s.Equal(2, stored.Version)
	})

	s.Run("persists the first decliner and their note", func() {
		for _, step := range []struct {
			who  id.UserID
			note string
		}{{a, "A: sick"}, {b, "B: travelling"}} {
			resp := models.Response{Status: models.PartyDeclined, Note: step.note}
			_, err := s.store.Execute(s.ctx, s.tenant, m.ID,
				func(cur *models.Meeting) error { return cur.CanRespond(step.who, resp) },
				func(cur *models.Meeting) { cur.ApplyResponse(step.who, resp, s.now) },
			)
			s.Require().NoError(err)
		}

		stored, err := s.store.FindByID(s.ctx, s.tenant, m.ID)
		s.Require().NoError(err)
		s.Equal(models.OverallDeclined, stored.OverallStatus)
		s.Equal("A: sick", stored.DeclineReason)
		s.Require().NotNil(stored.DeclinedBy)
		s.Equal(a, *stored.DeclinedBy)
	})

	m = s.meeting(a, b, s.now.Add(2*time.Hour))

	s.Run("validation failure writes nothing", func() {
		_, err := s.store.Execute(s.ctx, s.tenant, m.ID,
			func(*models.Meeting) error { return dErrors.New(dErrors.CodeInvalidParty, "nope") },
			func(cur *models.Meeting) { cur.PartyAStatus = models.PartyDeclined },
		)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidParty))
		stored, err := s.store.FindByID(s.ctx, s.tenant, m.ID)
		s.Require().NoError(err)
		s.Equal(models.PartyPending, stored.PartyAStatus)
	})

	s.Run("missing meeting", func() {
		_, err := s.store.Execute(s.ctx, s.tenant, id.MeetingID(uuid.New()),
			func(*models.Meeting) error { return nil },
			func(*models.Meeting) {},
		)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// Both parties answer at once; neither answer may be lost.
func (s *StoreSuite) TestConcurrentResponsesSerialize() {
	a, b := id.UserID(uuid.New()), id.UserID(uuid.New())
	m := s.meeting(a, b, s.now.Add(time.Hour))
	accept := models.Response{Status: models.PartyAccepted}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, who := range []id.UserID{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, s.tenant, m.ID,
				func(cur *models.Meeting) error { return cur.CanRespond(who, accept) },
				func(cur *models.Meeting) { cur.ApplyResponse(who, accept, s.now) },
			)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	stored, err := s.store.FindByID(s.ctx, s.tenant, m.ID)
	s.Require().NoError(err)
	s.Equal(models.OverallConfirmed, stored.OverallStatus)
	s.Equal(3, stored.Version)
}
