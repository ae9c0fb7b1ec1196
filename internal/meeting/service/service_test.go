package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,AuditPublisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"practicum/internal/meeting/models"
	"practicum/internal/meeting/service/mocks"
	"practicum/internal/meeting/store"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
	"practicum/pkg/platform/audit"
	"practicum/pkg/platform/audit/publisher"
	auditmemory "practicum/pkg/platform/audit/store/memory"
	"practicum/pkg/requestcontext"
)

// Justification for unit tests: the negotiation rules (who may answer, when
// answers become final, what each answer does to the overall status) are
// service invariants exercised here against the real in-memory store.
type ServiceSuite struct {
	suite.Suite
	svc        *Service
	auditStore *auditmemory.InMemoryStore
	ctx        context.Context

	tenant      id.TenantID
	coordinator id.UserID
	student     id.UserID
	supervisor  id.UserID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.auditStore = auditmemory.NewInMemoryStore()
	s.svc = New(store.NewInMemory(), WithAuditPublisher(publisher.NewPublisher(s.auditStore)))
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC))
	s.tenant = id.TenantID(uuid.New())
	s.coordinator = id.UserID(uuid.New())
	s.student = id.UserID(uuid.New())
	s.supervisor = id.UserID(uuid.New())
}

func (s *ServiceSuite) create() *models.Meeting {
	m, err := s.svc.Create(s.ctx, CreateCommand{
		TenantID:    s.tenant,
		InitiatorID: s.coordinator,
		PartyAID:    s.student,
		PartyBID:    s.supervisor,
		Type:        models.MeetingPhysical,
		ScheduledAt: requestcontext.Now(s.ctx).Add(72 * time.Hour),
		Purpose:     "Mid-placement site visit",
	})
	s.Require().NoError(err)
	return m
}

func (s *ServiceSuite) respond(m *models.Meeting, who id.UserID, resp models.Response) (*models.Meeting, error) {
	return s.svc.Respond(s.ctx, s.tenant, m.ID, who, resp)
}

func (s *ServiceSuite) TestBothPartiesAccept() {
	m := s.create()
	s.Equal(models.PartyPending, m.PartyAStatus)
	s.Equal(models.PartyPending, m.PartyBStatus)

	s.Run("one acceptance leaves it pending", func() {
		updated, err := s.respond(m, s.student, models.Response{Status: models.PartyAccepted})
		s.Require().NoError(err)
		s.Equal(models.OverallPending, updated.OverallStatus)
	})
	s.Run("the second acceptance confirms it", func() {
		updated, err := s.respond(m, s.supervisor, models.Response{Status: models.PartyAccepted})
		s.Require().NoError(err)
		s.Equal(models.OverallConfirmed, updated.OverallStatus)
	})
}

func (s *ServiceSuite) TestDeclineIsFinal() {
	m := s.create()

	updated, err := s.respond(m, s.supervisor, models.Response{Status: models.PartyDeclined, Note: "conflict"})
	s.Require().NoError(err)
	s.Equal(models.OverallDeclined, updated.OverallStatus)
	s.Equal("conflict", updated.DeclineReason)

	updated, err = s.respond(m, s.student, models.Response{Status: models.PartyAccepted})
	s.Require().NoError(err)
	s.Equal(models.OverallDeclined, updated.OverallStatus)

	_, err = s.respond(m, s.supervisor, models.Response{Status: models.PartyAccepted})
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyTerminal), "got %v", err)

	same, err := s.respond(m, s.supervisor, models.Response{Status: models.PartyDeclined, Note: "still a conflict"})
	s.Require().NoError(err)
	s.Equal("conflict", same.DeclineReason)

	events, err := s.auditStore.ListByAction(context.Background(), audit.EventMeetingResponded)
	s.Require().NoError(err)
	s.Len(events, 2, "the repeated decline is not audited")
}

func (s *ServiceSuite) TestRespondRejections() {
	m := s.create()

	s.Run("stranger is not a party", func() {
		_, err := s.respond(m, id.UserID(uuid.New()), models.Response{Status: models.PartyAccepted})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidParty))
	})

	s.Run("other tenant sees not found", func() {
		_, err := s.svc.Respond(s.ctx, id.TenantID(uuid.New()), m.ID, s.student, models.Response{Status: models.PartyAccepted})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("reschedule needs a time", func() {
		_, err := s.respond(m, s.student, models.Response{Status: models.PartyRescheduling})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestCreateValidation() {
	_, err := s.svc.Create(s.ctx, CreateCommand{
		TenantID:    s.tenant,
		InitiatorID: s.coordinator,
		PartyAID:    s.student,
		PartyBID:    s.student,
		Type:        models.MeetingRemote,
		ScheduledAt: requestcontext.Now(s.ctx),
		Purpose:     "visit",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
}

func (s *ServiceSuite) TestViewerAccess() {
	m := s.create()
	stranger := id.UserID(uuid.New())

	for _, viewer := range []id.UserID{s.coordinator, s.student, s.supervisor} {
		got, err := s.svc.Get(s.ctx, s.tenant, m.ID, viewer)
		s.Require().NoError(err)
		s.Equal(m.ID, got.ID)

		list, err := s.svc.ListForViewer(s.ctx, s.tenant, viewer)
		s.Require().NoError(err)
		s.Len(list, 1)
	}

	_, err := s.svc.Get(s.ctx, s.tenant, m.ID, stranger)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	list, err := s.svc.ListForViewer(s.ctx, s.tenant, stranger)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *ServiceSuite) TestCancel() {
	m := s.create()

	_, err := s.svc.Cancel(s.ctx, s.tenant, m.ID, s.student)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.svc.Cancel(s.ctx, s.tenant, m.ID, id.UserID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	cancelled, err := s.svc.Cancel(s.ctx, s.tenant, m.ID, s.coordinator)
	s.Require().NoError(err)
	s.Equal(models.OverallCancelled, cancelled.OverallStatus)

	_, err = s.respond(m, s.student, models.Response{Status: models.PartyAccepted})
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyTerminal))
}

func (s *ServiceSuite) TestConcurrentResponses() {
	m := s.create()
	var wg sync.WaitGroup
	for _, who := range []id.UserID{s.student, s.supervisor} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.respond(m, who, models.Response{Status: models.PartyAccepted})
			s.NoError(err)
		}()
	}
	wg.Wait()

	got, err := s.svc.Get(s.ctx, s.tenant, m.ID, s.coordinator)
	s.Require().NoError(err)
	s.Equal(models.OverallConfirmed, got.OverallStatus)
}

func TestStoreFailuresAreInternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	pub := mocks.NewMockAuditPublisher(ctrl)
	svc := New(st, WithAuditPublisher(pub))
	ctx := context.Background()

	st.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))
	_, err := svc.Create(ctx, CreateCommand{
		TenantID:    id.TenantID(uuid.New()),
		InitiatorID: id.UserID(uuid.New()),
		PartyAID:    id.UserID(uuid.New()),
		PartyBID:    id.UserID(uuid.New()),
		Type:        models.MeetingRemote,
		ScheduledAt: time.Now().Add(time.Hour),
		Purpose:     "check-in",
	})
	if !dErrors.HasCode(err, dErrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}

	st.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("deadlock detected"))
	_, err = svc.Respond(ctx, id.TenantID(uuid.New()), id.MeetingID(uuid.New()), id.UserID(uuid.New()),
		models.Response{Status: models.PartyAccepted})
	if !dErrors.HasCode(err, dErrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
