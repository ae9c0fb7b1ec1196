package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks ScanStore,AuditPublisher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"practicum/internal/attendance/models"
	"practicum/internal/attendance/presence"
	"practicum/internal/attendance/service/mocks"
	"practicum/internal/attendance/store/scan"
	"practicum/internal/attendance/token"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
	"practicum/pkg/platform/audit"
	auditmemory "practicum/pkg/platform/audit/store/memory"
	"practicum/pkg/platform/audit/publisher"
	"practicum/pkg/platform/middleware/device"
	"practicum/pkg/platform/sentinel"
	"practicum/pkg/requestcontext"
)

// Justification for unit tests: validation ordering, replay detection under
// concurrency and the audit side effects are service-level invariants that
// HTTP tests can only observe indirectly.
type ServiceSuite struct {
	suite.Suite
	codec      *token.Codec
	issuer     *token.Issuer
	scans      *scan.InMemory
	auditStore *auditmemory.InMemoryStore
	svc        *Service

	tenant     id.TenantID
	student    id.UserID
	supervisor id.UserID
	t0         time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	var err error
	s.codec, err = token.NewCodec("service-test-secret", 60*time.Second)
	s.Require().NoError(err)
	s.issuer, err = token.NewIssuer(s.codec, 30*time.Second)
	s.Require().NoError(err)
	s.scans = scan.NewInMemory()
	s.auditStore = auditmemory.NewInMemoryStore()

	s.svc = New(s.issuer, s.codec, s.scans, presence.NewAggregator(s.scans, presence.DefaultPolicy()),
		WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
	)

	s.tenant = id.TenantID(uuid.New())
	s.student = id.UserID(uuid.New())
	s.supervisor = id.UserID(uuid.New())
	s.t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) at(t time.Time) context.Context {
	ctx := requestcontext.WithTime(context.Background(), t)
	return device.WithDevice(ctx, "Safari 17 / iOS mobile")
}

func (s *ServiceSuite) issue() string {
	issued, err := s.svc.IssueToken(s.at(s.t0), s.student, s.tenant)
	s.Require().NoError(err)
	return issued.Token
}

func (s *ServiceSuite) requireCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), "unexpected error: %v", err)
}

func (s *ServiceSuite) history() []models.ScanRecord {
	records, err := s.svc.ScanHistory(context.Background(), s.tenant, s.student)
	s.Require().NoError(err)
	return records
}

func (s *ServiceSuite) TestIssueToken() {
	issued, err := s.svc.IssueToken(s.at(s.t0), s.student, s.tenant)
	s.Require().NoError(err)
	s.Equal(s.t0.Add(60*time.Second), issued.ExpiresAt)
	s.Equal(s.t0.Add(30*time.Second), issued.RotateAt)

	events, err := s.auditStore.ListByAction(context.Background(), audit.EventAttendanceTokenIssued)
	s.Require().NoError(err)
	s.Len(events, 1)
	s.Equal(audit.CategoryOperations, events[0].Category)

	_, err = s.svc.IssueToken(s.at(s.t0), id.UserID{}, s.tenant)
	s.requireCode(err, dErrors.CodeValidation)
}

func (s *ServiceSuite) TestHappyPathScan() {
	raw := s.issue()

	rec, err := s.svc.Validate(s.at(s.t0.Add(10*time.Second)), raw, s.tenant, s.supervisor)
	s.Require().NoError(err)
	s.Equal(models.ScanAccepted, rec.Result)
	s.Equal(s.student, rec.SubjectID)
	s.Equal(s.supervisor, rec.ScannedBy)
	s.Equal("Safari 17 / iOS mobile", rec.Device)

	got, err := s.svc.PresenceFor(context.Background(), s.tenant, s.student, s.t0.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(models.PresencePresent, got.Status)

	events, err := s.auditStore.ListByAction(context.Background(), audit.EventAttendanceScanAccepted)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.CategoryCompliance, events[0].Category)
	s.Equal(s.supervisor.String(), events[0].ActorID)
}

func (s *ServiceSuite) TestReplayIsRejected() {
	raw := s.issue()
	_, err := s.svc.Validate(s.at(s.t0.Add(10*time.Second)), raw, s.tenant, s.supervisor)
	s.Require().NoError(err)

	_, err = s.svc.Validate(s.at(s.t0.Add(20*time.Second)), raw, s.tenant, s.supervisor)
	s.requireCode(err, dErrors.CodeTokenReplayed)

	records := s.history()
	s.Require().Len(records, 2)
	s.Equal(models.ScanAccepted, records[0].Result)
	s.Equal(models.ScanRejectedReplay, records[1].Result)

	events, err := s.auditStore.ListByAction(context.Background(), audit.EventAttendanceScanReplayed)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.CategorySecurity, events[0].Category)
	s.Equal(string(models.ScanRejectedReplay), events[0].Reason)
}

func (s *ServiceSuite) TestNoDoubleCredit() {
	raw := s.issue()
	var accepted, replayed atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Validate(s.at(s.t0.Add(5*time.Second)), raw, s.tenant, s.supervisor)
			switch {
			case err == nil:
				accepted.Add(1)
			case dErrors.HasCode(err, dErrors.CodeTokenReplayed):
				replayed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), accepted.Load())
	s.Equal(int32(31), replayed.Load())
}

func (s *ServiceSuite) TestExpiry() {
	raw := s.issue()

	s.Run("rejected one second after the window", func() {
		_, err := s.svc.Validate(s.at(s.t0.Add(61*time.Second)), raw, s.tenant, s.supervisor)
		s.requireCode(err, dErrors.CodeTokenExpired)
		records := s.history()
		s.Require().Len(records, 1)
		s.Equal(models.ScanRejectedExpired, records[0].Result)
	})

	s.Run("expiry wins over replay", func() {
		_, err := s.svc.Validate(s.at(s.t0.Add(90*time.Second)), raw, s.tenant, s.supervisor)
		s.requireCode(err, dErrors.CodeTokenExpired)
	})

	s.Run("accepted exactly at the window edge", func() {
		fresh := s.issue()
		_, err := s.svc.Validate(s.at(s.t0.Add(60*time.Second)), fresh, s.tenant, s.supervisor)
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestTenantIsolation() {
	raw := s.issue()
	otherTenant := id.TenantID(uuid.New())

	_, err := s.svc.Validate(s.at(s.t0.Add(5*time.Second)), raw, otherTenant, s.supervisor)
	s.requireCode(err, dErrors.CodeTenantMismatch)

	// The mismatch did not consume the nonce.
	_, err = s.svc.Validate(s.at(s.t0.Add(6*time.Second)), raw, s.tenant, s.supervisor)
	s.NoError(err)

	rows, err := s.svc.PresenceForTenant(context.Background(), otherTenant, s.t0.Add(time.Minute))
	s.Require().NoError(err)
	s.Empty(rows)

	s.Run("an expired foreign token is still a tenant mismatch", func() {
		stale := s.issue()
		_, err := s.svc.Validate(s.at(s.t0.Add(5*time.Minute)), stale, otherTenant, s.supervisor)
		s.requireCode(err, dErrors.CodeTenantMismatch)
	})
}

func (s *ServiceSuite) TestAuditFailureKeepsCommittedCredit() {
	ctrl := gomock.NewController(s.T())
	pub := mocks.NewMockAuditPublisher(ctrl)
	pub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("outbox unavailable")).AnyTimes()
	s.svc = New(s.issuer, s.codec, s.scans, presence.NewAggregator(s.scans, presence.DefaultPolicy()),
		WithAuditPublisher(pub),
	)
	raw := s.issue()

	rec, err := s.svc.Validate(s.at(s.t0.Add(10*time.Second)), raw, s.tenant, s.supervisor)
	s.Require().NoError(err, "the scan was stored, so the caller must see it accepted")
	s.Equal(models.ScanAccepted, rec.Result)

	_, err = s.svc.Validate(s.at(s.t0.Add(20*time.Second)), raw, s.tenant, s.supervisor)
	s.requireCode(err, dErrors.CodeTokenReplayed)

	records := s.history()
	s.Require().Len(records, 2)
	s.Equal(models.ScanAccepted, records[0].Result)
	s.Equal(rec.ID, records[0].ID)
	s.Equal(models.ScanRejectedReplay, records[1].Result)

	got, err := s.svc.PresenceFor(context.Background(), s.tenant, s.student, s.t0.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(models.PresencePresent, got.Status)
}

func (s *ServiceSuite) TestMalformedIsNotRecorded() {
	_, err := s.svc.Validate(s.at(s.t0), "not-a-token", s.tenant, s.supervisor)
	s.requireCode(err, dErrors.CodeMalformedToken)
	s.Empty(s.history())
}

func TestValidateStoreFailures(t *testing.T) {
	codec, err := token.NewCodec("mock-secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	issuer, err := token.NewIssuer(codec, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	tenant := id.TenantID(uuid.New())
	student := id.UserID(uuid.New())
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	issued, err := issuer.IssueEncoded(student, tenant, now)
	if err != nil {
		t.Fatal(err)
	}
	ctx := requestcontext.WithTime(context.Background(), now.Add(time.Second))

	t.Run("store outage is internal and emits nothing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockScanStore(ctrl)
		pub := mocks.NewMockAuditPublisher(ctrl)
		store.EXPECT().AppendAccepted(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

		svc := New(issuer, codec, store, nil, WithAuditPublisher(pub))
		_, err := svc.Validate(ctx, issued.Token, tenant, id.UserID(uuid.New()))
		if !dErrors.HasCode(err, dErrors.CodeInternal) {
			t.Fatalf("expected internal error, got %v", err)
		}
	})

	t.Run("replay emits a security event", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockScanStore(ctrl)
		pub := mocks.NewMockAuditPublisher(ctrl)
		store.EXPECT().AppendAccepted(gomock.Any(), gomock.Any()).Return(sentinel.ErrAlreadyUsed)
		store.EXPECT().AppendRejected(gomock.Any(), gomock.Cond(func(x any) bool {
			rec, ok := x.(*models.ScanRecord)
			return ok && rec.Result == models.ScanRejectedReplay
		})).Return(nil)
		pub.EXPECT().Emit(gomock.Any(), gomock.Cond(func(x any) bool {
			ev, ok := x.(audit.Event)
			return ok && ev.Action == string(audit.EventAttendanceScanReplayed) && ev.UserID == student
		})).Return(nil)

		svc := New(issuer, codec, store, nil, WithAuditPublisher(pub))
		_, err := svc.Validate(ctx, issued.Token, tenant, id.UserID(uuid.New()))
		if !dErrors.HasCode(err, dErrors.CodeTokenReplayed) {
			t.Fatalf("expected token_replayed, got %v", err)
		}
	})

	t.Run("audit failure inside a transaction fails the accept", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockScanStore(ctrl)
		pub := mocks.NewMockAuditPublisher(ctrl)
		outboxDown := errors.New("outbox unavailable")
		store.EXPECT().AppendAccepted(gomock.Any(), gomock.Any()).Return(nil)
		pub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(outboxDown)
		runner := &recordingRunner{}

		svc := New(issuer, codec, store, nil, WithAuditPublisher(pub), WithTxRunner(runner))
		_, err := svc.Validate(ctx, issued.Token, tenant, id.UserID(uuid.New()))
		if !dErrors.HasCode(err, dErrors.CodeInternal) {
			t.Fatalf("expected internal error, got %v", err)
		}
		if !errors.Is(runner.err, outboxDown) {
			t.Fatalf("runner should have seen the audit error and rolled back, got %v", runner.err)
		}
	})
}

// recordingRunner stands in for a transactional runner and keeps the error
// that would have rolled the transaction back.
type recordingRunner struct {
	err error
}

func (r *recordingRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.err = fn(ctx)
	return r.err
}
