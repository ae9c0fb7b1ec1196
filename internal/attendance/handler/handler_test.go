package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"practicum/internal/attendance/presence"
	"practicum/internal/attendance/service"
	"practicum/internal/attendance/store/scan"
	"practicum/internal/attendance/token"
	rlmiddleware "practicum/internal/ratelimit/middleware"
	rlmodels "practicum/internal/ratelimit/models"
	"practicum/internal/ratelimit/store/bucket"
	id "practicum/pkg/domain"
	"practicum/pkg/testutil"
)

// Justification for unit tests: role gates, query parsing and the error
// envelope for each rejection code are transport concerns.
type HandlerSuite struct {
	suite.Suite
	router     chi.Router
	tenant     id.TenantID
	student    id.UserID
	supervisor id.UserID
	now        time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	codec, err := token.NewCodec("handler-test-secret", time.Minute)
	s.Require().NoError(err)
	issuer, err := token.NewIssuer(codec, 30*time.Second)
	s.Require().NoError(err)
	store := scan.NewInMemory()
	svc := service.New(issuer, codec, store, presence.NewAggregator(store, presence.DefaultPolicy()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(svc, logger).Register(s.router)

	s.tenant = id.TenantID(uuid.New())
	s.student = id.UserID(uuid.New())
	s.supervisor = id.UserID(uuid.New())
	s.now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
}

func (s *HandlerSuite) do(req *http.Request, user id.UserID, role id.Role, at time.Time) *httptest.ResponseRecorder {
	req = testutil.WithIdentity(req, user, s.tenant, role)
	req = testutil.WithTime(req, at)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) issue() string {
	res := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/attendance/tokens"), s.student, id.RoleStudent, s.now)
	testutil.AssertStatus(s.T(), res, http.StatusCreated)
	body := testutil.UnmarshalResponse[TokenResponse](s.T(), res)
	s.Equal(s.student.String(), body.SubjectID)
	s.True(body.RotateAt.Equal(s.now.Add(30 * time.Second)))
	return body.Token
}

func (s *HandlerSuite) scan(raw string, at time.Time) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/attendance/scans", map[string]string{"token": raw})
	return s.do(req, s.supervisor, id.RoleSupervisor, at)
}

func (s *HandlerSuite) TestIssueRequiresStudentOrAdmin() {
	res := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/attendance/tokens"), s.supervisor, id.RoleSupervisor, s.now)
	testutil.AssertStatusAndError(s.T(), res, http.StatusForbidden, "forbidden")
}

func (s *HandlerSuite) TestScanLifecycle() {
	raw := s.issue()

	s.Run("students cannot validate", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/attendance/scans", map[string]string{"token": raw})
		res := s.do(req, s.student, id.RoleStudent, s.now)
		testutil.AssertStatus(s.T(), res, http.StatusForbidden)
	})

	s.Run("first scan is accepted", func() {
		res := s.scan(raw, s.now.Add(10*time.Second))
		testutil.AssertStatus(s.T(), res, http.StatusCreated)
		body := testutil.UnmarshalResponse[ScanResponse](s.T(), res)
		s.Equal("accepted", body.Result)
		s.Equal(s.student.String(), body.SubjectID)
	})

	s.Run("second scan is a replay", func() {
		res := s.scan(raw, s.now.Add(20*time.Second))
		testutil.AssertStatusAndError(s.T(), res, http.StatusConflict, "token_replayed")
	})

	s.Run("presence shows the student", func() {
		res := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/attendance/presence?subject_id="+s.student.String()),
			s.supervisor, id.RoleSupervisor, s.now.Add(time.Minute))
		testutil.AssertStatus(s.T(), res, http.StatusOK)
		body := testutil.UnmarshalResponse[PresenceResponse](s.T(), res)
		s.Require().Len(body.Subjects, 1)
		s.Equal("present", body.Subjects[0].Status)
	})

	s.Run("student sees own history", func() {
		res := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/attendance/subjects/"+s.student.String()+"/scans"),
			s.student, id.RoleStudent, s.now.Add(time.Minute))
		testutil.AssertStatus(s.T(), res, http.StatusOK)
		body := testutil.UnmarshalResponse[ScanHistoryResponse](s.T(), res)
		s.Require().Len(body.Scans, 2)
		s.Equal("rejected_replay", body.Scans[1].Result)
	})

	s.Run("student cannot see another subject", func() {
		res := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/attendance/subjects/"+uuid.NewString()+"/presence"),
			s.student, id.RoleStudent, s.now)
		testutil.AssertStatusAndError(s.T(), res, http.StatusForbidden, "forbidden")
	})
}

func (s *HandlerSuite) TestScanErrors() {
	s.Run("expired token is gone", func() {
		raw := s.issue()
		res := s.scan(raw, s.now.Add(2*time.Minute))
		testutil.AssertStatusAndError(s.T(), res, http.StatusGone, "token_expired")
	})

	s.Run("garbage is malformed", func() {
		res := s.scan("abc.def", s.now)
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "malformed_token")
	})

	s.Run("empty token fails validation", func() {
		res := s.scan("   ", s.now)
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "validation_error")
	})
}

func (s *HandlerSuite) TestPresenceQueryValidation() {
	s.Run("bad as_of", func() {
		res := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/attendance/presence?as_of=yesterday"),
			s.supervisor, id.RoleSupervisor, s.now)
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "validation_error")
	})

	s.Run("bad subject id", func() {
		res := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/attendance/presence?subject_id=nope"),
			s.supervisor, id.RoleSupervisor, s.now)
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "invalid_input")
	})

	s.Run("empty tenant", func() {
		res := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/attendance/presence"),
			s.supervisor, id.RoleCoordinator, s.now)
		testutil.AssertStatus(s.T(), res, http.StatusOK)
		body := testutil.UnmarshalResponse[PresenceResponse](s.T(), res)
		s.Empty(body.Subjects)
	})
}

func (s *HandlerSuite) TestScanRouteIsRateLimited() {
	codec, err := token.NewCodec("handler-test-secret", time.Minute)
	s.Require().NoError(err)
	issuer, err := token.NewIssuer(codec, 30*time.Second)
	s.Require().NoError(err)
	store := scan.NewInMemory()
	svc := service.New(issuer, codec, store, presence.NewAggregator(store, presence.DefaultPolicy()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := rlmiddleware.New(bucket.New(), logger,
		rlmiddleware.WithLimit(rlmodels.ClassScan, rlmodels.Limit{RequestsPerWindow: 2, Window: time.Minute}),
	)
	s.router = chi.NewRouter()
	New(svc, logger, WithRateLimiter(limiter)).Register(s.router)

	for range 2 {
		res := s.scan("garbage", s.now)
		testutil.AssertStatusAndError(s.T(), res, http.StatusBadRequest, "malformed_token")
	}
	res := s.scan(s.issue(), s.now)
	testutil.AssertStatusAndError(s.T(), res, http.StatusTooManyRequests, "rate_limit_exceeded")
}
