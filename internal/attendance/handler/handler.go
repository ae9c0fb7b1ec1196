package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"practicum/internal/attendance/models"
	rlmodels "practicum/internal/ratelimit/models"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
	"practicum/pkg/platform/httputil"
	authmw "practicum/pkg/platform/middleware/auth"
	"practicum/pkg/platform/strings"
	"practicum/pkg/requestcontext"
)

const maxSubjectFilter = 200

// Service defines the attendance operations the handler exposes.
type Service interface {
	IssueToken(ctx context.Context, subjectID id.UserID, tenantID id.TenantID) (*models.IssuedToken, error)
	Validate(ctx context.Context, raw string, validatorTenant id.TenantID, validatorID id.UserID) (*models.ScanRecord, error)
	PresenceFor(ctx context.Context, tenantID id.TenantID, subjectID id.UserID, now time.Time) (models.SubjectPresence, error)
	PresenceForTenant(ctx context.Context, tenantID id.TenantID, now time.Time, subjects ...id.UserID) ([]models.SubjectPresence, error)
	ScanHistory(ctx context.Context, tenantID id.TenantID, subjectID id.UserID) ([]models.ScanRecord, error)
}

// RateLimiter wraps a route with a per-caller budget for its class.
type RateLimiter interface {
	RateLimit(class rlmodels.EndpointClass) func(http.Handler) http.Handler
}

type Handler struct {
	service Service
	logger  *slog.Logger
	limiter RateLimiter
}

type Option func(*Handler)

func WithRateLimiter(l RateLimiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the attendance routes. The router must already carry RequireAuth.
func (h *Handler) Register(r chi.Router) {
	staff := authmw.RequireRole(h.logger, id.RoleSupervisor, id.RoleCoordinator, id.RoleAdmin)

	r.Route("/attendance", func(r chi.Router) {
		r.With(authmw.RequireRole(h.logger, id.RoleStudent, id.RoleAdmin), h.limit(rlmodels.ClassTokenIssue)).Post("/tokens", h.HandleIssueToken)
		r.With(staff, h.limit(rlmodels.ClassScan)).Post("/scans", h.HandleValidateScan)
		r.With(staff).Get("/presence", h.HandleTenantPresence)
		r.Get("/subjects/{subjectID}/presence", h.HandleSubjectPresence)
		r.Get("/subjects/{subjectID}/scans", h.HandleScanHistory)
	})
}

func (h *Handler) limit(class rlmodels.EndpointClass) func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.limiter.RateLimit(class)
}

// HandleIssueToken issues a token for the caller.
func (h *Handler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issued, err := h.service.IssueToken(ctx, requestcontext.UserID(ctx), requestcontext.TenantID(ctx))
	if err != nil {
		h.writeError(ctx, w, "failed to issue attendance token", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusCreated, toTokenResponse(issued))
}

// HandleValidateScan validates a presented token within the caller's tenant.
func (h *Handler) HandleValidateScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ScanRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.service.Validate(ctx, req.Token, requestcontext.TenantID(ctx), requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(ctx, w, "failed to validate scan", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toScanResponse(*rec))
}

// HandleTenantPresence polls presence for the caller's tenant.
func (h *Handler) HandleTenantPresence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	asOf, err := parseAsOf(ctx, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	subjects, err := parseSubjectFilter(r.URL.Query()["subject_id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	tenantID := requestcontext.TenantID(ctx)
	rows, err := h.service.PresenceForTenant(ctx, tenantID, asOf, subjects...)
	if err != nil {
		h.writeError(ctx, w, "failed to poll presence", err)
		return
	}

	resp := PresenceResponse{
		TenantID: tenantID.String(),
		AsOf:     asOf,
		Subjects: make([]SubjectPresenceResponse, 0, len(rows)),
	}
	for _, row := range rows {
		resp.Subjects = append(resp.Subjects, toPresenceResponse(row))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleSubjectPresence reports one subject. Students may only ask about themselves.
func (h *Handler) HandleSubjectPresence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID, ok := h.subjectFromPath(w, r)
	if !ok {
		return
	}
	asOf, err := parseAsOf(ctx, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	row, err := h.service.PresenceFor(ctx, requestcontext.TenantID(ctx), subjectID, asOf)
	if err != nil {
		h.writeError(ctx, w, "failed to load presence", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPresenceResponse(row))
}

// HandleScanHistory lists accepted and rejected scans for a subject.
func (h *Handler) HandleScanHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID, ok := h.subjectFromPath(w, r)
	if !ok {
		return
	}

	records, err := h.service.ScanHistory(ctx, requestcontext.TenantID(ctx), subjectID)
	if err != nil {
		h.writeError(ctx, w, "failed to load scan history", err)
		return
	}
	resp := ScanHistoryResponse{SubjectID: subjectID.String(), Scans: make([]ScanResponse, 0, len(records))}
	for _, rec := range records {
		resp.Scans = append(resp.Scans, toScanResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) subjectFromPath(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	ctx := r.Context()
	subjectID, err := id.ParseUserID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.UserID{}, false
	}
	if requestcontext.Role(ctx) == id.RoleStudent && subjectID != requestcontext.UserID(ctx) {
		h.logger.WarnContext(ctx, "student requested another subject",
			"request_id", requestcontext.RequestID(ctx),
			"subject_id", subjectID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "students may only view their own attendance"))
		return id.UserID{}, false
	}
	return subjectID, true
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func parseAsOf(ctx context.Context, r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return requestcontext.Now(ctx), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "as_of must be RFC3339")
	}
	return t, nil
}

func parseSubjectFilter(values []string) ([]id.UserID, error) {
	values = strings.UniqueLower(values)
	if len(values) > maxSubjectFilter {
		return nil, dErrors.New(dErrors.CodeValidation, "too many subject_id values")
	}
	out := make([]id.UserID, 0, len(values))
	for _, v := range values {
		sub, err := id.ParseUserID(v)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}
