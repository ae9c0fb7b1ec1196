// Package service coordinates meeting requests between two parties.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"practicum/internal/meeting/metrics"
	"practicum/internal/meeting/models"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
	"practicum/pkg/platform/audit"
	"practicum/pkg/platform/sentinel"
	"practicum/pkg/requestcontext"
)

// Store persists meetings. Execute must hold a per-meeting lock across
// validate and mutate.
type Store interface {
	Create(ctx context.Context, m *models.Meeting) error
	FindByID(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID) (*models.Meeting, error)
	ListByParticipant(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*models.Meeting, error)
	Execute(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID, validate func(*models.Meeting) error, mutate func(*models.Meeting)) (*models.Meeting, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store          Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("practicum/meeting"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCommand carries everything needed to open a meeting request.
type CreateCommand struct {
	TenantID    id.TenantID
	InitiatorID id.UserID
	PartyAID    id.UserID
	PartyBID    id.UserID
	Type        models.MeetingType
	ScheduledAt time.Time
	Purpose     string
}

// Create opens a meeting with both parties pending.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*models.Meeting, error) {
	m, err := models.NewMeeting(id.MeetingID(uuid.New()), cmd.TenantID, cmd.InitiatorID, cmd.PartyAID, cmd.PartyBID,
		cmd.Type, cmd.Purpose, cmd.ScheduledAt, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create meeting")
	}

	s.emit(ctx, audit.Event{
		Action:   string(audit.EventMeetingCreated),
		TenantID: m.TenantID,
		UserID:   m.InitiatorID,
		Subject:  m.ID.String(),
		Decision: string(m.OverallStatus),
	})
	if s.metrics != nil {
		s.metrics.IncrementCreated()
	}
	s.logger.InfoContext(ctx, "meeting created",
		"request_id", requestcontext.RequestID(ctx),
		"meeting_id", m.ID,
		"tenant_id", m.TenantID,
	)
	return m, nil
}

// Respond records a party's answer and recomputes the overall status in the
// same locked write. Repeating a terminal answer returns the meeting unchanged.
func (s *Service) Respond(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID, responderID id.UserID, resp models.Response) (*models.Meeting, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "meeting.Respond", trace.WithAttributes(
		attribute.String("meeting_id", meetingID.String()),
		attribute.String("status", string(resp.Status)),
	))
	defer span.End()
	if s.metrics != nil {
		defer s.metrics.ObserveRespond(start)
	}

	m, changed, before, err := s.respond(ctx, tenantID, meetingID, responderID, resp)
	if err != nil {
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	if !changed {
		return m, nil
	}

	s.emit(ctx, audit.Event{
		Action:   string(audit.EventMeetingResponded),
		TenantID: m.TenantID,
		UserID:   responderID,
		Subject:  m.ID.String(),
		Decision: string(resp.Status),
		Reason:   resp.Note,
	})
	if s.metrics != nil {
		s.metrics.IncrementResponse(string(resp.Status))
		if before != m.OverallStatus {
			s.metrics.IncrementTransition(string(m.OverallStatus))
		}
	}
	s.logger.InfoContext(ctx, "meeting response recorded",
		"request_id", requestcontext.RequestID(ctx),
		"meeting_id", m.ID,
		"responder_id", responderID,
		"status", resp.Status,
		"overall_status", m.OverallStatus,
	)
	return m, nil
}

func (s *Service) respond(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID, responderID id.UserID, resp models.Response) (*models.Meeting, bool, models.OverallStatus, error) {
	if err := resp.Validate(); err != nil {
		return nil, false, "", err
	}
	now := requestcontext.Now(ctx)
	var (
		changed bool
		before  models.OverallStatus
	)
	m, err := s.store.Execute(ctx, tenantID, meetingID,
		func(cur *models.Meeting) error {
			before = cur.OverallStatus
			return cur.CanRespond(responderID, resp)
		},
		func(cur *models.Meeting) {
			changed = cur.ApplyResponse(responderID, resp, now)
		},
	)
	if err != nil {
		return nil, false, "", wrapMeetingErr(err)
	}
	return m, changed, before, nil
}

// ListForViewer returns meetings the viewer initiated or is a party to,
// earliest scheduled first.
func (s *Service) ListForViewer(ctx context.Context, tenantID id.TenantID, viewerID id.UserID) ([]*models.Meeting, error) {
	ms, err := s.store.ListByParticipant(ctx, tenantID, viewerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list meetings")
	}
	return ms, nil
}

// Get returns a meeting only to its participants; everyone else sees not found.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID, viewerID id.UserID) (*models.Meeting, error) {
	m, err := s.store.FindByID(ctx, tenantID, meetingID)
	if err != nil {
		return nil, wrapMeetingErr(err)
	}
	if !m.IsParticipant(viewerID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "meeting not found")
	}
	return m, nil
}

// Cancel lets the initiator withdraw a meeting that has not reached an outcome.
func (s *Service) Cancel(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID, initiatorID id.UserID) (*models.Meeting, error) {
	now := requestcontext.Now(ctx)
	m, err := s.store.Execute(ctx, tenantID, meetingID,
		func(cur *models.Meeting) error {
			if !cur.IsParticipant(initiatorID) {
				return dErrors.New(dErrors.CodeNotFound, "meeting not found")
			}
			return cur.CanCancel(initiatorID)
		},
		func(cur *models.Meeting) {
			cur.ApplyCancel(now)
		},
	)
	if err != nil {
		return nil, wrapMeetingErr(err)
	}

	s.emit(ctx, audit.Event{
		Action:   string(audit.EventMeetingCancelled),
		TenantID: m.TenantID,
		UserID:   initiatorID,
		Subject:  m.ID.String(),
		Decision: string(m.OverallStatus),
	})
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(m.OverallStatus))
	}
	return m, nil
}

func wrapMeetingErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "meeting not found")
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "meeting store failure")
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"request_id", requestcontext.RequestID(ctx),
			"action", event.Action,
			"error", err,
		)
	}
}
