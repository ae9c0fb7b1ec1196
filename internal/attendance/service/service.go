// Package service orchestrates token issuance, scan validation and presence polls.
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

	"practicum/internal/attendance/metrics"
	"practicum/internal/attendance/models"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
	"practicum/pkg/platform/audit"
	"practicum/pkg/platform/middleware/device"
	"practicum/pkg/platform/sentinel"
	"practicum/pkg/requestcontext"
)

// ScanStore is the append-only scan log. AppendAccepted must be atomic per
// (subject, nonce) and return sentinel.ErrAlreadyUsed when the nonce was
// already accepted.
type ScanStore interface {
	AppendAccepted(ctx context.Context, rec *models.ScanRecord) error
	AppendRejected(ctx context.Context, rec *models.ScanRecord) error
	ListBySubject(ctx context.Context, tenantID id.TenantID, subjectID id.UserID) ([]models.ScanRecord, error)
}

type TokenIssuer interface {
	IssueEncoded(subjectID id.UserID, tenantID id.TenantID, now time.Time) (*models.IssuedToken, error)
}

type TokenDecoder interface {
	Decode(raw string) (models.VerificationToken, error)
}

type PresenceReader interface {
	PresenceFor(ctx context.Context, tenantID id.TenantID, subjectID id.UserID, now time.Time) (models.SubjectPresence, error)
	PresenceForTenant(ctx context.Context, tenantID id.TenantID, now time.Time, subjects ...id.UserID) ([]models.SubjectPresence, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	issuer         TokenIssuer
	decoder        TokenDecoder
	scans          ScanStore
	presence       PresenceReader
	tx             TxRunner
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

// WithTxRunner makes the accepted scan and its audit event commit together.
// Only pass a runner whose transaction the scan store joins; without one the
// audit event is published after the scan is recorded.
func WithTxRunner(r TxRunner) Option {
	return func(s *Service) {
		s.tx = r
	}
}

func New(issuer TokenIssuer, decoder TokenDecoder, scans ScanStore, presence PresenceReader, opts ...Option) *Service {
	s := &Service{
		issuer:   issuer,
		decoder:  decoder,
		scans:    scans,
		presence: presence,
		logger:   slog.Default(),
		tracer:   otel.Tracer("practicum/attendance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueToken mints a token proving subjectID is present right now.
func (s *Service) IssueToken(ctx context.Context, subjectID id.UserID, tenantID id.TenantID) (*models.IssuedToken, error) {
	if subjectID.IsNil() || tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "subject and tenant are required")
	}
	issued, err := s.issuer.IssueEncoded(subjectID, tenantID, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}

	s.emit(ctx, audit.Event{
		Action:   string(audit.EventAttendanceTokenIssued),
		TenantID: tenantID,
		UserID:   subjectID,
		Device:   device.Device(ctx),
	})
	if s.metrics != nil {
		s.metrics.IncrementTokensIssued()
	}
	return issued, nil
}

// Validate checks a presented token on behalf of validatorID and records the
// outcome. Checks run in order: integrity, tenant, expiry, replay. Only the
// first caller to present a given nonce is credited.
func (s *Service) Validate(ctx context.Context, raw string, validatorTenant id.TenantID, validatorID id.UserID) (*models.ScanRecord, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "attendance.Validate",
		trace.WithAttributes(attribute.String("tenant_id", validatorTenant.String())))
	defer span.End()
	if s.metrics != nil {
		defer s.metrics.ObserveValidate(start)
	}

	rec, err := s.validate(ctx, raw, validatorTenant, validatorID)
	if err != nil {
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("subject_id", rec.SubjectID.String()))
	return rec, nil
}

func (s *Service) validate(ctx context.Context, raw string, validatorTenant id.TenantID, validatorID id.UserID) (*models.ScanRecord, error) {
	now := requestcontext.Now(ctx)
	requestID := requestcontext.RequestID(ctx)
	dev := device.Device(ctx)

	tok, err := s.decoder.Decode(raw)
	if err != nil {
		s.logger.InfoContext(ctx, "malformed attendance token",
			"request_id", requestID,
			"validator_id", validatorID,
		)
		s.countScan("malformed")
		return nil, err
	}

	// Tenant first: a foreign token is a mismatch whatever its other fields say.
	if tok.TenantID != validatorTenant {
		s.logger.WarnContext(ctx, "attendance token presented to another tenant",
			"request_id", requestID,
			"validator_id", validatorID,
			"validator_tenant", validatorTenant,
			"client_ip", requestcontext.ClientIP(ctx),
		)
		s.reject(ctx, tok, validatorID, models.ScanRejectedTenantMismatch, now, dev)
		return nil, dErrors.New(dErrors.CodeTenantMismatch, "token was issued for another tenant")
	}

	if tok.IsExpiredAt(now) {
		s.reject(ctx, tok, validatorID, models.ScanRejectedExpired, now, dev)
		return nil, dErrors.New(dErrors.CodeTokenExpired, "token has expired")
	}

	rec, err := models.NewScanRecord(id.ScanID(uuid.New()), tok, validatorID, models.ScanAccepted, now, dev)
	if err != nil {
		return nil, err
	}

	accepted := audit.Event{
		Action:    string(audit.EventAttendanceScanAccepted),
		Timestamp: now,
		TenantID:  rec.TenantID,
		UserID:    rec.SubjectID,
		ActorID:   validatorID.String(),
		Subject:   rec.ID.String(),
		Decision:  string(models.ScanAccepted),
		Device:    dev,
	}
	if s.tx != nil {
		err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
			if err := s.scans.AppendAccepted(txCtx, rec); err != nil {
				return err
			}
			if s.auditPublisher == nil {
				return nil
			}
			return s.auditPublisher.Emit(txCtx, accepted)
		})
	} else {
		// The credit is committed once AppendAccepted returns; audit failures
		// are only logged from here on.
		err = s.scans.AppendAccepted(ctx, rec)
		if err == nil {
			s.emit(ctx, accepted)
		}
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.logger.WarnContext(ctx, "attendance token replayed",
				"request_id", requestID,
				"subject_id", tok.SubjectID,
				"validator_id", validatorID,
				"tenant_id", tok.TenantID,
				"client_ip", requestcontext.ClientIP(ctx),
			)
			s.reject(ctx, tok, validatorID, models.ScanRejectedReplay, now, dev)
			return nil, dErrors.New(dErrors.CodeTokenReplayed, "token has already been used")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record scan")
	}

	s.logger.InfoContext(ctx, "attendance scan accepted",
		"request_id", requestID,
		"subject_id", rec.SubjectID,
		"validator_id", validatorID,
		"scan_id", rec.ID,
	)
	s.countScan(string(models.ScanAccepted))
	return rec, nil
}

// reject appends a rejected record and its audit event. Failures here are
// logged; the caller still reports the rejection.
func (s *Service) reject(ctx context.Context, tok models.VerificationToken, validatorID id.UserID, result models.ScanResult, now time.Time, dev string) {
	s.countScan(string(result))

	rec, err := models.NewScanRecord(id.ScanID(uuid.New()), tok, validatorID, result, now, dev)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build rejected scan record",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return
	}
	if err := s.scans.AppendRejected(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to record rejected scan",
			"request_id", requestcontext.RequestID(ctx),
			"result", result,
			"error", err,
		)
	}

	action := audit.EventAttendanceScanRejected
	if result == models.ScanRejectedReplay {
		action = audit.EventAttendanceScanReplayed
	}
	s.emit(ctx, audit.Event{
		Action:   string(action),
		TenantID: rec.TenantID,
		UserID:   rec.SubjectID,
		ActorID:  validatorID.String(),
		Subject:  rec.ID.String(),
		Decision: "rejected",
		Reason:   string(result),
		Device:   dev,
	})
}

// PresenceFor reports one subject's status at now.
func (s *Service) PresenceFor(ctx context.Context, tenantID id.TenantID, subjectID id.UserID, now time.Time) (models.SubjectPresence, error) {
	return s.presence.PresenceFor(ctx, tenantID, subjectID, now)
}

// PresenceForTenant reports the tenant roster, or only subjects when given.
func (s *Service) PresenceForTenant(ctx context.Context, tenantID id.TenantID, now time.Time, subjects ...id.UserID) ([]models.SubjectPresence, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "attendance.PresenceForTenant",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID.String()),
			attribute.Int("subject_filter", len(subjects)),
		))
	defer span.End()
	if s.metrics != nil {
		defer s.metrics.ObservePresence(start)
	}

	rows, err := s.presence.PresenceForTenant(ctx, tenantID, now, subjects...)
	if err != nil {
		span.SetStatus(codes.Error, "presence poll failed")
		return nil, err
	}
	return rows, nil
}

// ScanHistory lists every recorded attempt for a subject, oldest first.
func (s *Service) ScanHistory(ctx context.Context, tenantID id.TenantID, subjectID id.UserID) ([]models.ScanRecord, error) {
	records, err := s.scans.ListBySubject(ctx, tenantID, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load scan history")
	}
	return records, nil
}

func (s *Service) countScan(result string) {
	if s.metrics != nil {
		s.metrics.IncrementScan(result)
	}
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
