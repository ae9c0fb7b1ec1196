package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "practicum/pkg/domain"
	audit "practicum/pkg/platform/audit"
	txcontext "practicum/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Append writes to the outbox table; the relay publishes outbox rows to Kafka
// and the consumer materializes them into audit_events via AppendWithID.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Payload is the JSON document carried by outbox rows and Kafka records.
type Payload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	TenantID  string `json:"tenant_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Action    string `json:"action"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	Device    string `json:"device,omitempty"`
}

// ToEvent converts a decoded payload back into an audit.Event.
func (p Payload) ToEvent() (audit.Event, error) {
	event := audit.Event{
		ID:        p.ID,
		Category:  audit.EventCategory(p.Category),
		Subject:   p.Subject,
		Action:    p.Action,
		Decision:  p.Decision,
		Reason:    p.Reason,
		RequestID: p.RequestID,
		ActorID:   p.ActorID,
		Device:    p.Device,
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse timestamp: %w", err)
	}
	event.Timestamp = ts
	if p.TenantID != "" {
		tid, err := uuid.Parse(p.TenantID)
		if err != nil {
			return audit.Event{}, fmt.Errorf("parse tenant_id: %w", err)
		}
		event.TenantID = id.TenantID(tid)
	}
	if p.UserID != "" {
		uid, err := uuid.Parse(p.UserID)
		if err != nil {
			return audit.Event{}, fmt.Errorf("parse user_id: %w", err)
		}
		event.UserID = id.UserID(uid)
	}
	return event, nil
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Category is always derived from the action so producers cannot mislabel events.
	category := audit.AuditEvent(event.Action).Category()

	payload := Payload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Subject:   event.Subject,
		Action:    event.Action,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		ActorID:   event.ActorID,
		Device:    event.Device,
	}
	if !event.TenantID.IsNil() {
		payload.TenantID = event.TenantID.String()
	}
	if !event.UserID.IsNil() {
		payload.UserID = event.UserID.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := eventID.String()
	if !event.UserID.IsNil() {
		aggregateType = "user"
		aggregateID = event.UserID.String()
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// AppendWithID materializes an event into audit_events. Duplicate deliveries are ignored.
func (s *Store) AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, tenant_id, user_id, subject, action,
			decision, reason, request_id, actor_id, device
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`

	var tenantID, userID *uuid.UUID
	if !event.TenantID.IsNil() {
		tid := uuid.UUID(event.TenantID)
		tenantID = &tid
	}
	if !event.UserID.IsNil() {
		uid := uuid.UUID(event.UserID)
		userID = &uid
	}

	_, err := s.db.ExecContext(ctx, query,
		eventID,
		string(event.Category),
		event.Timestamp,
		tenantID,
		userID,
		event.Subject,
		event.Action,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.ActorID,
		event.Device,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByUser returns materialized events for a user, most recent first.
func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	query := `
		SELECT id, category, timestamp, tenant_id, user_id, subject, action,
			   decision, reason, request_id, actor_id, device
		FROM audit_events
		WHERE user_id = $1
		ORDER BY timestamp DESC
	`

	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event            audit.Event
			eventID          uuid.UUID
			category         string
			tenantID, userID *uuid.UUID
		)
		if err := rows.Scan(
			&eventID,
			&category,
			&event.Timestamp,
			&tenantID,
			&userID,
			&event.Subject,
			&event.Action,
			&event.Decision,
			&event.Reason,
			&event.RequestID,
			&event.ActorID,
			&event.Device,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = eventID.String()
		event.Category = audit.EventCategory(category)
		if tenantID != nil {
			event.TenantID = id.TenantID(*tenantID)
		}
		if userID != nil {
			event.UserID = id.UserID(*userID)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
