package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"practicum/internal/meeting/models"
	"practicum/internal/platform/db"
	id "practicum/pkg/domain"
	"practicum/pkg/platform/sentinel"
	txcontext "practicum/pkg/platform/tx"
)

const meetingColumns = `id, tenant_id, initiator_id, party_a_id, party_b_id, meeting_type, purpose,
	scheduled_at, party_a_status, party_b_status, overall_status, reschedule_proposal,
	reschedule_by, decline_reason, declined_by, cancelled_at, created_at, updated_at, version`

// PostgresStore persists meetings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, m *models.Meeting) error {
	query := `INSERT INTO meetings (` + meetingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(m.ID), uuid.UUID(m.TenantID), uuid.UUID(m.InitiatorID),
		uuid.UUID(m.PartyAID), uuid.UUID(m.PartyBID),
		string(m.Type), m.Purpose, m.ScheduledAt,
		string(m.PartyAStatus), string(m.PartyBStatus), string(m.OverallStatus),
		nullTime(m.RescheduleProposal), nullUser(m.RescheduleBy), nullString(m.DeclineReason),
		nullUser(m.DeclinedBy), nullTime(m.CancelledAt), m.CreatedAt, m.UpdatedAt, m.Version,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID) (*models.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1 AND tenant_id = $2`
	m, err := scanMeeting(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(meetingID), uuid.UUID(tenantID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find meeting: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListByParticipant(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*models.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings
		WHERE tenant_id = $1 AND (initiator_id = $2 OR party_a_id = $2 OR party_b_id = $2)
		ORDER BY scheduled_at, id`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var out []*models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings: %w", err)
	}
	return out, nil
}

// Execute locks the row with SELECT ... FOR UPDATE, runs validate and mutate,
// and writes the result. It joins a transaction already on ctx or opens its own.
func (s *PostgresStore) Execute(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID, validate func(*models.Meeting) error, mutate func(*models.Meeting)) (*models.Meeting, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return s.execute(ctx, tx, tenantID, meetingID, validate, mutate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin meeting tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	m, err := s.execute(ctx, tx, tenantID, meetingID, validate, mutate)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit meeting tx: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) execute(ctx context.Context, tx *sql.Tx, tenantID id.TenantID, meetingID id.MeetingID, validate func(*models.Meeting) error, mutate func(*models.Meeting)) (*models.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1 AND tenant_id = $2 FOR UPDATE`
	m, err := scanMeeting(tx.QueryRowContext(ctx, query, uuid.UUID(meetingID), uuid.UUID(tenantID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock meeting: %w", err)
	}

	if err := validate(m); err != nil {
		return nil, err
	}
	mutate(m)

	update := `UPDATE meetings SET
			party_a_status = $3, party_b_status = $4, overall_status = $5,
			reschedule_proposal = $6, reschedule_by = $7, decline_reason = $8,
			declined_by = $9, cancelled_at = $10, updated_at = $11, version = $12
		WHERE id = $1 AND tenant_id = $2`
	_, err = tx.ExecContext(ctx, update,
		uuid.UUID(m.ID), uuid.UUID(m.TenantID),
		string(m.PartyAStatus), string(m.PartyBStatus), string(m.OverallStatus),
		nullTime(m.RescheduleProposal), nullUser(m.RescheduleBy), nullString(m.DeclineReason),
		nullUser(m.DeclinedBy), nullTime(m.CancelledAt), m.UpdatedAt, m.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update meeting: %w", err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*models.Meeting, error) {
	var (
		m                                              models.Meeting
		meetingID, tenantID, initiator, partyA, partyB uuid.UUID
		typ, aStatus, bStatus, overall                 string
		proposal, cancelled                            sql.NullTime
		rescheduleBy, declinedBy                       uuid.NullUUID
		declineReason                                  sql.NullString
	)
	err := row.Scan(
		&meetingID, &tenantID, &initiator, &partyA, &partyB, &typ, &m.Purpose,
		&m.ScheduledAt, &aStatus, &bStatus, &overall, &proposal,
		&rescheduleBy, &declineReason, &declinedBy, &cancelled, &m.CreatedAt, &m.UpdatedAt, &m.Version,
	)
	if err != nil {
		return nil, err
	}
	m.ID = id.MeetingID(meetingID)
	m.TenantID = id.TenantID(tenantID)
	m.InitiatorID = id.UserID(initiator)
	m.PartyAID = id.UserID(partyA)
	m.PartyBID = id.UserID(partyB)
	m.Type = models.MeetingType(typ)
	m.PartyAStatus = models.PartyStatus(aStatus)
	m.PartyBStatus = models.PartyStatus(bStatus)
	m.OverallStatus = models.OverallStatus(overall)
	if proposal.Valid {
		t := proposal.Time
		m.RescheduleProposal = &t
	}
	if rescheduleBy.Valid {
		u := id.UserID(rescheduleBy.UUID)
		m.RescheduleBy = &u
	}
	m.DeclineReason = declineReason.String
	if declinedBy.Valid {
		u := id.UserID(declinedBy.UUID)
		m.DeclinedBy = &u
	}
	if cancelled.Valid {
		t := cancelled.Time
		m.CancelledAt = &t
	}
	return &m, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullUser(u *id.UserID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*u), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
