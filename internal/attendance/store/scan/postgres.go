package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"practicum/internal/attendance/models"
	"practicum/internal/platform/db"
	id "practicum/pkg/domain"
	"practicum/pkg/platform/sentinel"
	txcontext "practicum/pkg/platform/tx"
)

// PostgresStore relies on the partial unique index
// scan_records_accepted_nonce_uq (subject_id, nonce) WHERE result = 'accepted'
// to make accept-once atomic.
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

const insertScanQuery = `
	INSERT INTO scan_records (id, tenant_id, subject_id, scanned_by, nonce, result, scanned_at, device)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func (s *PostgresStore) insert(ctx context.Context, rec *models.ScanRecord) error {
	_, err := s.execer(ctx).ExecContext(ctx, insertScanQuery,
		uuid.UUID(rec.ID),
		uuid.UUID(rec.TenantID),
		uuid.UUID(rec.SubjectID),
		uuid.UUID(rec.ScannedBy),
		rec.Nonce,
		string(rec.Result),
		rec.ScannedAt,
		rec.Device,
	)
	return err
}

func (s *PostgresStore) AppendAccepted(ctx context.Context, rec *models.ScanRecord) error {
	if err := s.insert(ctx, rec); err != nil {
		if db.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert accepted scan: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendRejected(ctx context.Context, rec *models.ScanRecord) error {
	if err := s.insert(ctx, rec); err != nil {
		return fmt.Errorf("insert rejected scan: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestAccepted(ctx context.Context, tenantID id.TenantID, subjectID id.UserID, asOf time.Time) (time.Time, error) {
	query := `
		SELECT MAX(scanned_at)
		FROM scan_records
		WHERE tenant_id = $1 AND subject_id = $2 AND result = 'accepted' AND scanned_at <= $3
	`
	var latest sql.NullTime
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(subjectID), asOf).Scan(&latest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, sentinel.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("query latest scan: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, sentinel.ErrNotFound
	}
	return latest.Time, nil
}

func (s *PostgresStore) LatestAcceptedBySubjects(ctx context.Context, tenantID id.TenantID, subjects []id.UserID, asOf time.Time) (map[id.UserID]time.Time, error) {
	query := `
		SELECT subject_id, MAX(scanned_at)
		FROM scan_records
		WHERE tenant_id = $1 AND result = 'accepted' AND scanned_at <= $2
	`
	args := []any{uuid.UUID(tenantID), asOf}
	if len(subjects) > 0 {
		ids := make([]string, len(subjects))
		for i, sub := range subjects {
			ids[i] = sub.String()
		}
		query += ` AND subject_id = ANY($3::uuid[])`
		args = append(args, pq.Array(ids))
	}
	query += ` GROUP BY subject_id`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query latest scans: %w", err)
	}
	defer rows.Close()

	out := make(map[id.UserID]time.Time)
	for rows.Next() {
		var (
			subject uuid.UUID
			latest  time.Time
		)
		if err := rows.Scan(&subject, &latest); err != nil {
			return nil, fmt.Errorf("scan latest scan row: %w", err)
		}
		out[id.UserID(subject)] = latest
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest scans: %w", err)
	}
	return out, nil
}

// ListBySubject returns every record for a subject, oldest first.
func (s *PostgresStore) ListBySubject(ctx context.Context, tenantID id.TenantID, subjectID id.UserID) ([]models.ScanRecord, error) {
	query := `
		SELECT id, tenant_id, subject_id, scanned_by, nonce, result, scanned_at, device
		FROM scan_records
		WHERE tenant_id = $1 AND subject_id = $2
		ORDER BY scanned_at
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(subjectID))
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var out []models.ScanRecord
	for rows.Next() {
		var (
			rec                                models.ScanRecord
			scanID, tenant, subject, scannedBy uuid.UUID
			result                             string
		)
		if err := rows.Scan(&scanID, &tenant, &subject, &scannedBy, &rec.Nonce, &result, &rec.ScannedAt, &rec.Device); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		rec.ID = id.ScanID(scanID)
		rec.TenantID = id.TenantID(tenant)
		rec.SubjectID = id.UserID(subject)
		rec.ScannedBy = id.UserID(scannedBy)
		rec.Result = models.ScanResult(result)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return out, nil
}
