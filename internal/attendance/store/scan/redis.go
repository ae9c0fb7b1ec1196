package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"practicum/internal/attendance/models"
	id "practicum/pkg/domain"
	"practicum/pkg/platform/sentinel"
)

const (
	defaultNonceTTL = 48 * time.Hour
	defaultLogCap   = 10000
)

// acceptScript claims the nonce and indexes the scan in one round trip.
// KEYS: nonce, latest zset, roster set, log list
// ARGV: nonce ttl ms, scanned_at ms, scan id, subject id, record json, log cap
var acceptScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[3], "NX", "PX", ARGV[1]) == false then
	return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[4])
redis.call("LPUSH", KEYS[4], ARGV[5])
redis.call("LTRIM", KEYS[4], 0, tonumber(ARGV[6]) - 1)
return 1
`)

// RedisStore keeps the replay guard and latest-scan index in Redis.
// The scan log is a capped list; use the Postgres store for a full audit trail.
type RedisStore struct {
	client   redis.UniversalClient
	nonceTTL time.Duration
	logCap   int
}

type RedisOption func(*RedisStore)

// WithNonceTTL bounds how long a consumed nonce is remembered. It must exceed
// the token window; an expired token is rejected before the nonce is checked.
func WithNonceTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.nonceTTL = d
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, nonceTTL: defaultNonceTTL, logCap: defaultLogCap}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func nonceKeyFor(subject id.UserID, nonce string) string {
	return "scan:nonce:" + subject.String() + ":" + nonce
}

func latestKey(tenant id.TenantID, subject id.UserID) string {
	return "scan:latest:" + tenant.String() + ":" + subject.String()
}

func rosterKey(tenant id.TenantID) string {
	return "scan:roster:" + tenant.String()
}

func logKey(tenant id.TenantID) string {
	return "scan:log:" + tenant.String()
}

type redisRecord struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	ScannedBy string `json:"scanned_by"`
	Nonce     string `json:"nonce"`
	Result    string `json:"result"`
	ScannedAt int64  `json:"scanned_at"`
	Device    string `json:"device,omitempty"`
}

func encodeRecord(rec *models.ScanRecord) (string, error) {
	b, err := json.Marshal(redisRecord{
		ID:        rec.ID.String(),
		SubjectID: rec.SubjectID.String(),
		ScannedBy: rec.ScannedBy.String(),
		Nonce:     rec.Nonce,
		Result:    string(rec.Result),
		ScannedAt: rec.ScannedAt.UnixMilli(),
		Device:    rec.Device,
	})
	return string(b), err
}

func (s *RedisStore) AppendAccepted(ctx context.Context, rec *models.ScanRecord) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode scan record: %w", err)
	}
	keys := []string{
		nonceKeyFor(rec.SubjectID, rec.Nonce),
		latestKey(rec.TenantID, rec.SubjectID),
		rosterKey(rec.TenantID),
		logKey(rec.TenantID),
	}
	claimed, err := acceptScript.Run(ctx, s.client, keys,
		s.nonceTTL.Milliseconds(),
		rec.ScannedAt.UnixMilli(),
		rec.ID.String(),
		rec.SubjectID.String(),
		payload,
		s.logCap,
	).Int()
	if err != nil {
		return fmt.Errorf("accept scan: %w", err)
	}
	if claimed == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *RedisStore) AppendRejected(ctx context.Context, rec *models.ScanRecord) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode scan record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, logKey(rec.TenantID), payload)
	pipe.LTrim(ctx, logKey(rec.TenantID), 0, int64(s.logCap-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append rejected scan: %w", err)
	}
	return nil
}

func latestRange(asOf time.Time) *redis.ZRangeBy {
	return &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(asOf.UnixMilli(), 10),
		Offset: 0,
		Count:  1,
	}
}

func (s *RedisStore) LatestAccepted(ctx context.Context, tenantID id.TenantID, subjectID id.UserID, asOf time.Time) (time.Time, error) {
	zs, err := s.client.ZRevRangeByScoreWithScores(ctx, latestKey(tenantID, subjectID), latestRange(asOf)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, sentinel.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("query latest scan: %w", err)
	}
	if len(zs) == 0 {
		return time.Time{}, sentinel.ErrNotFound
	}
	return time.UnixMilli(int64(zs[0].Score)).UTC(), nil
}

func (s *RedisStore) LatestAcceptedBySubjects(ctx context.Context, tenantID id.TenantID, subjects []id.UserID, asOf time.Time) (map[id.UserID]time.Time, error) {
	if len(subjects) == 0 {
		members, err := s.client.SMembers(ctx, rosterKey(tenantID)).Result()
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}
		for _, m := range members {
			u, err := uuid.Parse(m)
			if err != nil {
				continue
			}
			subjects = append(subjects, id.UserID(u))
		}
	}

	out := make(map[id.UserID]time.Time)
	if len(subjects) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.ZSliceCmd, len(subjects))
	for i, sub := range subjects {
		cmds[i] = pipe.ZRevRangeByScoreWithScores(ctx, latestKey(tenantID, sub), latestRange(asOf))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("query latest scans: %w", err)
	}
	for i, cmd := range cmds {
		zs, err := cmd.Result()
		if err != nil || len(zs) == 0 {
			continue
		}
		out[subjects[i]] = time.UnixMilli(int64(zs[0].Score)).UTC()
	}
	return out, nil
}

// ListBySubject reads the capped tenant log, so very old records may be gone.
func (s *RedisStore) ListBySubject(ctx context.Context, tenantID id.TenantID, subjectID id.UserID) ([]models.ScanRecord, error) {
	raw, err := s.client.LRange(ctx, logKey(tenantID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read scan log: %w", err)
	}
	want := subjectID.String()
	var out []models.ScanRecord
	// LPUSH keeps newest first; walk backwards for insertion order.
	for i := len(raw) - 1; i >= 0; i-- {
		var r redisRecord
		if err := json.Unmarshal([]byte(raw[i]), &r); err != nil || r.SubjectID != want {
			continue
		}
		rec, err := r.toModel(tenantID, subjectID)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r redisRecord) toModel(tenantID id.TenantID, subjectID id.UserID) (models.ScanRecord, error) {
	scanID, err := uuid.Parse(r.ID)
	if err != nil {
		return models.ScanRecord{}, err
	}
	scannedBy, err := uuid.Parse(r.ScannedBy)
	if err != nil {
		return models.ScanRecord{}, err
	}
	return models.ScanRecord{
		ID:        id.ScanID(scanID),
		TenantID:  tenantID,
		SubjectID: subjectID,
		ScannedBy: id.UserID(scannedBy),
		Nonce:     r.Nonce,
		Result:    models.ScanResult(r.Result),
		ScannedAt: time.UnixMilli(r.ScannedAt).UTC(),
		Device:    r.Device,
	}, nil
}
