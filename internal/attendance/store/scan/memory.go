// Package scan persists ScanRecords. Every backend enforces that a
// (subject, nonce) pair is accepted at most once.
package scan

import (
	"context"
	"sync"
	"time"

	"practicum/internal/attendance/models"
	id "practicum/pkg/domain"
	"practicum/pkg/platform/sentinel"
)

type nonceKey struct {
	subject id.UserID
	nonce   string
}

// InMemory is a mutex-guarded scan log for tests and single-node deployments.
type InMemory struct {
	mu       sync.RWMutex
	records  []models.ScanRecord
	accepted map[nonceKey]struct{}
	// tenant -> subject -> accepted scan times in insertion order
	scans map[id.TenantID]map[id.UserID][]time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		accepted: make(map[nonceKey]struct{}),
		scans:    make(map[id.TenantID]map[id.UserID][]time.Time),
	}
}

// AppendAccepted records an accepted scan, or returns sentinel.ErrAlreadyUsed
// if the subject's nonce was already accepted.
func (s *InMemory) AppendAccepted(_ context.Context, rec *models.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nonceKey{subject: rec.SubjectID, nonce: rec.Nonce}
	if _, used := s.accepted[key]; used {
		return sentinel.ErrAlreadyUsed
	}
	s.accepted[key] = struct{}{}
	s.records = append(s.records, *rec)

	bySubject, ok := s.scans[rec.TenantID]
	if !ok {
		bySubject = make(map[id.UserID][]time.Time)
		s.scans[rec.TenantID] = bySubject
	}
	bySubject[rec.SubjectID] = append(bySubject[rec.SubjectID], rec.ScannedAt)
	return nil
}

// AppendRejected records a rejected scan.
func (s *InMemory) AppendRejected(_ context.Context, rec *models.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

func latestAsOf(times []time.Time, asOf time.Time) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, t := range times {
		if t.After(asOf) {
			continue
		}
		if !found || t.After(latest) {
			latest = t
			found = true
		}
	}
	return latest, found
}

// LatestAccepted returns the most recent accepted scan at or before asOf.
func (s *InMemory) LatestAccepted(_ context.Context, tenantID id.TenantID, subjectID id.UserID, asOf time.Time) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest, ok := latestAsOf(s.scans[tenantID][subjectID], asOf)
	if !ok {
		return time.Time{}, sentinel.ErrNotFound
	}
	return latest, nil
}

// LatestAcceptedBySubjects returns the latest accepted scan at or before asOf
// for each subject that has one. An empty subjects slice means every subject
// of the tenant.
func (s *InMemory) LatestAcceptedBySubjects(_ context.Context, tenantID id.TenantID, subjects []id.UserID, asOf time.Time) (map[id.UserID]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySubject := s.scans[tenantID]
	out := make(map[id.UserID]time.Time)
	if len(subjects) == 0 {
		for subject, times := range bySubject {
			if latest, ok := latestAsOf(times, asOf); ok {
				out[subject] = latest
			}
		}
		return out, nil
	}
	for _, subject := range subjects {
		if latest, ok := latestAsOf(bySubject[subject], asOf); ok {
			out[subject] = latest
		}
	}
	return out, nil
}

// ListBySubject returns every record for a subject in insertion order.
func (s *InMemory) ListBySubject(_ context.Context, tenantID id.TenantID, subjectID id.UserID) ([]models.ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ScanRecord
	for _, r := range s.records {
		if r.TenantID == tenantID && r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	return out, nil
}
