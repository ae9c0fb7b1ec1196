// Package store persists meetings. Both implementations serialize
// read-modify-write per meeting through Execute.
package store

import (
	"context"
	"sort"
	"sync"

	"practicum/internal/meeting/models"
	id "practicum/pkg/domain"
	"practicum/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.RWMutex
	meetings map[id.MeetingID]*models.Meeting
}

func NewInMemory() *InMemory {
	return &InMemory{meetings: make(map[id.MeetingID]*models.Meeting)}
}

func (s *InMemory) Create(_ context.Context, m *models.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.meetings[m.ID]; exists {
		return sentinel.ErrConflict
	}
	s.meetings[m.ID] = m.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID, meetingID id.MeetingID) (*models.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[meetingID]
	if !ok || m.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return m.Clone(), nil
}

// ListByParticipant returns meetings where userID is initiator or a party,
// earliest scheduled first.
func (s *InMemory) ListByParticipant(_ context.Context, tenantID id.TenantID, userID id.UserID) ([]*models.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Meeting
	for _, m := range s.meetings {
		if m.TenantID == tenantID && m.IsParticipant(userID) {
			out = append(out, m.Clone())
		}
	}
	sortBySchedule(out)
	return out, nil
}

// Execute runs validate then mutate under the store lock. Nothing is written
// when validate fails.
func (s *InMemory) Execute(_ context.Context, tenantID id.TenantID, meetingID id.MeetingID, validate func(*models.Meeting) error, mutate func(*models.Meeting)) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.meetings[meetingID]
	if !ok || current.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.meetings[meetingID] = working
	return working.Clone(), nil
}

func sortBySchedule(ms []*models.Meeting) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].ScheduledAt.Equal(ms[j].ScheduledAt) {
			return ms[i].ScheduledAt.Before(ms[j].ScheduledAt)
		}
		return ms[i].ID.String() < ms[j].ID.String()
	})
}
