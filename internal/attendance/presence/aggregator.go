// Package presence derives per-subject presence from accepted scans.
// Nothing here writes; every status is recomputed from the scan log.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"practicum/internal/attendance/models"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
	"practicum/pkg/platform/sentinel"
)

const (
	DefaultFreshness = 8 * time.Hour
	DefaultDayCutoff = 20 * time.Hour
	fullDay          = 24 * time.Hour

	// pollTimeout bounds a shared tenant poll, which outlives any one caller.
	pollTimeout = 5 * time.Second
)

// Policy controls how a scan time maps to a status.
type Policy struct {
	// Location defines the verification day. Nil means UTC.
	Location *time.Location
	// Freshness is how long an accepted scan keeps a subject present.
	Freshness time.Duration
	// DayCutoff is the local wall-clock time, as an offset from midnight,
	// after which nobody is present any more. Zero or 24h disables it.
	// 20h means 20:00 local even on days with a DST change.
	DayCutoff time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Location: time.UTC, Freshness: DefaultFreshness, DayCutoff: DefaultDayCutoff}
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// dayStart returns local midnight of the day containing t.
func (p Policy) dayStart(t time.Time) time.Time {
	local := t.In(p.location())
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.location())
}

// cutoff returns the DayCutoff wall-clock time on the local day containing t.
func (p Policy) cutoff(t time.Time) time.Time {
	local := t.In(p.location())
	y, m, d := local.Date()
	h := int(p.DayCutoff / time.Hour)
	mins := int(p.DayCutoff % time.Hour / time.Minute)
	secs := int(p.DayCutoff % time.Minute / time.Second)
	return time.Date(y, m, d, h, mins, secs, 0, p.location())
}

// Derive maps the latest accepted scan (if any) to a status at now.
func Derive(latest time.Time, found bool, now time.Time, p Policy) models.PresenceStatus {
	start := p.dayStart(now)
	if !found || latest.Before(start) {
		return models.PresenceNotScanned
	}
	if p.DayCutoff > 0 && p.DayCutoff < fullDay && !now.Before(p.cutoff(now)) {
		return models.PresenceAbsent
	}
	if now.Sub(latest) <= p.Freshness {
		return models.PresencePresent
	}
	return models.PresenceAbsent
}

// Store is the read side of the scan log.
type Store interface {
	LatestAccepted(ctx context.Context, tenantID id.TenantID, subjectID id.UserID, asOf time.Time) (time.Time, error)
	LatestAcceptedBySubjects(ctx context.Context, tenantID id.TenantID, subjects []id.UserID, asOf time.Time) (map[id.UserID]time.Time, error)
}

// Aggregator answers presence polls. Concurrent identical tenant polls share
// one store round trip.
type Aggregator struct {
	store  Store
	policy Policy
	group  singleflight.Group
}

func NewAggregator(store Store, policy Policy) *Aggregator {
	if policy.Freshness <= 0 {
		policy.Freshness = DefaultFreshness
	}
	return &Aggregator{store: store, policy: policy}
}

func (a *Aggregator) Policy() Policy {
	return a.policy
}

func (a *Aggregator) PresenceFor(ctx context.Context, tenantID id.TenantID, subjectID id.UserID, now time.Time) (models.SubjectPresence, error) {
	latest, err := a.store.LatestAccepted(ctx, tenantID, subjectID, now)
	found := true
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return models.SubjectPresence{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load latest scan")
		}
		found = false
	}
	return a.row(subjectID, latest, found, now), nil
}

// PresenceForTenant reports every subject with an accepted scan in the
// tenant, or exactly the requested subjects when any are given. Rows are
// ordered by subject id.
//
// The store round trip is shared by concurrent identical polls and runs on
// its own timeout; a caller that gives up only stops waiting for it.
func (a *Aggregator) PresenceForTenant(ctx context.Context, tenantID id.TenantID, now time.Time, subjects ...id.UserID) ([]models.SubjectPresence, error) {
	key := pollKey(tenantID, now, subjects)
	ch := a.group.DoChan(key, func() (any, error) {
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pollTimeout)
		defer cancel()
		return a.poll(pollCtx, tenantID, now, subjects)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeInternal, "presence poll abandoned")
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	shared := res.Val.([]models.SubjectPresence)
	out := make([]models.SubjectPresence, len(shared))
	copy(out, shared)
	return out, nil
}

func (a *Aggregator) poll(ctx context.Context, tenantID id.TenantID, now time.Time, subjects []id.UserID) ([]models.SubjectPresence, error) {
	latest, err := a.store.LatestAcceptedBySubjects(ctx, tenantID, subjects, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load latest scans")
	}

	roster := subjects
	if len(roster) == 0 {
		roster = make([]id.UserID, 0, len(latest))
		for sub := range latest {
			roster = append(roster, sub)
		}
	}

	rows := make([]models.SubjectPresence, 0, len(roster))
	for _, sub := range roster {
		at, found := latest[sub]
		rows = append(rows, a.row(sub, at, found, now))
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].SubjectID.String() < rows[j].SubjectID.String()
	})
	return rows, nil
}

func (a *Aggregator) row(subjectID id.UserID, latest time.Time, found bool, now time.Time) models.SubjectPresence {
	row := models.SubjectPresence{
		SubjectID: subjectID,
		Status:    Derive(latest, found, now, a.policy),
	}
	if found {
		at := latest
		row.LastScanAt = &at
	}
	return row
}

func pollKey(tenantID id.TenantID, now time.Time, subjects []id.UserID) string {
	ids := make([]string, len(subjects))
	for i, s := range subjects {
		ids[i] = s.String()
	}
	sort.Strings(ids)
	return fmt.Sprintf("%s|%d|%s", tenantID, now.UnixMilli(), strings.Join(ids, ","))
}
