package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []OutboxEntry
	published []uuid.UUID
}

func (f *fakeOutbox) FetchPending(_ context.Context, limit int) ([]OutboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) < limit {
		limit = len(f.pending)
	}
	return append([]OutboxEntry{}, f.pending[:limit]...), nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, ids []uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, ids...)
	done := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	remaining := f.pending[:0]
	for _, e := range f.pending {
		if !done[e.ID] {
			remaining = append(remaining, e)
		}
	}
	f.pending = remaining
	return nil
}

type fakeProducer struct {
	err     error
	records []*kgo.Record
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func newEntries(n int) []OutboxEntry {
	entries := make([]OutboxEntry, n)
	for i := range entries {
		entries[i] = OutboxEntry{
			ID:        uuid.New(),
			EventType: "attendance_scan_accepted",
			Payload:   []byte(`{"action":"attendance_scan_accepted"}`),
			CreatedAt: time.Now(),
		}
	}
	return entries
}

func TestRelayOnce_PublishesAndMarks(t *testing.T) {
	outbox := &fakeOutbox{pending: newEntries(3)}
	producer := &fakeProducer{}
	w := NewWorker(outbox, producer, "audit-events", WithBatchSize(2))

	n, err := w.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, outbox.published, 2)
	require.Len(t, producer.records, 2)
	assert.Equal(t, "audit-events", producer.records[0].Topic)
	assert.Equal(t, outbox.published[0].String(), string(producer.records[0].Key))

	n, err = w.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRelayOnce_ProduceFailureLeavesEntriesPending(t *testing.T) {
	outbox := &fakeOutbox{pending: newEntries(1)}
	producer := &fakeProducer{err: errors.New("broker down")}
	w := NewWorker(outbox, producer, "audit-events")

	for range 3 {
		_, err := w.RelayOnce(context.Background())
		require.Error(t, err)
	}
	assert.Empty(t, outbox.published)
	assert.Len(t, outbox.pending, 1)
	assert.True(t, w.breaker.IsOpen())

	producer.err = nil
	n, err := w.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, w.breaker.IsOpen())
}
