// Package worker relays outbox rows to Kafka.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"

	"practicum/pkg/platform/circuit"
)

// Outbox is the relay's view of the outbox table.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Producer publishes records synchronously.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Metrics for the outbox relay.
type Metrics struct {
	Published    prometheus.Counter
	Failures     prometheus.Counter
	CircuitState prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "practicum_audit_outbox_published_total",
			Help: "Total number of outbox entries published to Kafka",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "practicum_audit_outbox_publish_failures_total",
			Help: "Total number of failed outbox publish batches",
		}),
		CircuitState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "practicum_audit_outbox_circuit_state",
			Help: "Outbox relay circuit state (0=closed, 1=open)",
		}),
	}
}

// Worker polls the outbox and produces each entry to the audit topic keyed by event id.
type Worker struct {
	outbox    Outbox
	producer  Producer
	topic     string
	interval  time.Duration
	batchSize int
	breaker   *circuit.Breaker
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(outbox Outbox, producer Producer, topic string, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		producer:  producer,
		topic:     topic,
		interval:  time.Second,
		batchSize: 100,
		breaker:   circuit.New("audit-outbox", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1)),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled. While the circuit is open the worker
// polls at a slower rate.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	skip := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if skip > 0 {
			skip--
			continue
		}
		if _, err := w.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			if w.breaker.IsOpen() {
				skip = 10
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many entries were delivered.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	entries, err := w.outbox.FetchPending(ctx, w.batchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to read outbox", "error", err)
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, len(entries))
	for i, e := range entries {
		records[i] = &kgo.Record{
			Topic: w.topic,
			Key:   []byte(e.ID.String()),
			Value: e.Payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(e.EventType)},
				{Key: "aggregate_type", Value: []byte(e.AggregateType)},
			},
		}
	}

	if err := w.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		w.recordFailure(ctx, err)
		return 0, err
	}

	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := w.outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
		// Entries will be re-sent; the consumer drops duplicates by id.
		w.logger.ErrorContext(ctx, "failed to mark outbox entries published", "count", len(ids), "error", err)
		return 0, err
	}

	if _, change := w.breaker.RecordSuccess(); change.Closed {
		w.logger.InfoContext(ctx, "audit outbox circuit closed", "breaker", w.breaker.Name())
		w.setCircuitGauge(false)
	}
	if w.metrics != nil {
		w.metrics.Published.Add(float64(len(entries)))
	}
	return len(entries), nil
}

func (w *Worker) recordFailure(ctx context.Context, err error) {
	if w.metrics != nil {
		w.metrics.Failures.Inc()
	}
	_, change := w.breaker.RecordFailure()
	if change.Opened {
		w.logger.WarnContext(ctx, "audit outbox circuit opened", "breaker", w.breaker.Name(), "error", err)
		w.setCircuitGauge(true)
		return
	}
	w.logger.ErrorContext(ctx, "failed to publish outbox batch", "error", err)
}

func (w *Worker) setCircuitGauge(open bool) {
	if w.metrics == nil {
		return
	}
	if open {
		w.metrics.CircuitState.Set(1)
	} else {
		w.metrics.CircuitState.Set(0)
	}
}
