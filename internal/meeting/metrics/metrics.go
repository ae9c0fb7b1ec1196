package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for meeting negotiation.
type Metrics struct {
	MeetingsCreated prometheus.Counter
	Responses       *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	RespondDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		MeetingsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "practicum_meetings_created_total",
			Help: "Total number of meetings created",
		}),
		Responses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "practicum_meeting_responses_total",
			Help: "Party responses by answer",
		}, []string{"status"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "practicum_meeting_overall_transitions_total",
			Help: "Overall status changes by resulting status",
		}, []string{"status"}),
		RespondDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "practicum_meeting_respond_duration_seconds",
			Help:    "Duration of Respond including the locked read-modify-write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementCreated() {
	m.MeetingsCreated.Inc()
}

func (m *Metrics) IncrementResponse(status string) {
	m.Responses.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementTransition(status string) {
	m.Transitions.WithLabelValues(status).Inc()
}

// ObserveRespond records the duration of a Respond call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRespond(start time.Time) {
	m.RespondDuration.Observe(time.Since(start).Seconds())
}
