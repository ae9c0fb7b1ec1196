package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the attendance module.
type Metrics struct {
	TokensIssued     prometheus.Counter
	ScansValidated   *prometheus.CounterVec
	ValidateDuration prometheus.Histogram
	PresenceDuration prometheus.Histogram
}

// New registers the attendance metrics with the default registry.
// Call once per process.
func New() *Metrics {
	return &Metrics{
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "practicum_attendance_tokens_issued_total",
			Help: "Total number of attendance tokens issued",
		}),
		ScansValidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "practicum_attendance_scans_total",
			Help: "Scan validations by outcome",
		}, []string{"result"}),
		ValidateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "practicum_attendance_validate_duration_seconds",
			Help:    "Duration of scan validation including persistence",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		PresenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "practicum_attendance_presence_duration_seconds",
			Help:    "Duration of tenant presence polls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementTokensIssued() {
	m.TokensIssued.Inc()
}

// IncrementScan counts one validation outcome; result is a ScanResult or "malformed".
func (m *Metrics) IncrementScan(result string) {
	m.ScansValidated.WithLabelValues(result).Inc()
}

// ObserveValidate records the duration of a Validate call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveValidate(start time.Time) {
	m.ValidateDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObservePresence(start time.Time) {
	m.PresenceDuration.Observe(time.Since(start).Seconds())
}
