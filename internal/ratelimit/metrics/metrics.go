package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions    *prometheus.CounterVec
	StoreErrors  prometheus.Counter
	CircuitState prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "practicum_ratelimit_decisions_total",
			Help: "Rate limit decisions by endpoint class and outcome",
		}, []string{"class", "outcome"}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "practicum_ratelimit_store_errors_total",
			Help: "Primary rate limit store failures",
		}),
		CircuitState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "practicum_ratelimit_circuit_state",
			Help: "Rate limit store circuit state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) IncrementDecision(class, outcome string) {
	m.Decisions.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	m.StoreErrors.Inc()
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if open {
		m.CircuitState.Set(1)
		return
	}
	m.CircuitState.Set(0)
}
