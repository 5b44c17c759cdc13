package pipeline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the orchestrator's Prometheus collectors.
//
//   - triaged_events_fetched_total
//   - triaged_outcomes_total{kind}
//   - triaged_cycle_duration_seconds
//   - triaged_cycle_errors_total{stage}
type metrics struct {
	eventsFetched prometheus.Counter
	outcomes      *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cycleErrors   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		eventsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triaged_events_fetched_total",
			Help: "Error events fetched from the log warehouse",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triaged_outcomes_total",
			Help: "Remediation outcomes, by kind",
		}, []string{"kind"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triaged_cycle_duration_seconds",
			Help:    "Wall time of one orchestrator cycle",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triaged_cycle_errors_total",
			Help: "Pipeline errors, by stage",
		}, []string{"stage"}),
	}
	if reg == nil {
		return m
	}
	m.eventsFetched = register(reg, m.eventsFetched).(prometheus.Counter)
	m.outcomes = register(reg, m.outcomes).(*prometheus.CounterVec)
	m.cycleDuration = register(reg, m.cycleDuration).(prometheus.Histogram)
	m.cycleErrors = register(reg, m.cycleErrors).(*prometheus.CounterVec)
	return m
}

// register returns the already registered collector when one with the same
// descriptor exists.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
	}
	return c
}
