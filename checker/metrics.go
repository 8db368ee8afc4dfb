package checker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cycles. A nil *Metrics records nothing.
type Metrics struct {
	CyclesTotal      *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	NotifierFailures prometheus.Counter
}

// NewMetrics registers the cycle metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkers_cycles_total",
				Help: "Total number of check cycles by outcome",
			},
			[]string{"outcome"}, // outcome: passed, failed, errored
		),
		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "checkers_cycle_duration_seconds",
				Help:    "Check cycle latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		NotifierFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checkers_notifier_failures_total",
				Help: "Total number of cycles whose event could not be delivered",
			},
		),
	}
}

func (m *Metrics) observeCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) notifierFailed() {
	if m == nil {
		return
	}
	m.NotifierFailures.Inc()
}
