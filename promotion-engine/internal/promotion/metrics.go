package promotion

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exported by the executor. A nil *Metrics records nothing.
type Metrics struct {
	attempts      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	childFailures *prometheus.CounterVec
	skipped       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promotion",
			Name:      "attempts_total",
			Help:      "Promotion attempts by final log status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "promotion",
			Name:      "stage_duration_seconds",
			Help:      "Time spent per executor stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		childFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promotion",
			Name:      "child_write_failures_total",
			Help:      "Failed child table writes by table and policy action.",
		}, []string{"table", "action"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promotion",
			Name:      "skipped_triggers_total",
			Help:      "Triggers that did not start an attempt.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.stageDuration, m.childFailures, m.skipped)
	}
	return m
}

func (m *Metrics) attempt(status string) {
	if m != nil {
		m.attempts.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) stage(s State, since time.Time) {
	if m != nil {
		m.stageDuration.WithLabelValues(string(s)).Observe(time.Since(since).Seconds())
	}
}

func (m *Metrics) childFailure(table, action string) {
	if m != nil {
		m.childFailures.WithLabelValues(table, action).Inc()
	}
}

func (m *Metrics) skip(reason string) {
	if m != nil {
		m.skipped.WithLabelValues(reason).Inc()
	}
}
