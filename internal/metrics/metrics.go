// Package metrics exposes Prometheus collectors for the auth service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics groups the auth collectors. A nil *Metrics records nothing.
type Metrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	purged   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitchfork_auth",
			Name:      "operations_total",
			Help:      "Auth operations by name and outcome.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pitchfork_auth",
			Name:      "operation_duration_seconds",
			Help:      "Auth operation latency; dominated by password hashing.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitchfork_auth",
			Name:      "sessions_purged_total",
			Help:      "Session rows deleted by the sweeper.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.ops, m.duration, m.purged)
	return m
}

// Observe records one operation. result is an error kind or ResultOK.
func (m *Metrics) Observe(op, result string, started time.Time) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// Purged adds n deleted rows of kind ("expired" or "revoked").
func (m *Metrics) Purged(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.WithLabelValues(kind).Add(float64(n))
}
