package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records ledger call latency.
type Metrics struct {
	CallDuration *prometheus.HistogramVec
}

// NewMetrics registers the ledger metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CallDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "microcred_ledger_call_duration_seconds",
			Help:    "Ledger call latency by operation and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"operation", "outcome"}),
	}
}

// ObserveCall records one ledger call. outcome is "ok" or the error kind.
func (m *Metrics) ObserveCall(op, outcome string, start time.Time) {
	m.CallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
