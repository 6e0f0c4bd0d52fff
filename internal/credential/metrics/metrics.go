package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for credential issuance and verification.
type Metrics struct {
	IssuedTotal            *prometheus.CounterVec
	IssueDuration          *prometheus.HistogramVec
	IdempotentReplays      prometheus.Counter
	VerificationsTotal     *prometheus.CounterVec
	ReconciliationRequired prometheus.Counter
	AirdropsTotal          *prometheus.CounterVec
}

// New creates the credential metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IssuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "microcred_credentials_issued_total",
			Help: "Issuance attempts by mode and outcome",
		}, []string{"mode", "outcome"}),
		IssueDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "microcred_credential_issue_duration_seconds",
			Help:    "Duration of Issue including ledger confirmation",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),
		IdempotentReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "microcred_credential_idempotent_replays_total",
			Help: "Issuance requests answered from a stored receipt",
		}),
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "microcred_credential_verifications_total",
			Help: "Completed verifications by result",
		}, []string{"valid"}),
		ReconciliationRequired: factory.NewCounter(prometheus.CounterOpts{
			Name: "microcred_credential_reconciliation_required_total",
			Help: "Mints that succeeded on the ledger but were not recorded",
		}),
		AirdropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "microcred_airdrops_total",
			Help: "Faucet requests by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveIssue records one issuance attempt. Call with time.Now() at the start.
func (m *Metrics) ObserveIssue(mode, outcome string, start time.Time) {
	m.IssuedTotal.WithLabelValues(mode, outcome).Inc()
	m.IssueDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementReplay() {
	m.IdempotentReplays.Inc()
}

func (m *Metrics) IncrementVerification(valid bool) {
	label := "false"
	if valid {
		label = "true"
	}
	m.VerificationsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncrementReconciliationRequired() {
	m.ReconciliationRequired.Inc()
}

func (m *Metrics) IncrementAirdrop(outcome string) {
	m.AirdropsTotal.WithLabelValues(outcome).Inc()
}
