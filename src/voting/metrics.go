package voting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stake-plus/govvote/src/shared/gov"
)

// Metrics counts vote and finalization outcomes.
type Metrics struct {
	votes         *prometheus.CounterVec
	finalizations *prometheus.CounterVec
	ledgerCalls   *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govvote",
			Name:      "votes_total",
			Help:      "Vote submissions by result (accepted or the error code).",
		}, []string{"result"}),
		finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govvote",
			Name:      "finalizations_total",
			Help:      "Finalize calls by result (the terminal status or the error code).",
		}, []string{"result"}),
		ledgerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "govvote",
			Name:      "ledger_call_seconds",
			Help:      "Latency of ledger calls made by the voting path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.votes, m.finalizations, m.ledgerCalls)
	}
	return m
}

func (m *Metrics) vote(err error) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(result(err, "accepted")).Inc()
}

func (m *Metrics) finalize(status gov.Status, err error) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(result(err, string(status))).Inc()
}

func (m *Metrics) observe(op string, seconds float64) {
	if m == nil {
		return
	}
	m.ledgerCalls.WithLabelValues(op).Observe(seconds)
}

func result(err error, ok string) string {
	if err == nil {
		return ok
	}
	return string(gov.CodeOf(err))
}
