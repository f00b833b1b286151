package aaclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace all metrics are registered under.
	Namespace = "aaclient"
	subsystem = "userop"
)

var (
	userOpsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      "submitted_total",
		Help:      "User operations forwarded to the bundler",
	}, []string{"result"})

	depositTopUps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      "deposit_topups_total",
		Help:      "Entry point deposit top-up transactions sent by the owner",
	}, []string{"result"})

	revertsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      "reverts_total",
		Help:      "Contract reverts seen, by whether a reason could be decoded",
	}, []string{"reason"})

	approvalsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      "approvals_total",
		Help:      "Fee token approval operations issued ahead of a contract call",
	})
)

func observeRevert(e *RevertError) {
	label := "decoded"
	if e.Reason == "" {
		label = "fallback"
	}
	revertsDecoded.WithLabelValues(label).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
