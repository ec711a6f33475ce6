package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChallengesIssued counts 402 challenges emitted for protected paths.
	ChallengesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_challenges_total",
		Help: "Number of 402 payment challenges issued",
	}, []string{"service"})

	// Settlements counts settlement attempts by terminal status.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_settlements_total",
		Help: "Number of settlement attempts by status",
	}, []string{"status"})

	// LegacySettlements counts direct receiveWithAuthorization settlements
	// that bypass the escrow ledger. Any sustained rate here means the
	// provider ledger is drifting from chain.
	LegacySettlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402_legacy_settlements_total",
		Help: "Number of settlements through the direct token path (no escrow credit)",
	})

	// SettlementDuration observes submit-to-confirmation latency.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "x402_settlement_duration_seconds",
		Help:    "Time from transaction submission to confirmation",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// VerificationFailures counts rejected payment authorizations by kind.
	VerificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_verification_failures_total",
		Help: "Number of rejected payment authorizations by error kind",
	}, []string{"kind"})

	// UpstreamFailures counts paid-but-undelivered upstream calls.
	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_upstream_failures_total",
		Help: "Number of upstream fetch failures after successful settlement",
	}, []string{"service"})
)
