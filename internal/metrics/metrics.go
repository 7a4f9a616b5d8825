package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chanpay_ledger_mutations_total",
			Help: "Committed balance mutations by transaction kind and status",
		},
		[]string{"kind", "status"},
	)

	LedgerAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chanpay_ledger_amount_total",
			Help: "Sum of committed amounts in minor units by transaction kind",
		},
		[]string{"kind"},
	)

	RequestOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chanpay_request_outcomes_total",
			Help: "Outcomes of engine operations",
		},
		[]string{"operation", "outcome"},
	)

	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chanpay_side_effect_failures_total",
			Help: "Gateway calls that failed after a committed mutation",
		},
		[]string{"operation"},
	)

	SweepProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chanpay_sweep_processed_total",
			Help: "Records advanced by scheduled sweeps",
		},
		[]string{"sweep", "action"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chanpay_sweep_duration_seconds",
			Help:    "Duration of sweep runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	OutboxRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chanpay_outbox_relayed_total",
			Help: "Outbox events handled by the relay",
		},
		[]string{"result"},
	)

	UpdatesHandled = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chanpay_update_duration_seconds",
			Help:    "Time spent handling a bot update",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)
