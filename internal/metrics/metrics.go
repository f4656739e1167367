package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchasesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_started_total",
			Help: "Purchase attempts that reached the reservation step",
		},
		[]string{"event_id"},
	)

	PurchasesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_rejected_total",
			Help: "Purchase attempts rejected before any instance was claimed or due to contention",
		},
		[]string{"reason"},
	)

	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Settlement calls by final outcome",
		},
		[]string{"outcome"},
	)

	SettlementReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_replays_total",
			Help: "Settlement calls that found an already-terminal transaction",
		},
	)

	SettlementInconsistencies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_inconsistencies_total",
			Help: "Settlements aborted because finalize could not cover every claimed instance",
		},
	)

	CheckoutSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "Checkout handles created per gateway provider",
		},
		[]string{"provider", "status"},
	)

	ClaimDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claim_duration_seconds",
			Help:    "Duration of atomic inventory claims",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"ticket_type_id"},
	)
)
