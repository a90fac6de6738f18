package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenRefreshes counts OAuth refresh attempts by outcome (ok, failed, lost_race).
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postflow_token_refreshes_total",
			Help: "Total number of OAuth token refresh attempts",
		},
		[]string{"platform", "result"},
	)

	// PublishTransitions counts publish task status changes.
	PublishTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postflow_publish_transitions_total",
			Help: "Total number of publish task status transitions",
		},
		[]string{"platform", "status"},
	)

	MediaSegments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postflow_media_segments_uploaded_total",
			Help: "Total number of media segments appended",
		},
		[]string{"platform"},
	)

	// GenerationSettlements counts generation tasks moved to a terminal status.
	GenerationSettlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postflow_generation_settlements_total",
			Help: "Total number of generation tasks settled",
		},
		[]string{"status"},
	)

	LedgerEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postflow_ledger_entries_total",
			Help: "Total number of points ledger entries applied",
		},
		[]string{"reason"},
	)

	// SweepDuration observes one reconciliation sweep.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postflow_reconcile_sweep_duration_seconds",
			Help:    "Duration of a generation reconciliation sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postflow_provider_request_duration_seconds",
			Help:    "Duration of outbound provider requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "op"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "postflow_circuit_breaker_state",
			Help: "Current state of a provider circuit breaker",
		},
		[]string{"name"},
	)
)
