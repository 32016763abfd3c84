package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stocksync_reservation_operations_total",
			Help: "Store stock operations by operation and result code",
		},
		[]string{"operation", "result"},
	)

	casRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stocksync_cas_retries_total",
			Help: "Version conflicts that caused a stock mutation to be retried",
		},
		[]string{"operation"},
	)

	aggregatorOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stocksync_aggregator_outcomes_total",
			Help: "Inventory events handled by the central aggregator, by outcome",
		},
		[]string{"outcome"},
	)

	aggregatorApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stocksync_aggregator_apply_duration_seconds",
			Help:    "Time spent applying one inventory event to the central view",
			Buckets: prometheus.DefBuckets,
		},
	)

	reconciliationDrift = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stocksync_reconciliation_drift_total",
			Help: "Central rows whose totals were corrected by reconciliation",
		},
	)

	journalPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stocksync_journal_purged_total",
			Help: "Terminal inventory events removed by retention",
		},
	)
)
