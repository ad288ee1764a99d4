// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eco_ledger_appends_total",
		Help: "Ledger append calls by kind and result (created, duplicate, conflict, error).",
	}, []string{"kind", "result"})

	BalanceCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eco_balance_cache_total",
		Help: "Balance cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eco_claims_total",
		Help: "Claim scans by outcome.",
	}, []string{"outcome"})

	Visits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eco_visits_total",
		Help: "Visit mint attempts by outcome.",
	}, []string{"outcome"})

	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eco_redemptions_total",
		Help: "Redemptions by outcome.",
	}, []string{"outcome"})

	RedemptionAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eco_redemption_attempts",
		Help:    "Transaction attempts needed per redemption.",
		Buckets: []float64{1, 2, 3, 4, 5, 8},
	})

	EcoMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eco_minted_total",
		Help: "ECO minted through visit claims on this instance.",
	})

	EcoRetired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eco_retired_total",
		Help: "ECO retired through redemptions on this instance.",
	})

	RollupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eco_rollup_runs_total",
		Help: "Rollup worker job runs by job and result.",
	}, []string{"job", "result"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eco_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
