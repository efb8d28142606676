// Package metrics exposes Prometheus collectors for the tracking engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callrank_signals_tracked_total",
		Help: "Signals opened, by channel.",
	}, []string{"channel"})

	SignalsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callrank_signals_completed_total",
		Help: "Signals completed, by channel and outcome category.",
	}, []string{"channel", "category"})

	MentionsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callrank_mentions_deduplicated_total",
		Help: "Mentions skipped because the address was already being tracked.",
	})

	ActiveSignals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callrank_active_signals",
		Help: "Signals currently in progress.",
	})

	ReputationScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "callrank_reputation_score",
		Help: "Composite reputation score per channel.",
	}, []string{"channel"})

	CheckpointEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callrank_checkpoint_evaluations_total",
		Help: "Checkpoints recorded, by label.",
	}, []string{"checkpoint"})

	BreakerOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callrank_oracle_breaker_opens_total",
		Help: "Times the price oracle circuit breaker tripped open.",
	})

	OracleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callrank_oracle_cache_hits_total",
		Help: "Price lookups served from the Redis cache.",
	})

	OracleCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callrank_oracle_cache_misses_total",
		Help: "Price lookups that fell through to the upstream oracle.",
	})

	BackfillMessageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callrank_backfill_message_duration_seconds",
		Help:    "Per-message processing time during bulk backfill.",
		Buckets: prometheus.DefBuckets,
	})
)
