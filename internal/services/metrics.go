package services

import "github.com/prometheus/client_golang/prometheus"

// Collectors for the ledger and the cache coordinator. Label values are fixed
// sets so cardinality stays bounded.
var (
	// cacheOps counts cache outcomes: hit, miss, set, del, error, skip and
	// fallback_load (a value served from the durable store).
	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modcases_cache_operations_total",
			Help: "Cache operations by outcome.",
		},
		[]string{"result"},
	)

	// cacheDegraded is 1 while the coordinator bypasses the cache.
	cacheDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modcases_cache_degraded",
			Help: "Whether the cache is bypassed after repeated failures.",
		},
	)

	// cachePendingOverflow counts invalidations dropped from the full pending set.
	cachePendingOverflow = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modcases_cache_pending_overflow_total",
			Help: "Pending cache invalidations evicted before they could be replayed.",
		},
	)

	// casesCreated counts committed cases by kind.
	casesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modcases_cases_created_total",
			Help: "Cases recorded by kind.",
		},
		[]string{"kind"},
	)

	// escalations counts evaluator outcomes: escalated, deduplicated, below,
	// disabled, error.
	escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modcases_escalation_evaluations_total",
			Help: "Escalation evaluations by outcome.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(cacheOps, cacheDegraded, cachePendingOverflow, casesCreated, escalations)
}
