package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// IngestedTotal counts ingestion events by kind (evidence, signal,
	// relation) and result (applied, duplicate, corrupt, failed).
	IngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partgraph_ingested_total",
			Help: "Ingestion events processed, by kind and result",
		},
		[]string{"kind", "result"},
	)

	// RelationshipsMergedTotal counts relationships upserted into the graph.
	RelationshipsMergedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partgraph_relationships_merged_total",
			Help: "Relationships merged into the graph, by type",
		},
		[]string{"type"},
	)

	// StoreErrorsTotal counts failed graph store calls by operation and code.
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partgraph_store_errors_total",
			Help: "Graph store call failures, by operation and error code",
		},
		[]string{"operation", "code"},
	)

	// StoreRetriesTotal counts retried graph store calls.
	StoreRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partgraph_store_retries_total",
			Help: "Graph store call retries, by operation",
		},
		[]string{"operation"},
	)

	// StoreConflictsTotal counts write transactions that lost a race and
	// were replayed.
	StoreConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partgraph_store_conflicts_total",
			Help: "Graph store write conflicts, by operation",
		},
		[]string{"operation"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "partgraph_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	// QueryDuration tracks read query latency.
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partgraph_query_duration_seconds",
			Help:    "Latency of lookup, chain and spec queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query", "code"},
	)
)

func init() {
	prometheus.MustRegister(IngestedTotal)
	prometheus.MustRegister(RelationshipsMergedTotal)
	prometheus.MustRegister(StoreErrorsTotal)
	prometheus.MustRegister(StoreRetriesTotal)
	prometheus.MustRegister(StoreConflictsTotal)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(QueryDuration)
}
