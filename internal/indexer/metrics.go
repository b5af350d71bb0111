package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncsTotal counts sync runs by outcome.
	// Labels: result (success, partial, degraded, error)
	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "indexer",
			Name:      "syncs_total",
			Help:      "Total number of sync runs by outcome",
		},
		[]string{"result"},
	)

	// SyncDuration tracks how long full sync runs take.
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "indexer",
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// DocumentsIndexed counts documents fully re-indexed.
	DocumentsIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "indexer",
			Name:      "documents_indexed_total",
			Help:      "Total number of documents re-indexed",
		},
	)

	// ChunksIndexed counts chunk rows written to the chunk store.
	ChunksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "indexer",
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunk rows inserted",
		},
	)
)
