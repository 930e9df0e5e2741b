package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Shard-level counters. Registered on the default registry; exposed by the
// health listener's /metrics endpoint.
var (
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatshard_events_appended_total",
		Help: "Events appended, by scope kind and event kind.",
	}, []string{"scope", "kind"})

	Reads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatshard_reads_total",
		Help: "Read operations served, by entry point.",
	}, []string{"op"})

	StaleReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatshard_replica_stale_total",
		Help: "Reads rejected because the caller observed a fresher view.",
	})

	PayloadMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatshard_payload_mutations_total",
		Help: "Message payload mutations, by mutation kind.",
	}, []string{"kind"})

	RetentionPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatshard_retention_purged_total",
		Help: "Soft-deleted messages promoted to hard-deleted by the sweeper.",
	})

	HotTierEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatshard_hot_tier_entries",
		Help: "Envelopes currently held in the in-memory hot tier.",
	})
)
