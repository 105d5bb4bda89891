package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// writesTotal counts structural writes.
	// Labels: op (append_decision, update_outcome, append_conversation),
	// result (ok, invalid, rejected, capacity)
	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "membank",
			Subsystem: "memory",
			Name:      "writes_total",
			Help:      "Total number of write operations by result",
		},
		[]string{"op", "result"},
	)

	// evictionsTotal counts evicted rows.
	// Labels: kind (decision, conversation)
	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "membank",
			Subsystem: "memory",
			Name:      "evictions_total",
			Help:      "Total number of records evicted to satisfy the size budget",
		},
		[]string{"kind"},
	)

	// storedBytes is the accounted size of each open project.
	storedBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "membank",
			Subsystem: "memory",
			Name:      "stored_bytes",
			Help:      "Accounted size of stored records per project",
		},
		[]string{"project"},
	)

	// writeDuration tracks the locked section of successful appends.
	writeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "membank",
			Subsystem: "memory",
			Name:      "write_duration_seconds",
			Help:      "Duration of append operations including eviction and reindex",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
