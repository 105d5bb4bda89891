package recall

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "membank",
			Subsystem: "recall",
			Name:      "query_duration_seconds",
			Help:      "Duration of ranked queries",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// patternCache counts pattern lookups.
	// Labels: result (hit, miss)
	patternCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "membank",
			Subsystem: "recall",
			Name:      "pattern_cache_total",
			Help:      "Pattern cache lookups by result",
		},
		[]string{"result"},
	)

	riskFlagsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "membank",
			Subsystem: "recall",
			Name:      "risk_flags_total",
			Help:      "Total number of risk flags raised",
		},
	)
)
