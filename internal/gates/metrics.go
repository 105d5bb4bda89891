package gates

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// assessmentsTotal counts assessments.
// Labels: artifact_type, verdict (pass, warning, fail, blocked, malformed)
var assessmentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "membank",
		Subsystem: "gates",
		Name:      "assessments_total",
		Help:      "Total number of artifact assessments by verdict",
	},
	[]string{"artifact_type", "verdict"},
)
