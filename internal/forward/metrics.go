package forward

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// forwardTotal counts forward attempts.
	// Labels: outcome (ok, failed)
	forwardTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approval",
			Subsystem: "forward",
			Name:      "total",
			Help:      "Decision events posted to the workflow API by outcome",
		},
		[]string{"outcome"},
	)

	forwardDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "approval",
			Subsystem: "forward",
			Name:      "duration_seconds",
			Help:      "Duration of workflow API calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
