package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultEmpty         = "empty"
	resultParsed        = "parsed"
	resultForwarded     = "forwarded"
	resultForwardFailed = "forward_failed"
)

var (
	// processedTotal counts handled messages.
	// Labels: result (empty, parsed, forwarded, forward_failed)
	processedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approval",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Messages processed by result",
		},
		[]string{"result"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "approval",
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Messages waiting for a worker",
		},
	)
)
