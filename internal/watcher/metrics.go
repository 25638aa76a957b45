package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "approval_watcher_state",
		Help: "1 for the current connection state, 0 otherwise.",
	}, []string{"state"})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "approval_watcher_reconnects_total",
		Help: "Reconnect attempts scheduled after a connection failure.",
	})

	livenessFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "approval_watcher_liveness_failures_total",
		Help: "Liveness checks that found the connection not running.",
	})
)

var allStates = []State{Disconnected, Connecting, Connected, Degraded}

func observeState(cur State) {
	for _, st := range allStates {
		v := 0.0
		if st == cur {
			v = 1
		}
		stateGauge.WithLabelValues(st.String()).Set(v)
	}
}
