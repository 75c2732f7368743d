package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	relayedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_activity",
		Subsystem: "relay",
		Name:      "messages_total",
		Help:      "Relay records by direction (published, received, skipped) and result.",
	}, []string{"direction", "result"})
)

func init() {
	prometheus.MustRegister(relayedCounter)
}
