package broadcast

import "github.com/prometheus/client_golang/prometheus"

var (
	publishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_activity",
		Subsystem: "broadcast",
		Name:      "publishes_total",
		Help:      "Number of updates published, labeled by event kind.",
	}, []string{"event_kind"})

	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meeting_activity",
		Subsystem: "broadcast",
		Name:      "deliveries_total",
		Help:      "Number of updates written to a channel.",
	})

	deliveryFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meeting_activity",
		Subsystem: "broadcast",
		Name:      "delivery_failures_total",
		Help:      "Number of per-channel delivery failures.",
	})

	fanoutHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "meeting_activity",
		Subsystem: "broadcast",
		Name:      "fanout_channels",
		Help:      "Number of channels targeted by a single publish.",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
	})
)

func init() {
	prometheus.MustRegister(publishCounter, deliveredCounter, deliveryFailedCounter, fanoutHistogram)
}
