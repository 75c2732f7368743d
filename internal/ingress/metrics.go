package ingress

import "github.com/prometheus/client_golang/prometheus"

const (
	resultOK               = "ok"
	resultValidationFailed = "validation_failed"
	resultStorageFailed    = "storage_failed"
	resultFailed           = "failed"
)

var (
	eventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_activity",
		Subsystem: "ingress",
		Name:      "events_total",
		Help:      "Number of lifecycle events handled, labeled by kind and result.",
	}, []string{"kind", "result"})

	outcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_activity",
		Subsystem: "ingress",
		Name:      "reconcile_outcomes_total",
		Help:      "Number of reconciled events, labeled by kind and whether a record was created or merged.",
	}, []string{"kind", "outcome"})

	membershipCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_activity",
		Subsystem: "ingress",
		Name:      "membership_changes_total",
		Help:      "Number of channel join, leave and disconnect signals.",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(eventsCounter, outcomeCounter, membershipCounter)
}
