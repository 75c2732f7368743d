// Package observability holds process-wide watermark metrics.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meeting_activity",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity write accepted by Postgres.",
	})
	activityReconciledGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meeting_activity",
		Subsystem: "ingress",
		Name:      "last_activity_reconciled_timestamp_seconds",
		Help:      "Unix timestamp of the most recent lifecycle event reconciled into an activity.",
	})

	subscriptionsOnce sync.Once
)

func init() {
	prometheus.MustRegister(activityPersistGauge, activityReconciledGauge)
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordActivityReconciled updates the reconcile watermark gauge.
func RecordActivityReconciled(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityReconciledGauge.Set(float64(ts.Unix()))
}

// SubscriptionCounter exposes the live size of the subscription registry.
type SubscriptionCounter interface {
	Len() int
	Users() int
}

// TrackSubscriptions registers gauges reading channel and user counts from counter.
// Only the first call registers; the registry lives for the whole process.
func TrackSubscriptions(counter SubscriptionCounter) {
	subscriptionsOnce.Do(func() {
		prometheus.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "meeting_activity",
				Subsystem: "registry",
				Name:      "channels",
				Help:      "Number of live channels subscribed to a user stream.",
			}, func() float64 { return float64(counter.Len()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "meeting_activity",
				Subsystem: "registry",
				Name:      "users",
				Help:      "Number of users with at least one live channel.",
			}, func() float64 { return float64(counter.Users()) }),
		)
	})
}
