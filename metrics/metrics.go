package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InstancesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journey_instances_started_total",
		Help: "Flow instances spawned, by flow.",
	}, []string{"flow"})

	InstancesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journey_instances_completed_total",
		Help: "Flow instances reaching a terminal status, by flow and status.",
	}, []string{"flow", "status"})

	DuplicateTriggersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journey_duplicate_triggers_dropped_total",
		Help: "Trigger matches dropped because the contact already had an active instance.",
	}, []string{"flow"})

	ActionRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journey_action_retries_total",
		Help: "Retryable action failures scheduled for another attempt.",
	}, []string{"handler"})

	wakeLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "journey_wake_lag_millis",
		Help:    "Delay between a wake target and the poll that fired it.",
		Buckets: prometheus.ExponentialBuckets(10, 4, 8),
	})
)

func ObserveWakeLag(lagMillis int64) {
	if lagMillis < 0 {
		lagMillis = 0
	}
	wakeLag.Observe(float64(lagMillis))
}
