package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Batch job metrics
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// Tracker metrics
	TrackersProcessed *prometheus.CounterVec
	EventsDetected    *prometheus.CounterVec
	TrackersDisabled  prometheus.Counter

	// Notification metrics
	NotificationsSent         prometheus.Counter
	NotificationsFailed       prometheus.Counter
	NotificationsDeadLettered prometheus.Counter
	QueueLength               prometheus.Gauge

	// Upstream metrics
	UpstreamRequests *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them with reg.
// Passing a fresh prometheus.NewRegistry() keeps tests isolated.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Batch job invocations by outcome",
		}, []string{"job", "outcome"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of completed batch job runs",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"job"}),

		TrackersProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trackers_processed_total",
			Help:      "Tracked repositories processed by outcome",
		}, []string{"outcome"}),
		EventsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_detected_total",
			Help:      "New, deduplicated events by kind",
		}, []string{"kind"}),
		TrackersDisabled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trackers_deactivated_total",
			Help:      "Trackers deactivated after reaching the error threshold",
		}),

		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notification jobs delivered",
		}),
		NotificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Notification delivery attempts that failed",
		}),
		NotificationsDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dead_lettered_total",
			Help:      "Notification jobs moved to the dead-letter list",
		}),
		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_queue_length",
			Help:      "Pending notification jobs observed at the end of a drain",
		}),

		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests to the repository data source",
		}, []string{"operation", "status"}),
	}
}

// NewNop returns metrics bound to a private registry.
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry(), "test")
}
