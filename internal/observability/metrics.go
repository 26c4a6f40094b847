package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	repositoryOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "repository_operations_total",
			Help:      "Record store operations by repository, operation and outcome",
		},
		[]string{"repository", "operation", "outcome"},
	)

	submissionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "submission_events_total",
			Help:      "Submission lifecycle events by type, stage and outcome",
		},
		[]string{"type", "stage", "outcome"},
	)

	newsletterEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "newsletter_events_total",
			Help:      "Newsletter signup, confirmation and list events",
		},
		[]string{"action", "outcome"},
	)

	publishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intake",
			Name:      "publish_duration_seconds",
			Help:      "Duration of downstream publish calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"publisher", "outcome"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{repositoryOperationsTotal, submissionEventsTotal, newsletterEventsTotal, publishDuration}
}

// RegisterMetrics registers all collectors. Registering twice on the same
// registry is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func RecordRepositoryOperation(_ context.Context, repository, operation, outcome string) {
	repositoryOperationsTotal.WithLabelValues(repository, operation, outcome).Inc()
}

func RecordSubmissionEvent(_ context.Context, submissionType, stage, outcome string) {
	submissionEventsTotal.WithLabelValues(submissionType, stage, outcome).Inc()
}

func RecordNewsletterEvent(_ context.Context, action, outcome string) {
	newsletterEventsTotal.WithLabelValues(action, outcome).Inc()
}

func RecordPublish(_ context.Context, publisher, outcome string, took time.Duration) {
	publishDuration.WithLabelValues(publisher, outcome).Observe(took.Seconds())
}
