// Package metrics provides Prometheus metrics for inlet connectors.
// It defines counters and histograms for sync passes, uploads, retries,
// webhook verdicts, and scheduler behavior, plus a small per-connector
// Collector facade.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPasses counts completed sync passes by connector and status.
	SyncPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inlet",
			Name:      "sync_passes_total",
			Help:      "Total sync passes by connector and terminal status",
		},
		[]string{"connector", "status"},
	)

	// DocumentsUploaded counts documents accepted by the ingestion boundary.
	DocumentsUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inlet",
			Name:      "documents_uploaded_total",
			Help:      "Total documents uploaded to the ingestion boundary",
		},
		[]string{"connector"},
	)

	// ItemErrors counts per-item failures that did not abort a pass.
	ItemErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inlet",
			Name:      "item_errors_total",
			Help:      "Total isolated per-item errors by connector and stage",
		},
		[]string{"connector", "stage"},
	)

	// RetryAttempts counts retry waits performed by the retry executor.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inlet",
			Name:      "retry_attempts_total",
			Help:      "Total retry attempts by operation",
		},
		[]string{"operation"},
	)

	// WebhookRequests counts inbound webhook deliveries by verdict.
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inlet",
			Name:      "webhook_requests_total",
			Help:      "Total inbound webhook requests by endpoint and verdict",
		},
		[]string{"endpoint", "verdict"},
	)

	// SchedulerSkips counts ticks skipped because a run was still in flight.
	SchedulerSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inlet",
			Name:      "scheduler_skipped_ticks_total",
			Help:      "Total scheduler ticks skipped due to an in-flight run",
		},
		[]string{"job"},
	)

	// PassDuration observes wall-clock sync pass duration.
	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inlet",
			Name:      "sync_pass_duration_seconds",
			Help:      "Sync pass duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"connector"},
	)
)

// Collector is a per-connector facade over the shared metric vectors.
type Collector struct {
	connector string
	startTime time.Time
}

// NewCollector creates a collector labeled with the connector name.
func NewCollector(connector string) *Collector {
	return &Collector{
		connector: connector,
		startTime: time.Now(),
	}
}

// PassCompleted records a finished pass with its terminal status and duration.
func (c *Collector) PassCompleted(status string, duration time.Duration) {
	SyncPasses.WithLabelValues(c.connector, status).Inc()
	PassDuration.WithLabelValues(c.connector).Observe(duration.Seconds())
}

// Uploaded records n uploaded documents.
func (c *Collector) Uploaded(n int) {
	if n > 0 {
		DocumentsUploaded.WithLabelValues(c.connector).Add(float64(n))
	}
}

// ItemError records one isolated item failure at the given stage.
func (c *Collector) ItemError(stage string) {
	ItemErrors.WithLabelValues(c.connector, stage).Inc()
}

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}
