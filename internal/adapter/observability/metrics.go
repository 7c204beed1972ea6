// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for distributed tracing and
// Prometheus for metrics, giving both worker roles the same
// instrumentation surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// JobsClaimedTotal counts jobs claimed by the filler, by node.
	JobsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpu_fleet_jobs_claimed_total",
			Help: "Total number of jobs claimed by a filler",
		},
		[]string{"node_id"},
	)
	// JobsExpiredTotal counts jobs reaped by TTL instead of published.
	JobsExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpu_fleet_jobs_expired_total",
			Help: "Total number of jobs reaped as expired by the filler",
		},
		[]string{"node_id"},
	)
	// JobsPublishedTotal counts jobs successfully published to the broker.
	JobsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpu_fleet_jobs_published_total",
			Help: "Total number of jobs published to the broker",
		},
		[]string{"node_id"},
	)
	// JobsPublishFailedTotal counts publish failures after a successful claim.
	JobsPublishFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpu_fleet_jobs_publish_failed_total",
			Help: "Total number of jobs that failed to publish after claim",
		},
		[]string{"node_id"},
	)
	// BrokerDepth is a gauge of the last observed broker queue depth.
	BrokerDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpu_fleet_broker_depth",
			Help: "Last observed broker queue depth",
		},
		[]string{"queue"},
	)
	// MessagesConsumedTotal counts broker deliveries handled by the consumer.
	MessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpu_fleet_messages_consumed_total",
			Help: "Total number of broker deliveries handled by the consumer",
		},
		[]string{"node_id", "job_type"},
	)
	// MessagesAckedTotal counts successful deliveries.
	MessagesAckedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpu_fleet_messages_acked_total",
			Help: "Total number of broker deliveries acknowledged",
		},
		[]string{"node_id"},
	)
	// MessagesNackedTotal counts failed deliveries.
	MessagesNackedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpu_fleet_messages_nacked_total",
			Help: "Total number of broker deliveries negatively acknowledged",
		},
		[]string{"node_id"},
	)
	// ModerationBlockedTotal counts prompts blocked by moderation.
	ModerationBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpu_fleet_moderation_blocked_total",
			Help: "Total number of prompts blocked by moderation",
		},
		[]string{"node_id", "job_type"},
	)
	// GeneratorRuntimeSeconds records per-execution generator runtime.
	GeneratorRuntimeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpu_fleet_generator_runtime_seconds",
			Help:    "Generator execution runtime in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"node_id", "job_type"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(JobsClaimedTotal)
	prometheus.MustRegister(JobsExpiredTotal)
	prometheus.MustRegister(JobsPublishedTotal)
	prometheus.MustRegister(JobsPublishFailedTotal)
	prometheus.MustRegister(BrokerDepth)
	prometheus.MustRegister(MessagesConsumedTotal)
	prometheus.MustRegister(MessagesAckedTotal)
	prometheus.MustRegister(MessagesNackedTotal)
	prometheus.MustRegister(ModerationBlockedTotal)
	prometheus.MustRegister(GeneratorRuntimeSeconds)
}

// RecordClaim increments the claimed-job counter for node.
func RecordClaim(node string) { JobsClaimedTotal.WithLabelValues(node).Inc() }

// RecordExpired increments the expired-job counter for node.
func RecordExpired(node string) { JobsExpiredTotal.WithLabelValues(node).Inc() }

// RecordPublished increments the published-job counter for node.
func RecordPublished(node string) { JobsPublishedTotal.WithLabelValues(node).Inc() }

// RecordPublishFailed increments the publish-failure counter for node.
func RecordPublishFailed(node string) { JobsPublishFailedTotal.WithLabelValues(node).Inc() }

// RecordBrokerDepth sets the last observed depth for queue.
func RecordBrokerDepth(queue string, depth int) { BrokerDepth.WithLabelValues(queue).Set(float64(depth)) }

// RecordConsumed increments the consumed-message counter for node/jobType.
func RecordConsumed(node, jobType string) { MessagesConsumedTotal.WithLabelValues(node, jobType).Inc() }

// RecordAcked increments the acked-message counter for node.
func RecordAcked(node string) { MessagesAckedTotal.WithLabelValues(node).Inc() }

// RecordNacked increments the nacked-message counter for node.
func RecordNacked(node string) { MessagesNackedTotal.WithLabelValues(node).Inc() }

// RecordModerationBlocked increments the moderation-blocked counter for node/jobType.
func RecordModerationBlocked(node, jobType string) {
	ModerationBlockedTotal.WithLabelValues(node, jobType).Inc()
}

// RecordGeneratorRuntime observes a single generator execution's runtime.
func RecordGeneratorRuntime(node, jobType string, seconds float64) {
	GeneratorRuntimeSeconds.WithLabelValues(node, jobType).Observe(seconds)
}
