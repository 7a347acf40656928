package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Request metrics
	sendsTotal *prometheus.CounterVec

	// Staging metrics
	stagingFailuresTotal *prometheus.CounterVec
	attachmentsTotal     prometheus.Counter
	attachmentSizeBytes  prometheus.Histogram

	// Recipient metrics
	recipientsPerSend       prometheus.Histogram
	recipientsRejectedTotal prometheus.Counter

	// Helper metrics
	helperExitsTotal            *prometheus.CounterVec
	helperDurationSeconds       prometheus.Histogram
	helperInvocationErrorsTotal prometheus.Counter

	// Audit metrics
	auditPublishTotal *prometheus.CounterVec
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupmail_sends_total",
			Help: "Total number of send-as-group requests by outcome.",
		}, []string{"group", "result"}),

		stagingFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupmail_staging_failures_total",
			Help: "Total number of requests that failed while staging files.",
		}, []string{"reason"}),
		attachmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupmail_attachments_total",
			Help: "Total number of attachments staged.",
		}),
		attachmentSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "groupmail_attachment_size_bytes",
			Help:    "Total attachment bytes staged per request.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 26214400, 52428800},
		}),

		recipientsPerSend: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "groupmail_recipients_per_send",
			Help:    "Number of recipients per dispatched message.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		recipientsRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupmail_recipients_rejected_total",
			Help: "Total number of recipient entries that failed to parse.",
		}),

		helperExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupmail_helper_exits_total",
			Help: "Total number of helper runs by exit code.",
		}, []string{"exit_code"}),
		helperDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "groupmail_helper_duration_seconds",
			Help:    "Wall time of helper runs.",
			Buckets: prometheus.DefBuckets,
		}),
		helperInvocationErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupmail_helper_invocation_errors_total",
			Help: "Total number of times the helper could not be started.",
		}),

		auditPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupmail_audit_publish_total",
			Help: "Total number of audit record publish attempts.",
		}, []string{"result"}),
	}

	// Register all metrics
	reg.MustRegister(
		c.sendsTotal,
		c.stagingFailuresTotal,
		c.attachmentsTotal,
		c.attachmentSizeBytes,
		c.recipientsPerSend,
		c.recipientsRejectedTotal,
		c.helperExitsTotal,
		c.helperDurationSeconds,
		c.helperInvocationErrorsTotal,
		c.auditPublishTotal,
	)

	return c
}

// SendCompleted increments the send counter.
func (c *PrometheusCollector) SendCompleted(group string, result string) {
	c.sendsTotal.WithLabelValues(group, result).Inc()
}

// StagingFailed increments the staging failure counter.
func (c *PrometheusCollector) StagingFailed(reason string) {
	c.stagingFailuresTotal.WithLabelValues(reason).Inc()
}

// AttachmentsStaged counts attachments and observes their combined size.
func (c *PrometheusCollector) AttachmentsStaged(count int, sizeBytes int64) {
	if count == 0 {
		return
	}
	c.attachmentsTotal.Add(float64(count))
	c.attachmentSizeBytes.Observe(float64(sizeBytes))
}

// RecipientsAccepted observes the recipient count of a validated request.
func (c *PrometheusCollector) RecipientsAccepted(count int) {
	c.recipientsPerSend.Observe(float64(count))
}

// RecipientRejected increments the rejected recipient counter.
func (c *PrometheusCollector) RecipientRejected() {
	c.recipientsRejectedTotal.Inc()
}

// HelperCompleted records the helper's exit code and run time.
func (c *PrometheusCollector) HelperCompleted(exitCode int, duration time.Duration) {
	c.helperExitsTotal.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	c.helperDurationSeconds.Observe(duration.Seconds())
}

// HelperInvocationFailed increments the invocation error counter.
func (c *PrometheusCollector) HelperInvocationFailed() {
	c.helperInvocationErrorsTotal.Inc()
}

// AuditPublished increments the audit publish counter.
func (c *PrometheusCollector) AuditPublished(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.auditPublishTotal.WithLabelValues(result).Inc()
}
