// Package metrics provides interfaces and implementations for collecting
// group mail metrics. This package defines the Collector interface for
// recording metrics and the Server interface for exposing them.
package metrics

import (
	"context"
	"time"
)

// Collector defines the interface for recording group mail metrics.
type Collector interface {
	// Request lifecycle (group account first)
	// result should be "success", "rejected" or "failed"
	SendCompleted(group string, result string)

	// Staging metrics
	// reason should be "root_unwritable", "collision", "attachment_name", "too_large" or "io"
	StagingFailed(reason string)
	AttachmentsStaged(count int, sizeBytes int64)

	// Recipient metrics
	RecipientsAccepted(count int)
	RecipientRejected()

	// Helper metrics
	HelperCompleted(exitCode int, duration time.Duration)
	HelperInvocationFailed()

	// Audit metrics
	AuditPublished(success bool)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
