package metrics

import "time"

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// SendCompleted is a no-op.
func (n *NoopCollector) SendCompleted(group string, result string) {}

// StagingFailed is a no-op.
func (n *NoopCollector) StagingFailed(reason string) {}

// AttachmentsStaged is a no-op.
func (n *NoopCollector) AttachmentsStaged(count int, sizeBytes int64) {}

// RecipientsAccepted is a no-op.
func (n *NoopCollector) RecipientsAccepted(count int) {}

// RecipientRejected is a no-op.
func (n *NoopCollector) RecipientRejected() {}

// HelperCompleted is a no-op.
func (n *NoopCollector) HelperCompleted(exitCode int, duration time.Duration) {}

// HelperInvocationFailed is a no-op.
func (n *NoopCollector) HelperInvocationFailed() {}

// AuditPublished is a no-op.
func (n *NoopCollector) AuditPublished(success bool) {}
