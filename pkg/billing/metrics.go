package billing

import "time"

// Metrics defines the interface for tracking reconciliation operations.
// All methods are optional - components should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from a gateway.
	// status: "applied", "duplicate", "ignored", "failed"
	RecordWebhookEvent(gateway, eventType, status string)

	// RecordWebhookProcessingDuration records how long processing took.
	RecordWebhookProcessingDuration(gateway, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: "auth_failed", "invalid_payload", "payload_too_large", "processing_error"
	RecordWebhookError(gateway, errorType string)

	// RecordTierChange records when an account's tier changes.
	RecordTierChange(gateway, fromTier, toTier string)

	// RecordAPICall records an outbound API call to a payment gateway.
	RecordAPICall(gateway, endpoint, status string)

	// RecordAPICallDuration records how long an outbound API call took.
	RecordAPICallDuration(gateway, endpoint string, duration time.Duration)

	// RecordTrialAccount records the handling of one account in a trial
	// drip run. status: "granted", "expired", "unchanged", "failed"
	RecordTrialAccount(status string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordTierChange(_, _, _ string)                              {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
func (n *NoopMetrics) RecordTrialAccount(_ string)                                  {}
