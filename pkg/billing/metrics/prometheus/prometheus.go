// Package prommetrics implements billing.Metrics on Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gravyx/billing/pkg/billing"
)

// Metrics implements billing.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	tierChangesTotal          *prometheus.CounterVec
	apiCallsTotal             *prometheus.CounterVec
	apiCallDuration           *prometheus.HistogramVec
	trialAccountsTotal        *prometheus.CounterVec
}

// NewMetrics creates a Prometheus metrics implementation for the
// reconciliation core.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events received from payment gateways.",
		}, []string{"gateway", "event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "event_type"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook processing errors.",
		}, []string{"gateway", "error_type"}),

		tierChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "tier_changes_total",
			Help:      "Total number of account tier changes.",
		}, []string{"gateway", "from_tier", "to_tier"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_calls_total",
			Help:      "Total number of outbound API calls to payment gateways.",
		}, []string{"gateway", "endpoint", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_call_duration_seconds",
			Help:      "Duration of outbound API calls to payment gateways in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "endpoint"}),

		trialAccountsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "trial_accounts_total",
			Help:      "Total number of trial accounts handled per drip run, by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) RecordWebhookEvent(gateway, eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(gateway, eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(gateway, eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(gateway, eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(gateway, errorType string) {
	m.webhookErrorsTotal.WithLabelValues(gateway, errorType).Inc()
}

func (m *Metrics) RecordTierChange(gateway, fromTier, toTier string) {
	m.tierChangesTotal.WithLabelValues(gateway, fromTier, toTier).Inc()
}

func (m *Metrics) RecordAPICall(gateway, endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(gateway, endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(gateway, endpoint string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(gateway, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordTrialAccount(status string) {
	m.trialAccountsTotal.WithLabelValues(status).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) billing.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
