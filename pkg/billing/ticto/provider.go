// Package ticto implements the billing.Gateway adapter for Ticto.
// Authenticity is a shared token carried inside the webhook body; the
// plan is identified by the offer code, not a structured reference.
package ticto

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gravyx/billing/internal/httpx"
	"github.com/gravyx/billing/pkg/billing"
)

const (
	providerName             = "ticto"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 120
)

// Config configures the Ticto adapter.
type Config struct {
	// Processor consumes the normalized events.
	Processor *billing.Processor

	// WebhookToken is the shared secret Ticto embeds in each payload.
	WebhookToken string

	Logger  billing.Logger
	Metrics billing.Metrics
}

// Provider implements billing.Gateway for Ticto.
type Provider struct {
	processor    *billing.Processor
	webhookToken []byte
	rateLimiter  *httpx.RateLimiter
	logger       billing.Logger
	metrics      billing.Metrics
}

// NewProvider creates the Ticto adapter.
func NewProvider(config Config) (*Provider, error) {
	if config.Processor == nil || strings.TrimSpace(config.WebhookToken) == "" {
		return nil, billing.ErrGatewayNotConfigured
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	return &Provider{
		processor:    config.Processor,
		webhookToken: []byte(strings.TrimSpace(config.WebhookToken)),
		rateLimiter:  httpx.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		logger:       logger,
		metrics:      metrics,
	}, nil
}

// Name implements billing.Gateway.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler implements billing.Gateway.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// Refund implements billing.Gateway. Ticto exposes no refund API usable
// from here; operators refund through the Ticto dashboard and the
// PaymentRefunded webhook reconciles the account.
func (p *Provider) Refund(_ context.Context, _ *billing.LedgerEntry) error {
	return billing.ErrRefundNotSupported
}
