// Package stripe implements the billing.Gateway adapter for Stripe.
// Webhook authenticity is the Stripe-Signature HMAC verified through the
// official SDK; outbound calls (checkout sessions, refunds) use the v83
// client API.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/gravyx/billing/internal/httpx"
	"github.com/gravyx/billing/pkg/billing"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Config configures the Stripe adapter.
type Config struct {
	// Processor consumes the normalized events.
	Processor *billing.Processor

	// APIKey is the secret key for outbound calls.
	APIKey string

	// WebhookSecret is the signing secret (whsec_...) for webhook
	// signature verification.
	WebhookSecret string

	// SuccessURL and CancelURL are the checkout redirect targets.
	SuccessURL string
	CancelURL  string

	// HTTPClient is optional; a 10s-timeout client is used when nil.
	HTTPClient *http.Client

	Logger  billing.Logger
	Metrics billing.Metrics
}

// Provider implements billing.Gateway for Stripe.
type Provider struct {
	processor     *billing.Processor
	stripeClient  *stripe.Client
	webhookSecret []byte
	successURL    string
	cancelURL     string
	httpClient    *http.Client
	rateLimiter   *httpx.RateLimiter
	logger        billing.Logger
	metrics       billing.Metrics
}

// NewProvider creates the Stripe adapter.
func NewProvider(config Config) (*Provider, error) {
	if config.Processor == nil {
		return nil, billing.ErrGatewayNotConfigured
	}

	apiKey := strings.TrimSpace(config.APIKey)
	webhookSecret := strings.TrimSpace(config.WebhookSecret)
	if apiKey == "" || webhookSecret == "" {
		return nil, billing.ErrGatewayNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
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
		processor:     config.Processor,
		stripeClient:  stripe.NewClient(apiKey),
		webhookSecret: []byte(webhookSecret),
		successURL:    config.SuccessURL,
		cancelURL:     config.CancelURL,
		httpClient:    httpClient,
		rateLimiter:   httpx.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		logger:        logger,
		metrics:       metrics,
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
