// Package asaas implements the billing.Gateway adapter for Asaas.
// Webhook authenticity is a shared-secret header (asaas-access-token)
// compared in constant time; outbound calls use the Asaas REST API.
package asaas

import (
	"net/http"
	"strings"
	"time"

	"github.com/gravyx/billing/internal/httpx"
	"github.com/gravyx/billing/pkg/billing"
)

const (
	providerName             = "asaas"
	defaultBaseURL           = "https://api.asaas.com/v3"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 120
)

// Config configures the Asaas adapter.
type Config struct {
	// Processor consumes the normalized events.
	Processor *billing.Processor

	// WebhookToken is the shared secret Asaas sends in the
	// asaas-access-token header.
	WebhookToken string

	// APIKey authenticates outbound calls (refunds, payment links).
	APIKey string

	// BaseURL overrides the API base (sandbox vs. production).
	BaseURL string

	// HTTPClient is optional; a 10s-timeout client is used when nil.
	HTTPClient *http.Client

	Logger  billing.Logger
	Metrics billing.Metrics
}

// Provider implements billing.Gateway for Asaas.
type Provider struct {
	processor    *billing.Processor
	webhookToken []byte
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	rateLimiter  *httpx.RateLimiter
	logger       billing.Logger
	metrics      billing.Metrics
}

// NewProvider creates the Asaas adapter.
func NewProvider(config Config) (*Provider, error) {
	if config.Processor == nil || strings.TrimSpace(config.WebhookToken) == "" {
		return nil, billing.ErrGatewayNotConfigured
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
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
		apiKey:       strings.TrimSpace(config.APIKey),
		baseURL:      baseURL,
		httpClient:   httpClient,
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
