// Package platform is the HTTP client for the Gravyx platform's internal
// API. The reconciliation core uses it to create auth identities during
// auto-provisioning and to dispatch welcome notifications.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// Config configures the platform client.
type Config struct {
	// BaseURL is the internal API root, e.g. http://platform.internal:8080.
	BaseURL string

	// APIKey authenticates service-to-service calls.
	APIKey string

	// HTTPClient is optional; a 10s-timeout client is used when nil.
	HTTPClient *http.Client
}

// Client implements billing.IdentityProvider and billing.Notifier.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a platform client.
func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("platform: base URL is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(config.APIKey),
		httpClient: httpClient,
	}, nil
}

// CreateIdentity registers an auth identity. The platform side creates the
// account row asynchronously; callers poll for it.
func (c *Client) CreateIdentity(ctx context.Context, email, password string) error {
	return c.post(ctx, "/internal/identities", map[string]string{
		"email":    email,
		"password": password,
	})
}

// SendWelcome dispatches the welcome notification for a newly provisioned
// account.
func (c *Client) SendWelcome(ctx context.Context, email string) error {
	return c.post(ctx, "/internal/notifications/welcome", map[string]string{
		"email": email,
	})
}

func (c *Client) post(ctx context.Context, endpoint string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("platform API error: status %d, body: %s", res.StatusCode, string(body))
	}
	return nil
}
