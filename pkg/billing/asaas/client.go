package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gravyx/billing/pkg/billing"
)

// Refund implements billing.Gateway by calling the Asaas refund endpoint
// for the ledger transaction. The HTTP client timeout bounds the call; a
// timeout means unknown outcome and is surfaced as an error so the caller
// never mistakes it for success.
func (p *Provider) Refund(ctx context.Context, entry *billing.LedgerEntry) error {
	endpoint := fmt.Sprintf("/payments/%s/refund", entry.TransactionID)
	if _, err := p.doRequest(ctx, http.MethodPost, endpoint, nil); err != nil {
		return fmt.Errorf("asaas refund %s: %w", entry.TransactionID, err)
	}
	p.logger.Info("asaas refund requested",
		billing.Field{Key: "transaction_id", Value: entry.TransactionID},
	)
	return nil
}

// paymentLinkRequest is the body for POST /paymentLinks.
type paymentLinkRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Value             int64  `json:"value"`
	BillingType       string `json:"billingType"`
	ChargeType        string `json:"chargeType"`
	ExternalReference string `json:"externalReference"`
}

type paymentLinkResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreatePaymentLink creates an Asaas payment link for one plan purchase.
// reference must be a parseable Gravyx reference so the webhook can route
// the resulting PAYMENT_CONFIRMED back to the account.
func (p *Provider) CreatePaymentLink(ctx context.Context, name, reference string, valueCents int64) (string, error) {
	reqBody := paymentLinkRequest{
		Name:              name,
		Value:             valueCents,
		BillingType:       "UNDEFINED",
		ChargeType:        "DETACHED",
		ExternalReference: reference,
	}
	raw, err := p.doRequest(ctx, http.MethodPost, "/paymentLinks", reqBody)
	if err != nil {
		return "", fmt.Errorf("asaas payment link: %w", err)
	}
	var resp paymentLinkResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("asaas payment link: parse response: %w", err)
	}
	return resp.URL, nil
}

// CheckoutURL creates a hosted payment link for one plan purchase. It is
// the checkout path for deployments that bill through Asaas; the reference
// rides along as the external reference and comes back on the payment
// confirmation webhook.
func (p *Provider) CheckoutURL(ctx context.Context, plan *billing.Plan, reference string, amountCents int64) (string, error) {
	name := fmt.Sprintf("Gravyx %s (%s)", plan.Tier, plan.Cycle)
	return p.CreatePaymentLink(ctx, name, reference, amountCents)
}

func (p *Provider) doRequest(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	if p.apiKey == "" {
		return nil, billing.ErrGatewayNotConfigured
	}

	var reqBody io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("access_token", p.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := p.httpClient.Do(req)
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "transport_error")
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	p.metrics.RecordAPICall(providerName, endpoint, fmt.Sprintf("%d", res.StatusCode))
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("asaas API error: status %d, body: %s", res.StatusCode, string(body))
	}
	return body, nil
}
