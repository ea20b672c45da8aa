package asaas

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravyx/billing/pkg/billing"
)

func newClientProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	p, _ := newTestProvider(t)
	p.baseURL = baseURL
	return p
}

func TestCreatePaymentLink(t *testing.T) {
	var gotPath, gotToken string
	var gotBody paymentLinkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("access_token")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":  "pl_1",
			"url": "https://asaas.example.com/c/pl_1",
		})
	}))
	defer srv.Close()

	p := newClientProvider(t, srv.URL)
	url, err := p.CreatePaymentLink(context.Background(), "Gravyx starter (monthly)",
		"gravyx_monthly_starter_U1", 8000)
	require.NoError(t, err)

	assert.Equal(t, "https://asaas.example.com/c/pl_1", url)
	assert.Equal(t, "/paymentLinks", gotPath)
	assert.Equal(t, "key_123", gotToken)
	assert.Equal(t, "gravyx_monthly_starter_U1", gotBody.ExternalReference)
	assert.Equal(t, int64(8000), gotBody.Value)
	assert.Equal(t, "UNDEFINED", gotBody.BillingType)
	assert.Equal(t, "DETACHED", gotBody.ChargeType)
}

func TestCheckoutURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body paymentLinkRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "Gravyx starter (monthly)", body.Name)
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://asaas.example.com/c/pl_2"})
	}))
	defer srv.Close()

	p := newClientProvider(t, srv.URL)
	plan := &billing.Plan{Tier: billing.TierStarter, Cycle: billing.CycleMonthly, PriceCents: 8000}
	url, err := p.CheckoutURL(context.Background(), plan, "gravyx_monthly_starter_U1", 6400)
	require.NoError(t, err)
	assert.Equal(t, "https://asaas.example.com/c/pl_2", url)
}

func TestRefundCall(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "REFUNDED"})
		}))
		defer srv.Close()

		p := newClientProvider(t, srv.URL)
		err := p.Refund(context.Background(), &billing.LedgerEntry{TransactionID: "pay_123"})
		require.NoError(t, err)
		assert.Equal(t, "/payments/pay_123/refund", gotPath)
	})

	t.Run("API error surfaces", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		p := newClientProvider(t, srv.URL)
		err := p.Refund(context.Background(), &billing.LedgerEntry{TransactionID: "pay_123"})
		assert.Error(t, err)
	})

	t.Run("missing API key", func(t *testing.T) {
		p, _ := newTestProvider(t)
		p.apiKey = ""
		err := p.Refund(context.Background(), &billing.LedgerEntry{TransactionID: "pay_123"})
		assert.ErrorIs(t, err, billing.ErrGatewayNotConfigured)
	})
}
