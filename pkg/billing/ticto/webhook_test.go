package ticto

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravyx/billing/pkg/billing"
	"github.com/gravyx/billing/pkg/billing/reference"
	"github.com/gravyx/billing/storage/memory"
)

func newTestProvider(t *testing.T) (*Provider, *memory.Storage) {
	t.Helper()
	store := memory.New()
	store.PutAccount(&billing.Account{
		ID: "U1", Email: "ana@example.com",
		Tier: billing.TierFree, SubscriptionStatus: billing.StatusInactive,
	})
	store.PutPlan(&billing.Plan{
		Tier: billing.TierPremium, Cycle: billing.CycleMonthly,
		PriceCents: 19700, Credits: 200, MaxProjects: 10, Active: true,
	})

	// Ticto identifies plans by offer code, resolved via the code table.
	parser := reference.NewDefaultParser(map[string]reference.Ref{
		"off_premium_m": {Tier: "premium", Cycle: "monthly"},
	})
	resolver := billing.NewResolver(store, nil, nil, nil, billing.DefaultResolverConfig())
	processor, err := billing.NewProcessor(billing.ProcessorConfig{
		Store:    store,
		Parser:   parser,
		Resolver: resolver,
	})
	require.NoError(t, err)

	p, err := NewProvider(Config{Processor: processor, WebhookToken: "tok_abc"})
	require.NoError(t, err)
	return p, store
}

func postWebhook(p *Provider, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ticto", strings.NewReader(body))
	w := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(w, req)
	return w
}

const authorizedBody = `{
	"token": "tok_abc",
	"status": "authorized",
	"paid_amount": 19700,
	"transaction": {"hash": "txh_1"},
	"offer": {"code": "OFF_PREMIUM_M"},
	"customer": {"email": "Ana@Example.com"}
}`

func TestWebhookAuthorized(t *testing.T) {
	p, store := newTestProvider(t)

	w := postWebhook(p, authorizedBody)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"applied"`)

	acct, err := store.GetAccount(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, 200, acct.Credits)
	assert.Equal(t, billing.TierPremium, acct.Tier)
	assert.Equal(t, billing.StatusActive, acct.SubscriptionStatus)

	ledger := store.LedgerEntries()
	require.Len(t, ledger, 1)
	assert.Equal(t, "txh_1", ledger[0].TransactionID)
}

func TestWebhookBodyToken(t *testing.T) {
	p, store := newTestProvider(t)

	w := postWebhook(p, strings.Replace(authorizedBody, "tok_abc", "tok_nope", 1))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, store.Events(), "failed auth leaves no event-log trace")
}

func TestWebhookRefused(t *testing.T) {
	p, store := newTestProvider(t)

	// Get the account active first.
	postWebhook(p, authorizedBody)

	body := `{
		"token": "tok_abc",
		"status": "refused",
		"transaction": {"hash": "txh_2"},
		"offer": {"code": "off_premium_m"},
		"customer": {"email": "ana@example.com"}
	}`
	w := postWebhook(p, body)
	assert.Equal(t, http.StatusOK, w.Code)

	acct, err := store.GetAccount(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, acct.SubscriptionStatus)
	assert.Equal(t, 200, acct.Credits, "a refused charge never touches credits")
}

func TestWebhookSubscriptionCanceled(t *testing.T) {
	p, store := newTestProvider(t)
	postWebhook(p, authorizedBody)

	body := `{
		"token": "tok_abc",
		"status": "subscription_canceled",
		"order": {"hash": "ord_9"},
		"offer": {"code": "off_premium_m"},
		"customer": {"email": "ana@example.com"}
	}`
	w := postWebhook(p, body)
	assert.Equal(t, http.StatusOK, w.Code)

	acct, err := store.GetAccount(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, billing.TierFree, acct.Tier)
	assert.Equal(t, billing.StatusInactive, acct.SubscriptionStatus)
}

func TestWebhookUnknownStatusAcked(t *testing.T) {
	p, store := newTestProvider(t)

	w := postWebhook(p, `{"token": "tok_abc", "status": "waiting_payment", "transaction": {"hash": "txh_3"}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ignored"`)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "ticto.waiting_payment", events[0].EventType)
}

func TestRefundNotSupported(t *testing.T) {
	p, _ := newTestProvider(t)
	err := p.Refund(context.Background(), &billing.LedgerEntry{TransactionID: "txh_1"})
	assert.ErrorIs(t, err, billing.ErrRefundNotSupported)
}
