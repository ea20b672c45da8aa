package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravyx/billing/pkg/billing"
	"github.com/gravyx/billing/pkg/billing/reference"
	"github.com/gravyx/billing/storage/memory"
)

func newTestProcessor(t *testing.T, store *memory.Storage) *billing.Processor {
	t.Helper()
	resolver := billing.NewResolver(store, nil, nil, nil, billing.DefaultResolverConfig())
	p, err := billing.NewProcessor(billing.ProcessorConfig{
		Store:              store,
		Parser:             reference.NewDefaultParser(nil),
		Resolver:           resolver,
		CancellationPolicy: billing.ReclaimTrialOnly,
	})
	require.NoError(t, err)
	return p
}

func seedStarterWorld(store *memory.Storage) {
	store.PutAccount(&billing.Account{
		ID:                 "U1",
		Email:              "ana@example.com",
		Credits:            0,
		Tier:               billing.TierFree,
		BillingCycle:       billing.CycleMonthly,
		MaxProjects:        1,
		SubscriptionStatus: billing.StatusInactive,
	})
	store.PutPlan(&billing.Plan{
		Tier:        billing.TierStarter,
		Cycle:       billing.CycleMonthly,
		PriceCents:  8000,
		Credits:     80,
		MaxProjects: 3,
		Active:      true,
	})
}

func TestProcessPaymentConfirmed(t *testing.T) {
	store := memory.New()
	seedStarterWorld(store)
	p := newTestProcessor(t, store)

	ev := &billing.Event{
		Gateway:       "asaas",
		Kind:          billing.PaymentConfirmed,
		TransactionID: "pay_123",
		Reference:     "gravyx_monthly_starter_U1",
		CustomerEmail: "ana@example.com",
		AmountCents:   8000,
		RawType:       "PAYMENT_CONFIRMED",
	}

	res := p.Process(context.Background(), ev)
	require.Equal(t, billing.OutcomeApplied, res.Outcome, "reason: %s", res.Reason)

	acct, err := store.GetAccount(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, 80, acct.Credits)
	assert.Equal(t, billing.TierStarter, acct.Tier)
	assert.Equal(t, billing.CycleMonthly, acct.BillingCycle)
	assert.Equal(t, 3, acct.MaxProjects)
	assert.Equal(t, billing.StatusActive, acct.SubscriptionStatus)

	ledger := store.LedgerEntries()
	require.Len(t, ledger, 1)
	assert.Equal(t, "pay_123", ledger[0].TransactionID)
	assert.Equal(t, 80, ledger[0].CreditsAdded)
	assert.Equal(t, int64(8000), ledger[0].AmountCents)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "asaas.PAYMENT_CONFIRMED", events[0].EventType)
	assert.True(t, events[0].Processed)
}

func TestProcessRedelivery(t *testing.T) {
	store := memory.New()
	seedStarterWorld(store)
	p := newTestProcessor(t, store)

	ev := &billing.Event{
		Gateway:       "asaas",
		Kind:          billing.PaymentConfirmed,
		TransactionID: "pay_123",
		Reference:     "gravyx_monthly_starter_U1",
		AmountCents:   8000,
		RawType:       "PAYMENT_CONFIRMED",
	}

	first := p.Process(context.Background(), ev)
	require.Equal(t, billing.OutcomeApplied, first.Outcome)

	second := p.Process(context.Background(), ev)
	assert.Equal(t, billing.OutcomeDuplicate, second.Outcome)
	assert.False(t, second.Retry)

	acct, err := store.GetAccount(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, 80, acct.Credits, "redelivery must not double-grant")
	assert.Len(t, store.LedgerEntries(), 1)
	assert.Len(t, store.Events(), 2, "every delivery gets its own event-log row")
}

func TestProcessUnrecognizedReference(t *testing.T) {
	store := memory.New()
	seedStarterWorld(store)
	p := newTestProcessor(t, store)

	res := p.Process(context.Background(), &billing.Event{
		Gateway:       "asaas",
		Kind:          billing.PaymentConfirmed,
		TransactionID: "pay_999",
		Reference:     "someone-elses-product",
		RawType:       "PAYMENT_CONFIRMED",
	})
	assert.Equal(t, billing.OutcomeIgnored, res.Outcome)
	assert.Contains(t, res.Reason, "someone-elses-product")
	assert.Empty(t, store.LedgerEntries())

	events := store.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Processed)
	assert.Contains(t, events[0].ErrorMessage, "unrecognized reference")
}

func TestProcessUnknownEventKind(t *testing.T) {
	store := memory.New()
	p := newTestProcessor(t, store)

	res := p.Process(context.Background(), &billing.Event{
		Gateway: "ticto",
		RawType: "waiting_payment",
	})
	assert.Equal(t, billing.OutcomeIgnored, res.Outcome)
	assert.False(t, res.Retry)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "ticto.waiting_payment", events[0].EventType)
	assert.False(t, events[0].Processed)
}

func TestProcessMissingTransactionID(t *testing.T) {
	store := memory.New()
	seedStarterWorld(store)
	p := newTestProcessor(t, store)

	res := p.Process(context.Background(), &billing.Event{
		Gateway:   "asaas",
		Kind:      billing.PaymentConfirmed,
		Reference: "gravyx_monthly_starter_U1",
		RawType:   "PAYMENT_CONFIRMED",
	})
	assert.Equal(t, billing.OutcomeFailed, res.Outcome)
	assert.False(t, res.Retry)
	assert.Empty(t, store.LedgerEntries())
}

func TestProcessPlanNotInCatalog(t *testing.T) {
	store := memory.New()
	store.PutAccount(&billing.Account{ID: "U1", Email: "ana@example.com"})
	p := newTestProcessor(t, store)

	res := p.Process(context.Background(), &billing.Event{
		Gateway:       "asaas",
		Kind:          billing.PaymentConfirmed,
		TransactionID: "pay_1",
		Reference:     "gravyx_monthly_enterprise_U1",
		RawType:       "PAYMENT_CONFIRMED",
	})
	assert.Equal(t, billing.OutcomeFailed, res.Outcome)
	assert.False(t, res.Retry, "a catalog gap will not heal on redelivery")
	assert.Contains(t, res.Reason, "enterprise/monthly")
}

func TestProcessEmailFallback(t *testing.T) {
	store := memory.New()
	store.PutAccount(&billing.Account{ID: "U2", Email: "bia@example.com"})
	store.PutPlan(&billing.Plan{
		Tier: billing.TierPremium, Cycle: billing.CycleAnnual,
		PriceCents: 49000, Credits: 2400, MaxProjects: billing.UnlimitedProjects, Active: true,
	})
	// Offer-code style reference carries no user id; the customer email,
	// case-normalized, must find the account.
	parser := reference.NewDefaultParser(map[string]reference.Ref{
		"ofr_premium_yr": {Tier: "premium", Cycle: "annual"},
	})
	resolver := billing.NewResolver(store, nil, nil, nil, billing.DefaultResolverConfig())
	p, err := billing.NewProcessor(billing.ProcessorConfig{
		Store: store, Parser: parser, Resolver: resolver,
	})
	require.NoError(t, err)

	res := p.Process(context.Background(), &billing.Event{
		Gateway:       "ticto",
		Kind:          billing.PaymentConfirmed,
		TransactionID: "tx_55",
		Reference:     "OFR_PREMIUM_YR",
		CustomerEmail: "  BIA@Example.com ",
		AmountCents:   49000,
		RawType:       "authorized",
	})
	require.Equal(t, billing.OutcomeApplied, res.Outcome, "reason: %s", res.Reason)

	acct, err := store.GetAccount(context.Background(), "U2")
	require.NoError(t, err)
	assert.Equal(t, 2400, acct.Credits)
	assert.Equal(t, billing.UnlimitedProjects, acct.MaxProjects)
}

func TestProcessUnknownAccountAcked(t *testing.T) {
	store := memory.New()
	store.PutPlan(&billing.Plan{
		Tier: billing.TierStarter, Cycle: billing.CycleMonthly,
		PriceCents: 8000, Credits: 80, MaxProjects: 3, Active: true,
	})
	p := newTestProcessor(t, store)

	res := p.Process(context.Background(), &billing.Event{
		Gateway:       "asaas",
		Kind:          billing.PaymentConfirmed,
		TransactionID: "pay_404",
		Reference:     "gravyx_monthly_starter_GHOST",
		CustomerEmail: "ghost@example.com",
		RawType:       "PAYMENT_CONFIRMED",
	})
	assert.Equal(t, billing.OutcomeFailed, res.Outcome)
	assert.False(t, res.Retry, "PaymentConfirmed never provisions; ack and log")
	assert.Contains(t, res.Reason, "ghost@example.com")
}

func TestProcessRefundZeroesCredits(t *testing.T) {
	store := memory.New()
	store.PutAccount(&billing.Account{
		ID: "U1", Email: "ana@example.com",
		Credits: 73, Tier: billing.TierStarter,
		BillingCycle: billing.CycleMonthly, MaxProjects: 3,
		SubscriptionStatus: billing.StatusActive,
	})
	p := newTestProcessor(t, store)

	res := p.Process(context.Background(), &billing.Event{
		Gateway:       "asaas",
		Kind:          billing.PaymentRefunded,
		TransactionID: "ref_1",
		Reference:     "gravyx_monthly_starter_U1",
		RawType:       "PAYMENT_REFUNDED",
	})
	require.Equal(t, billing.OutcomeApplied, res.Outcome, "reason: %s", res.Reason)

	acct, err := store.GetAccount(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.Credits)
	assert.Equal(t, billing.TierFree, acct.Tier)
	assert.Equal(t, billing.CycleMonthly, acct.BillingCycle)
	assert.Equal(t, 1, acct.MaxProjects)
	assert.Equal(t, billing.StatusInactive, acct.SubscriptionStatus)
	assert.Len(t, store.LedgerEntries(), 1, "refund with a transaction id is ledgered")
}

func TestProcessCancellationReclaimsTrialOnly(t *testing.T) {
	store := memory.New()
	store.PutAccount(&billing.Account{
		ID: "U1", Email: "ana@example.com",
		Credits: 50, TrialCreditsGiven: 20,
		Tier: billing.TierStarter, SubscriptionStatus: billing.StatusActive,
	})
	p := newTestProcessor(t, store)

	res := p.Process(context.Background(), &billing.Event{
		Gateway:       "stripe",
		Kind:          billing.SubscriptionCancelled,
		Reference:     "gravyx_monthly_starter_U1",
		CustomerEmail: "ana@example.com",
		RawType:       "customer.subscription.deleted",
	})
	require.Equal(t, billing.OutcomeApplied, res.Outcome, "reason: %s", res.Reason)

	acct, err := store.GetAccount(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, 30, acct.Credits, "only trial credits are reclaimed")
	assert.Equal(t, billing.TierFree, acct.Tier)
	assert.Empty(t, store.LedgerEntries(), "no transaction id means no ledger row")
}

func TestProcessOverdueMarksPastDue(t *testing.T) {
	store := memory.New()
	store.PutAccount(&billing.Account{
		ID: "U1", Email: "ana@example.com",
		Credits: 42, Tier: billing.TierStarter,
		SubscriptionStatus: billing.StatusActive,
	})
	p := newTestProcessor(t, store)

	res := p.Process(context.Background(), &billing.Event{
		Gateway:       "asaas",
		Kind:          billing.PaymentOverdue,
		Reference:     "gravyx_monthly_starter_U1",
		CustomerEmail: "ana@example.com",
		RawType:       "PAYMENT_OVERDUE",
	})
	require.Equal(t, billing.OutcomeApplied, res.Outcome)

	acct, err := store.GetAccount(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, acct.SubscriptionStatus)
	assert.Equal(t, 42, acct.Credits, "delinquency never touches credits")
	assert.Equal(t, billing.TierStarter, acct.Tier)
}
