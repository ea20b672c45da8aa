package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravyx/billing/pkg/billing"
)

func TestAccountLookups(t *testing.T) {
	s := New()
	s.PutAccount(&billing.Account{ID: "U1", Email: "Ana@Example.com"})
	ctx := context.Background()

	t.Run("by id", func(t *testing.T) {
		acct, err := s.GetAccount(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, "ana@example.com", acct.Email, "emails are stored normalized")
	})

	t.Run("by email is case-insensitive", func(t *testing.T) {
		acct, err := s.GetAccountByEmail(ctx, "ANA@example.COM")
		require.NoError(t, err)
		assert.Equal(t, "U1", acct.ID)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetAccount(ctx, "nope")
		assert.ErrorIs(t, err, billing.ErrAccountNotFound)
		_, err = s.GetAccountByEmail(ctx, "nope@example.com")
		assert.ErrorIs(t, err, billing.ErrAccountNotFound)
	})

	t.Run("returns copies", func(t *testing.T) {
		acct, err := s.GetAccount(ctx, "U1")
		require.NoError(t, err)
		acct.Credits = 999
		again, err := s.GetAccount(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, 0, again.Credits)
	})
}

func TestGetPlan(t *testing.T) {
	s := New()
	s.PutPlan(&billing.Plan{
		Tier: billing.TierStarter, Cycle: billing.CycleMonthly,
		PriceCents: 8000, Credits: 80, Active: true,
	})
	s.PutPlan(&billing.Plan{
		Tier: billing.TierPremium, Cycle: billing.CycleMonthly,
		PriceCents: 19700, Credits: 200, Active: false,
	})
	ctx := context.Background()

	plan, err := s.GetPlan(ctx, billing.TierStarter, billing.CycleMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), plan.PriceCents)

	_, err = s.GetPlan(ctx, billing.TierPremium, billing.CycleMonthly)
	assert.ErrorIs(t, err, billing.ErrPlanNotFound, "inactive plans are invisible")

	_, err = s.GetPlan(ctx, billing.TierStarter, billing.CycleAnnual)
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)
}

func TestApplyEntitlementChange(t *testing.T) {
	ctx := context.Background()

	t.Run("ledgered credit add", func(t *testing.T) {
		s := New()
		s.PutAccount(&billing.Account{ID: "U1", Email: "a@b.c", Credits: 5})

		tier := billing.TierStarter
		err := s.ApplyEntitlementChange(ctx, &billing.EntitlementChange{
			AccountID: "U1",
			CreditOp:  billing.CreditAdd,
			Amount:    80,
			Tier:      &tier,
			Ledger:    &billing.LedgerEntry{TransactionID: "tx1", AccountID: "U1"},
		})
		require.NoError(t, err)

		acct, err := s.GetAccount(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, 85, acct.Credits)
		assert.Equal(t, billing.TierStarter, acct.Tier)

		ok, err := s.HasTransaction(ctx, "tx1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("duplicate transaction leaves account untouched", func(t *testing.T) {
		s := New()
		s.PutAccount(&billing.Account{ID: "U1", Email: "a@b.c"})
		change := &billing.EntitlementChange{
			AccountID: "U1",
			CreditOp:  billing.CreditAdd,
			Amount:    80,
			Ledger:    &billing.LedgerEntry{TransactionID: "tx1", AccountID: "U1"},
		}
		require.NoError(t, s.ApplyEntitlementChange(ctx, change))

		err := s.ApplyEntitlementChange(ctx, change)
		assert.ErrorIs(t, err, billing.ErrDuplicateTransaction)

		acct, err := s.GetAccount(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, 80, acct.Credits)
	})

	t.Run("reclaim floors at zero", func(t *testing.T) {
		s := New()
		s.PutAccount(&billing.Account{ID: "U1", Email: "a@b.c", Credits: 10})
		err := s.ApplyEntitlementChange(ctx, &billing.EntitlementChange{
			AccountID: "U1",
			CreditOp:  billing.CreditReclaim,
			Amount:    35,
		})
		require.NoError(t, err)

		acct, err := s.GetAccount(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, 0, acct.Credits)
	})

	t.Run("unknown account", func(t *testing.T) {
		s := New()
		err := s.ApplyEntitlementChange(ctx, &billing.EntitlementChange{AccountID: "ghost"})
		assert.ErrorIs(t, err, billing.ErrAccountNotFound)
	})
}

func TestRecordEvent(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.RecordEvent(ctx, &billing.EventLogEntry{EventType: "a.b", Processed: true}))
	require.NoError(t, s.RecordEvent(ctx, &billing.EventLogEntry{EventType: "c.d"}))

	events := s.Events()
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].ID)
	assert.Equal(t, int64(2), events[1].ID)
	assert.False(t, events[1].CreatedAt.IsZero())
}

func TestListTrialAccounts(t *testing.T) {
	s := New()
	s.PutAccount(&billing.Account{ID: "T1", Email: "t1@x.y", SubscriptionStatus: billing.StatusTrialActive})
	s.PutAccount(&billing.Account{ID: "A1", Email: "a1@x.y", SubscriptionStatus: billing.StatusActive})

	accounts, err := s.ListTrialAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "T1", accounts[0].ID)
}

func TestRedeemCoupon(t *testing.T) {
	s := New()
	s.PutCoupon(&billing.Coupon{ID: "c1", Code: "OFF", Active: true})
	ctx := context.Background()

	require.NoError(t, s.RedeemCoupon(ctx, "c1", "U1"))
	assert.ErrorIs(t, s.RedeemCoupon(ctx, "c1", "U1"), billing.ErrCouponAlreadyUsed)
	require.NoError(t, s.RedeemCoupon(ctx, "c1", "U2"))

	coupon, err := s.GetCoupon(ctx, "OFF")
	require.NoError(t, err)
	assert.Equal(t, 2, coupon.UsedCount)
}
