package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravyx/billing/pkg/billing"
	"github.com/gravyx/billing/storage/memory"
)

func putCoupon(store *memory.Storage, c billing.Coupon) {
	if c.ValidFrom.IsZero() {
		c.ValidFrom = time.Now().Add(-time.Hour)
	}
	c.Active = true
	store.PutCoupon(&c)
}

func TestCouponApply(t *testing.T) {
	store := memory.New()
	putCoupon(store, billing.Coupon{
		ID: "c1", Code: "LAUNCH20",
		DiscountType: billing.DiscountPercent, DiscountValue: 20,
	})
	coupons := billing.NewCoupons(store)

	t.Run("percent discount", func(t *testing.T) {
		got, err := coupons.Apply(context.Background(), "LAUNCH20", "U1",
			billing.TierStarter, billing.CycleMonthly, 8000)
		require.NoError(t, err)
		assert.Equal(t, int64(6400), got)
	})

	t.Run("second use by same user", func(t *testing.T) {
		_, err := coupons.Apply(context.Background(), "LAUNCH20", "U1",
			billing.TierStarter, billing.CycleMonthly, 8000)
		require.Error(t, err)
		assert.ErrorIs(t, err, billing.ErrCouponAlreadyUsed)
		assert.Equal(t, "Cupom já utilizado", err.Error())
	})

	t.Run("same coupon, different user", func(t *testing.T) {
		got, err := coupons.Apply(context.Background(), "LAUNCH20", "U2",
			billing.TierStarter, billing.CycleMonthly, 8000)
		require.NoError(t, err)
		assert.Equal(t, int64(6400), got)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := coupons.Apply(context.Background(), "NOPE", "U1",
			billing.TierStarter, billing.CycleMonthly, 8000)
		assert.ErrorIs(t, err, billing.ErrCouponNotFound)
	})
}

func TestCouponQuote(t *testing.T) {
	store := memory.New()
	putCoupon(store, billing.Coupon{
		ID: "c1", Code: "LAUNCH20",
		DiscountType: billing.DiscountPercent, DiscountValue: 20,
	})
	coupons := billing.NewCoupons(store)
	ctx := context.Background()

	t.Run("quoting records no use", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			coupon, got, err := coupons.Quote(ctx, "LAUNCH20",
				billing.TierStarter, billing.CycleMonthly, 8000)
			require.NoError(t, err)
			assert.Equal(t, int64(6400), got)
			assert.Equal(t, "c1", coupon.ID)
		}

		stored, err := store.GetCoupon(ctx, "LAUNCH20")
		require.NoError(t, err)
		assert.Equal(t, 0, stored.UsedCount)
	})

	t.Run("redeem after quote", func(t *testing.T) {
		coupon, _, err := coupons.Quote(ctx, "LAUNCH20",
			billing.TierStarter, billing.CycleMonthly, 8000)
		require.NoError(t, err)

		require.NoError(t, coupons.Redeem(ctx, coupon, "U1"))
		assert.ErrorIs(t, coupons.Redeem(ctx, coupon, "U1"), billing.ErrCouponAlreadyUsed)
	})
}

func TestCouponValidation(t *testing.T) {
	store := memory.New()
	coupons := billing.NewCoupons(store)
	ctx := context.Background()

	t.Run("inactive", func(t *testing.T) {
		store.PutCoupon(&billing.Coupon{
			ID: "c2", Code: "OFF", Active: false,
			DiscountType: billing.DiscountPercent, DiscountValue: 10,
			ValidFrom: time.Now().Add(-time.Hour),
		})
		_, err := coupons.Apply(ctx, "OFF", "U1", billing.TierStarter, billing.CycleMonthly, 1000)
		assert.ErrorIs(t, err, billing.ErrCouponNotApplicable)
	})

	t.Run("expired", func(t *testing.T) {
		putCoupon(store, billing.Coupon{
			ID: "c3", Code: "OLD",
			DiscountType: billing.DiscountPercent, DiscountValue: 10,
			ValidFrom:  time.Now().Add(-48 * time.Hour),
			ValidUntil: time.Now().Add(-24 * time.Hour),
		})
		_, err := coupons.Apply(ctx, "OLD", "U1", billing.TierStarter, billing.CycleMonthly, 1000)
		assert.ErrorIs(t, err, billing.ErrCouponNotApplicable)
	})

	t.Run("usage cap", func(t *testing.T) {
		putCoupon(store, billing.Coupon{
			ID: "c4", Code: "CAPPED",
			DiscountType: billing.DiscountPercent, DiscountValue: 10,
			MaxUses: 2, UsedCount: 2,
		})
		_, err := coupons.Apply(ctx, "CAPPED", "U1", billing.TierStarter, billing.CycleMonthly, 1000)
		assert.ErrorIs(t, err, billing.ErrCouponNotApplicable)
	})

	t.Run("tier restriction", func(t *testing.T) {
		putCoupon(store, billing.Coupon{
			ID: "c5", Code: "PREMONLY",
			DiscountType: billing.DiscountPercent, DiscountValue: 10,
			TierRestriction: billing.TierPremium,
		})
		_, err := coupons.Apply(ctx, "PREMONLY", "U1", billing.TierStarter, billing.CycleMonthly, 1000)
		assert.ErrorIs(t, err, billing.ErrCouponNotApplicable)

		got, err := coupons.Apply(ctx, "PREMONLY", "U1", billing.TierPremium, billing.CycleMonthly, 1000)
		require.NoError(t, err)
		assert.Equal(t, int64(900), got)
	})

	t.Run("cycle restriction", func(t *testing.T) {
		putCoupon(store, billing.Coupon{
			ID: "c6", Code: "ANNUAL10",
			DiscountType: billing.DiscountPercent, DiscountValue: 10,
			CycleRestriction: billing.CycleAnnual,
		})
		_, err := coupons.Apply(ctx, "ANNUAL10", "U1", billing.TierStarter, billing.CycleMonthly, 1000)
		assert.ErrorIs(t, err, billing.ErrCouponNotApplicable)
	})
}

func TestDiscount(t *testing.T) {
	t.Run("fixed floors at zero", func(t *testing.T) {
		c := &billing.Coupon{DiscountType: billing.DiscountFixed, DiscountValue: 10000}
		assert.Equal(t, int64(0), billing.Discount(c, 8000))
	})

	t.Run("fixed", func(t *testing.T) {
		c := &billing.Coupon{DiscountType: billing.DiscountFixed, DiscountValue: 1500}
		assert.Equal(t, int64(6500), billing.Discount(c, 8000))
	})

	t.Run("full percent", func(t *testing.T) {
		c := &billing.Coupon{DiscountType: billing.DiscountPercent, DiscountValue: 100}
		assert.Equal(t, int64(0), billing.Discount(c, 8000))
	})

	t.Run("unknown type leaves price unchanged", func(t *testing.T) {
		c := &billing.Coupon{DiscountType: "bogus", DiscountValue: 50}
		assert.Equal(t, int64(8000), billing.Discount(c, 8000))
	})
}
