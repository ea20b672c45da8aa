package billing

import (
	"context"
	"fmt"
	"time"
)

// Coupons validates and redeems checkout discounts. Redemption is keyed by
// (coupon, user): the storage uniqueness constraint makes a second attempt
// by the same user fail regardless of the coupon's remaining global uses.
type Coupons struct {
	store Storage
	now   func() time.Time
}

// NewCoupons creates a coupon service.
func NewCoupons(store Storage) *Coupons {
	return &Coupons{store: store, now: time.Now}
}

// Quote validates the coupon for the given plan selection and returns it
// together with the discounted price in minor currency units. Nothing is
// recorded; call Redeem once the purchase the quote was made for exists.
func (c *Coupons) Quote(ctx context.Context, code string, tier Tier, cycle Cycle, priceCents int64) (*Coupon, int64, error) {
	coupon, err := c.store.GetCoupon(ctx, code)
	if err != nil {
		return nil, 0, err
	}
	if err := c.validate(coupon, tier, cycle); err != nil {
		return nil, 0, err
	}
	return coupon, Discount(coupon, priceCents), nil
}

// Redeem records the user's use of a previously quoted coupon.
func (c *Coupons) Redeem(ctx context.Context, coupon *Coupon, userID string) error {
	return c.store.RedeemCoupon(ctx, coupon.ID, userID)
}

// Apply quotes and immediately redeems in one step.
func (c *Coupons) Apply(ctx context.Context, code, userID string, tier Tier, cycle Cycle, priceCents int64) (int64, error) {
	coupon, discounted, err := c.Quote(ctx, code, tier, cycle, priceCents)
	if err != nil {
		return 0, err
	}
	if err := c.Redeem(ctx, coupon, userID); err != nil {
		return 0, err
	}
	return discounted, nil
}

func (c *Coupons) validate(coupon *Coupon, tier Tier, cycle Cycle) error {
	now := c.now()
	switch {
	case !coupon.Active:
		return fmt.Errorf("%w: inactive", ErrCouponNotApplicable)
	case now.Before(coupon.ValidFrom):
		return fmt.Errorf("%w: not yet valid", ErrCouponNotApplicable)
	case !coupon.ValidUntil.IsZero() && now.After(coupon.ValidUntil):
		return fmt.Errorf("%w: expired", ErrCouponNotApplicable)
	case coupon.MaxUses > 0 && coupon.UsedCount >= coupon.MaxUses:
		return fmt.Errorf("%w: usage cap reached", ErrCouponNotApplicable)
	case coupon.TierRestriction != "" && coupon.TierRestriction != tier:
		return fmt.Errorf("%w: restricted to tier %s", ErrCouponNotApplicable, coupon.TierRestriction)
	case coupon.CycleRestriction != "" && coupon.CycleRestriction != cycle:
		return fmt.Errorf("%w: restricted to %s billing", ErrCouponNotApplicable, coupon.CycleRestriction)
	}
	return nil
}

// Discount returns the price after applying the coupon, floored at zero.
func Discount(coupon *Coupon, priceCents int64) int64 {
	var discounted int64
	switch coupon.DiscountType {
	case DiscountPercent:
		discounted = priceCents - priceCents*coupon.DiscountValue/100
	case DiscountFixed:
		discounted = priceCents - coupon.DiscountValue
	default:
		return priceCents
	}
	if discounted < 0 {
		return 0
	}
	return discounted
}
