package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/gravyx/billing/pkg/billing"
)

// CheckoutParams describes one plan purchase for CheckoutURL.
type CheckoutParams struct {
	// Plan is the catalog row being bought; AmountCents is the price
	// after any coupon discount.
	Plan        *billing.Plan
	AmountCents int64

	// Reference is the parseable plan reference carried through
	// metadata so the webhook can route the confirmation.
	Reference string

	// UserID and Email identify the buyer.
	UserID string
	Email  string
}

// CheckoutURL creates a Stripe Checkout session and returns its URL.
// Subscription plans use recurring price data keyed to the billing
// cycle; the reference and user id ride in both session and
// subscription metadata.
func (p *Provider) CheckoutURL(ctx context.Context, params CheckoutParams) (string, error) {
	if params.Plan == nil || params.Reference == "" {
		return "", fmt.Errorf("checkout: plan and reference are required")
	}

	interval := "month"
	if params.Plan.Cycle == billing.CycleAnnual {
		interval = "year"
	}

	sessionParams := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String("brl"),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Gravyx %s (%s)", params.Plan.Tier, params.Plan.Cycle)),
					},
					UnitAmount: stripe.Int64(params.AmountCents),
					Recurring: &stripe.CheckoutSessionCreateLineItemPriceDataRecurringParams{
						Interval: stripe.String(interval),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
	}

	sessionParams.ClientReferenceID = stripe.String(params.Reference)
	sessionParams.AddMetadata("reference", params.Reference)
	sessionParams.AddMetadata("user_id", params.UserID)
	sessionParams.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{
		Metadata: map[string]string{
			"reference": params.Reference,
			"user_id":   params.UserID,
		},
	}
	if params.Email != "" {
		sessionParams.CustomerEmail = stripe.String(params.Email)
	}

	start := time.Now()
	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, sessionParams)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(start))
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "ok")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(start))

	return session.URL, nil
}

// Refund implements billing.Gateway by refunding the payment intent
// recorded on the ledger entry. Session-keyed entries cannot be refunded
// through the API and are surfaced as errors for manual handling.
func (p *Provider) Refund(ctx context.Context, entry *billing.LedgerEntry) error {
	if entry.TransactionID == "" {
		return fmt.Errorf("stripe refund: ledger entry has no transaction id")
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(entry.TransactionID),
	}

	start := time.Now()
	_, err := p.stripeClient.V1Refunds.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/refunds", "error")
		p.metrics.RecordAPICallDuration(providerName, "/refunds", time.Since(start))
		return fmt.Errorf("stripe refund %s: %w", entry.TransactionID, err)
	}
	p.metrics.RecordAPICall(providerName, "/refunds", "ok")
	p.metrics.RecordAPICallDuration(providerName, "/refunds", time.Since(start))

	p.logger.Info("stripe refund requested",
		billing.Field{Key: "transaction_id", Value: entry.TransactionID},
	)
	return nil
}
