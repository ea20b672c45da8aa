// Package api exposes the HTTP surface of the reconciliation core: the
// per-gateway webhook endpoints, the checkout endpoint, the admin refund
// endpoint and the operational probes.
package api

import (
	"context"
	"net/http"

	"github.com/gravyx/billing/pkg/billing"
)

// Identity is an authenticated caller.
type Identity struct {
	ID    string
	Email string
	Admin bool
}

// Authenticator resolves the caller of an API request. The platform owns
// session handling; this core only consumes the verdict.
type Authenticator func(r *http.Request) (*Identity, error)

// CheckoutFunc creates a hosted checkout session at a gateway and returns
// its URL. amountCents is the price after any coupon discount.
type CheckoutFunc func(ctx context.Context, plan *billing.Plan, reference, userID, email string, amountCents int64) (string, error)

// Config wires the API handler.
type Config struct {
	Store     billing.Storage
	Processor *billing.Processor
	Coupons   *billing.Coupons

	// Gateways are mounted at /webhooks/{name} and looked up by name for
	// admin refunds.
	Gateways []billing.Gateway

	// Checkout creates the hosted checkout session (Stripe in production).
	Checkout CheckoutFunc

	// Authenticate guards /v1/*. Webhook endpoints authenticate per
	// gateway and never pass through it.
	Authenticate Authenticator

	Logger  billing.Logger
	Metrics billing.Metrics
}
