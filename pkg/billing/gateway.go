package billing

import (
	"context"
	"net/http"
)

// Gateway is the interface every payment gateway adapter implements.
// Adapters own authenticity verification and payload translation; the
// Processor owns everything after that.
type Gateway interface {
	// Name returns the gateway name ("stripe", "asaas", "ticto").
	Name() string

	// WebhookHandler returns the HTTP handler for this gateway's webhook
	// endpoint. The implementation verifies authenticity, enforces the
	// payload size cap, classifies the event and hands it to the Processor.
	WebhookHandler() http.Handler

	// Refund triggers the gateway-side refund for a previously applied
	// transaction. Gateways without a refund API return ErrRefundNotSupported.
	Refund(ctx context.Context, entry *LedgerEntry) error
}
