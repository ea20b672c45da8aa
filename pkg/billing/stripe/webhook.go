package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/gravyx/billing/internal/httpx"
	"github.com/gravyx/billing/pkg/billing"
)

func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := httpx.ReadBody(w, r, httpx.MaxWebhookBody)
	if err != nil {
		if errors.Is(err, httpx.ErrPayloadTooLarge) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			httpx.WriteError(w, http.StatusBadRequest, "invalid payload")
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	// A failed signature check never reaches the event log.
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	ev, err := p.translate(r.Context(), &event, body)
	if err != nil {
		// Translation needs Stripe API lookups for renewal invoices; a
		// transient failure there must trigger gateway redelivery.
		p.logger.Error("stripe event translation failed",
			billing.Field{Key: "event_type", Value: string(event.Type)},
			billing.Field{Key: "error", Value: err.Error()},
		)
		httpx.WriteError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	res := p.processor.Process(r.Context(), ev)
	if res.Retry {
		httpx.WriteError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": string(res.Outcome)})
}

// translate classifies a verified Stripe event into the normalized form.
// Unmapped types keep an empty Kind so the processor acknowledges and
// logs them as unhandled.
func (p *Provider) translate(ctx context.Context, event *stripe.Event, body []byte) (*billing.Event, error) {
	ev := &billing.Event{
		Gateway:    providerName,
		RawType:    string(event.Type),
		RawPayload: body,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, err
		}
		ev.Kind = billing.CheckoutCompleted
		ev.TransactionID = session.ID
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			ev.TransactionID = session.PaymentIntent.ID
		}
		if session.Subscription != nil {
			ev.SubscriptionID = session.Subscription.ID
		}
		ev.Reference = session.ClientReferenceID
		if session.Metadata != nil && session.Metadata["reference"] != "" {
			ev.Reference = session.Metadata["reference"]
		}
		ev.CustomerEmail = session.CustomerEmail
		if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
			ev.CustomerEmail = session.CustomerDetails.Email
		}
		ev.AmountCents = session.AmountTotal

	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, err
		}
		ev.Kind = billing.InvoiceRenewalPaid
		ev.TransactionID = invoice.ID
		ev.CustomerEmail = invoice.CustomerEmail
		ev.AmountCents = invoice.AmountPaid
		ev.SubscriptionID = subscriptionIDFromRaw(event.Data.Raw)
		if ev.SubscriptionID != "" {
			ref, err := p.subscriptionReference(ctx, ev.SubscriptionID)
			if err != nil {
				return nil, err
			}
			ev.Reference = ref
		}

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, err
		}
		ev.Kind = billing.SubscriptionCancelled
		ev.SubscriptionID = sub.ID
		ev.Reference = sub.Metadata["reference"]

	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, err
		}
		ev.Kind = billing.PaymentFailed
		ev.TransactionID = invoice.ID
		ev.CustomerEmail = invoice.CustomerEmail
		ev.SubscriptionID = subscriptionIDFromRaw(event.Data.Raw)

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, err
		}
		ev.Kind = billing.PaymentRefunded
		ev.TransactionID = charge.ID
		if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
			ev.TransactionID = charge.PaymentIntent.ID
		}
		if charge.BillingDetails != nil {
			ev.CustomerEmail = charge.BillingDetails.Email
		}
		ev.Reference = charge.Metadata["reference"]
		ev.AmountCents = charge.AmountRefunded

	case "charge.dispute.created":
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return nil, err
		}
		ev.Kind = billing.PaymentChargebackRequested
		if dispute.PaymentIntent != nil {
			ev.TransactionID = dispute.PaymentIntent.ID
		} else if dispute.Charge != nil {
			ev.TransactionID = dispute.Charge.ID
		}
		ev.AmountCents = dispute.Amount
	}

	return ev, nil
}

// subscriptionIDFromRaw digs the subscription out of the raw invoice JSON.
// The v83 Invoice struct does not expose it as a typed field and Stripe
// sends it as either an object or a bare ID string.
func subscriptionIDFromRaw(raw []byte) string {
	var rawData map[string]interface{}
	if err := json.Unmarshal(raw, &rawData); err != nil {
		return ""
	}
	switch v := rawData["subscription"].(type) {
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	case string:
		return v
	}
	return ""
}

// subscriptionReference fetches the plan reference stored in the
// subscription metadata at checkout time. Renewal invoices carry no
// reference of their own.
func (p *Provider) subscriptionReference(ctx context.Context, subscriptionID string) (string, error) {
	start := time.Now()
	sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions", "error")
		return "", err
	}
	p.metrics.RecordAPICall(providerName, "/subscriptions", "ok")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions", time.Since(start))
	return sub.Metadata["reference"], nil
}
