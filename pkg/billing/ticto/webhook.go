package ticto

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gravyx/billing/internal/httpx"
	"github.com/gravyx/billing/pkg/billing"
)

// webhookPayload is the Ticto webhook envelope. The shared token rides
// inside the body rather than a header.
type webhookPayload struct {
	Token       string `json:"token"`
	Status      string `json:"status"`
	PaidAmount  int64  `json:"paid_amount"`
	Transaction struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
	Order struct {
		Hash string `json:"hash"`
	} `json:"order"`
	Offer struct {
		Code string `json:"code"`
	} `json:"offer"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	CreatedAt string `json:"created_at"`
}

// statusKinds maps the Ticto status vocabulary onto the normalized set.
// Unlisted statuses (waiting_payment, pix_created, ...) are acknowledged
// and logged as unhandled.
var statusKinds = map[string]billing.EventKind{
	"authorized":            billing.PaymentConfirmed,
	"refunded":              billing.PaymentRefunded,
	"chargedback":           billing.PaymentChargebackRequested,
	"subscription_canceled": billing.SubscriptionCancelled,
	"refused":               billing.PaymentFailed,
}

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

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid payload")
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	// The token lives in the body, so parsing precedes verification.
	// A failed check still leaves no trace in the event log.
	if !p.verifyToken(payload.Token) {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	ev := p.translate(&payload, body)
	res := p.processor.Process(r.Context(), ev)
	if res.Retry {
		httpx.WriteError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": string(res.Outcome)})
}

func (p *Provider) verifyToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" || len(p.webhookToken) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), p.webhookToken) == 1
}

// translate builds the normalized event. The offer code is carried as the
// reference and resolved through the code table; the transaction hash is
// the idempotency key, falling back to the order hash for order-scoped
// statuses that carry no transaction.
func (p *Provider) translate(payload *webhookPayload, body []byte) *billing.Event {
	txID := payload.Transaction.Hash
	if txID == "" {
		txID = payload.Order.Hash
	}
	ev := &billing.Event{
		Gateway:       providerName,
		Kind:          statusKinds[payload.Status],
		TransactionID: txID,
		Reference:     payload.Offer.Code,
		CustomerEmail: payload.Customer.Email,
		AmountCents:   payload.PaidAmount,
		RawType:       payload.Status,
		RawPayload:    body,
	}
	if t, err := time.Parse(time.RFC3339, payload.CreatedAt); err == nil {
		ev.OccurredAt = t
	}
	return ev
}
