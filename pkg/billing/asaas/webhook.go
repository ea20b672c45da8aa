package asaas

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

// webhookPayload is the Asaas webhook envelope. Values are centavos.
type webhookPayload struct {
	Event   string `json:"event"`
	Payment struct {
		ID                string `json:"id"`
		Value             int64  `json:"value"`
		ExternalReference string `json:"externalReference"`
		Subscription      string `json:"subscription"`
		CustomerEmail     string `json:"customerEmail"`
		DateCreated       string `json:"dateCreated"`
	} `json:"payment"`
}

// eventKinds maps the Asaas event vocabulary onto the normalized set.
// Anything absent here is acknowledged and logged as unhandled.
var eventKinds = map[string]billing.EventKind{
	"PAYMENT_CONFIRMED":            billing.PaymentConfirmed,
	"PAYMENT_RECEIVED":             billing.PaymentConfirmed,
	"PAYMENT_REFUNDED":             billing.PaymentRefunded,
	"PAYMENT_CHARGEBACK_REQUESTED": billing.PaymentChargebackRequested,
	"PAYMENT_CHARGEBACK_DISPUTE":   billing.PaymentChargebackRequested,
	"PAYMENT_OVERDUE":              billing.PaymentOverdue,
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

	// Failed authenticity is a security signal, not a business event:
	// reject without touching the event log.
	if !p.verifyToken(r) {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid payload")
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
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

func (p *Provider) verifyToken(r *http.Request) bool {
	token := strings.TrimSpace(r.Header.Get("asaas-access-token"))
	if token == "" || len(p.webhookToken) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), p.webhookToken) == 1
}

// translate builds the normalized event. Unmapped event names keep an
// empty Kind so the processor acknowledges and logs them as unhandled.
func (p *Provider) translate(payload *webhookPayload, body []byte) *billing.Event {
	ev := &billing.Event{
		Gateway:        providerName,
		Kind:           eventKinds[payload.Event],
		TransactionID:  payload.Payment.ID,
		Reference:      payload.Payment.ExternalReference,
		CustomerEmail:  payload.Payment.CustomerEmail,
		AmountCents:    payload.Payment.Value,
		SubscriptionID: payload.Payment.Subscription,
		RawType:        payload.Event,
		RawPayload:     body,
	}
	if t, err := time.Parse(time.RFC3339, payload.Payment.DateCreated); err == nil {
		ev.OccurredAt = t
	}
	return ev
}
