package billing

import "time"

// EventKind is the closed set of semantic events a gateway adapter may
// produce. Anything a gateway sends that does not map onto one of these is
// acknowledged and logged as unhandled, never errored.
type EventKind string

const (
	PaymentConfirmed           EventKind = "payment_confirmed"
	PaymentRefunded            EventKind = "payment_refunded"
	PaymentChargebackRequested EventKind = "payment_chargeback_requested"
	PaymentOverdue             EventKind = "payment_overdue"
	CheckoutCompleted          EventKind = "checkout_completed"
	InvoiceRenewalPaid         EventKind = "invoice_renewal_paid"
	SubscriptionCancelled      EventKind = "subscription_cancelled"
	PaymentFailed              EventKind = "payment_failed"
)

// Event is the normalized shape consumed by the Processor. Adapters fill in
// whatever their gateway provides; empty fields are tolerated where the
// pipeline can resolve the target another way (e.g. email vs. reference).
type Event struct {
	// Gateway is the adapter name ("stripe", "asaas", "ticto").
	Gateway string

	// Kind is the semantic classification of the event.
	Kind EventKind

	// TransactionID is the gateway transaction identifier. It becomes the
	// ledger idempotency key for credit-changing transitions.
	TransactionID string

	// Reference is the opaque gateway reference string (external reference,
	// offer code, price id) decoded by the Reference Parser.
	Reference string

	// CustomerEmail is the gateway's customer identity, used by the Account
	// Resolver when the reference carries no user id.
	CustomerEmail string

	// AmountCents is the paid amount in minor currency units.
	AmountCents int64

	// SubscriptionID is the gateway subscription identifier, when present.
	SubscriptionID string

	// OccurredAt is the gateway-reported event time.
	OccurredAt time.Time

	// RawType is the gateway's own event type string, kept for the event log.
	RawType string

	// RawPayload is the verbatim webhook body, kept as an audit blob.
	RawPayload []byte
}

// Outcome classifies the terminal branch of processing one event.
type Outcome string

const (
	// OutcomeApplied means the entitlement mutation and ledger write committed.
	OutcomeApplied Outcome = "applied"

	// OutcomeDuplicate means the transaction id was already in the ledger.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeIgnored means the event is intentionally not our concern
	// (foreign reference namespace, unknown event class).
	OutcomeIgnored Outcome = "ignored"

	// OutcomeFailed means processing failed. Result.Retry distinguishes
	// gateway-retryable failures (storage errors) from operator problems
	// (unknown account, provisioning timeout) that must still be acked.
	OutcomeFailed Outcome = "failed"
)

// Result is what the Processor reports back to the adapter for one event.
type Result struct {
	Outcome Outcome
	Reason  string
	Err     error

	// Retry tells the adapter to answer with a retryable status (HTTP 500)
	// so the gateway redelivers. Safe because of the ledger constraint.
	Retry bool
}
