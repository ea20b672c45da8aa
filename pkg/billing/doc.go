// Package billing is the payment reconciliation core for Gravyx.
//
// Gateway adapters (stripe, asaas, ticto) verify webhook authenticity and
// translate gateway payloads into a closed set of normalized events. The
// Processor runs each event through reference parsing, idempotency checks,
// account resolution and the entitlement mutation, writing exactly one
// event-log row per terminal branch. The ledger's unique transaction id
// constraint is the single source of truth for "already applied"; every
// application-level pre-check is an optimization only.
package billing
