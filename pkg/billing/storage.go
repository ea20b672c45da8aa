package billing

import "context"

// CreditOp selects how an EntitlementChange touches the credit balance.
// All arithmetic happens server-side in the storage backend so concurrent
// deliveries cannot lose updates.
type CreditOp int

const (
	// CreditNoop leaves the balance untouched.
	CreditNoop CreditOp = iota

	// CreditAdd increments the balance by Amount.
	CreditAdd

	// CreditZero sets the balance to zero (refund/chargeback reclaim).
	CreditZero

	// CreditReclaim subtracts Amount with a floor at zero (trial reclaim).
	CreditReclaim
)

// EntitlementChange describes one atomic account mutation. When Ledger is
// non-nil the ledger insert and the account update commit in the same
// transaction; a transaction id conflict aborts the whole change with
// ErrDuplicateTransaction.
type EntitlementChange struct {
	AccountID string

	CreditOp CreditOp
	Amount   int

	// Optional field updates; nil leaves the column untouched.
	Tier                  *Tier
	Cycle                 *Cycle
	MaxProjects           *int
	Status                *SubscriptionStatus
	GatewaySubscriptionID *string
	TrialCreditsGiven     *int

	Ledger *LedgerEntry
}

// Storage is the persistence contract for the reconciliation core.
// Implementations live under storage/ (postgres for production, memory for
// tests, cached for a read-through catalog cache).
type Storage interface {
	// GetAccount returns the account with the given internal id.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// GetAccountByEmail returns the account whose normalized email matches.
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)

	// GetPlan returns the active catalog entry for (tier, cycle).
	GetPlan(ctx context.Context, tier Tier, cycle Cycle) (*Plan, error)

	// HasTransaction reports whether a ledger row exists for the id.
	// This is the idempotency pre-check; the unique constraint enforced by
	// ApplyEntitlementChange is the correctness backstop.
	HasTransaction(ctx context.Context, transactionID string) (bool, error)

	// GetLedgerEntry returns the ledger row for a transaction id.
	GetLedgerEntry(ctx context.Context, transactionID string) (*LedgerEntry, error)

	// ApplyEntitlementChange atomically applies the change and, when
	// change.Ledger is set, inserts the ledger row in the same transaction.
	ApplyEntitlementChange(ctx context.Context, change *EntitlementChange) error

	// RecordEvent appends one event-log row.
	RecordEvent(ctx context.Context, entry *EventLogEntry) error

	// ListTrialAccounts returns every account in trial_active status.
	ListTrialAccounts(ctx context.Context) ([]*Account, error)

	// GetCoupon returns the coupon with the given code.
	GetCoupon(ctx context.Context, code string) (*Coupon, error)

	// RedeemCoupon records one use of a coupon by a user. A second call for
	// the same (coupon, user) pair returns ErrCouponAlreadyUsed.
	RedeemCoupon(ctx context.Context, couponID, userID string) error
}
