package billing

import (
	"context"
	"fmt"
)

// RefundPolicy selects what a Downgrade does to the credit balance. The
// source behavior was ambiguous here, so the policy is an explicit
// parameter rather than a guess.
type RefundPolicy int

const (
	// ReclaimAll zeroes the balance. Used for refunds, chargebacks and
	// admin-initiated refunds.
	ReclaimAll RefundPolicy = iota

	// ReclaimTrialOnly removes only unused trial-granted credits, floored
	// at zero. Paid, already-consumed credits are never clawed back.
	ReclaimTrialOnly
)

// Mutator applies the three entitlement transition classes. Every
// credit-changing transition writes its ledger row inside the same storage
// transaction; a transaction id conflict surfaces as ErrDuplicateTransaction
// and leaves the account untouched.
type Mutator struct {
	store   Storage
	logger  Logger
	metrics Metrics
}

// NewMutator creates a Mutator. Logger and metrics may be nil.
func NewMutator(store Storage, logger Logger, metrics Metrics) *Mutator {
	if logger == nil {
		logger = &NoopLogger{}
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Mutator{store: store, logger: logger, metrics: metrics}
}

// ActivateOrRenew grants the plan's entitlement to the account and records
// the transaction. Used for confirmed payments, completed checkouts and
// renewal invoices alike; the ledger constraint makes the overlap between
// those event classes safe.
func (m *Mutator) ActivateOrRenew(ctx context.Context, acct *Account, plan *Plan, ev *Event) error {
	tier := plan.Tier
	cycle := plan.Cycle
	maxProjects := plan.MaxProjects
	status := StatusActive

	change := &EntitlementChange{
		AccountID:   acct.ID,
		CreditOp:    CreditAdd,
		Amount:      plan.Credits,
		Tier:        &tier,
		Cycle:       &cycle,
		MaxProjects: &maxProjects,
		Status:      &status,
		Ledger: &LedgerEntry{
			TransactionID: ev.TransactionID,
			Gateway:       ev.Gateway,
			AccountID:     acct.ID,
			ProductRef:    ev.Reference,
			CreditsAdded:  plan.Credits,
			AmountCents:   ev.AmountCents,
			CustomerEmail: NormalizeEmail(ev.CustomerEmail),
			RawPayload:    ev.RawPayload,
		},
	}
	if ev.SubscriptionID != "" {
		subID := ev.SubscriptionID
		change.GatewaySubscriptionID = &subID
	}

	if err := m.store.ApplyEntitlementChange(ctx, change); err != nil {
		return err
	}

	if acct.Tier != plan.Tier {
		m.metrics.RecordTierChange(ev.Gateway, string(acct.Tier), string(plan.Tier))
	}
	m.logger.Info("entitlement activated",
		Field{"account_id", acct.ID},
		Field{"tier", plan.Tier},
		Field{"cycle", plan.Cycle},
		Field{"credits_added", plan.Credits},
		Field{"transaction_id", ev.TransactionID},
	)
	return nil
}

// Downgrade resets the account to the free plan. The credit policy is the
// caller's deliberate choice; ev may be nil for transitions with no backing
// gateway transaction (trial expiry), in which case no ledger row is written.
func (m *Mutator) Downgrade(ctx context.Context, acct *Account, policy RefundPolicy, ev *Event) error {
	tier := TierFree
	cycle := CycleMonthly
	maxProjects := 1
	status := StatusInactive

	change := &EntitlementChange{
		AccountID:   acct.ID,
		Tier:        &tier,
		Cycle:       &cycle,
		MaxProjects: &maxProjects,
		Status:      &status,
	}

	switch policy {
	case ReclaimAll:
		change.CreditOp = CreditZero
	case ReclaimTrialOnly:
		change.CreditOp = CreditReclaim
		change.Amount = acct.TrialCreditsGiven
	default:
		return fmt.Errorf("unknown refund policy %d", policy)
	}

	gateway := ""
	if ev != nil {
		gateway = ev.Gateway
		if ev.TransactionID != "" {
			change.Ledger = &LedgerEntry{
				TransactionID: ev.TransactionID,
				Gateway:       ev.Gateway,
				AccountID:     acct.ID,
				ProductRef:    ev.Reference,
				CreditsAdded:  0,
				AmountCents:   ev.AmountCents,
				CustomerEmail: NormalizeEmail(ev.CustomerEmail),
				RawPayload:    ev.RawPayload,
			}
		}
	}

	if err := m.store.ApplyEntitlementChange(ctx, change); err != nil {
		return err
	}

	if acct.Tier != TierFree {
		m.metrics.RecordTierChange(gateway, string(acct.Tier), string(TierFree))
	}
	m.logger.Info("entitlement downgraded",
		Field{"account_id", acct.ID},
		Field{"reclaim_all", policy == ReclaimAll},
	)
	return nil
}

// MarkPastDue flags the account as delinquent without touching credits or
// tier. Reversed by the next successful payment event.
func (m *Mutator) MarkPastDue(ctx context.Context, acct *Account) error {
	status := StatusPastDue
	change := &EntitlementChange{
		AccountID: acct.ID,
		CreditOp:  CreditNoop,
		Status:    &status,
	}
	if err := m.store.ApplyEntitlementChange(ctx, change); err != nil {
		return err
	}
	m.logger.Warn("account marked past due", Field{"account_id", acct.ID})
	return nil
}
