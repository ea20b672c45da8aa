// Package memory provides an in-memory implementation of billing.Storage.
// Intended for tests and examples; a single mutex stands in for the
// transactional guarantees the postgres backend gets from the database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gravyx/billing/pkg/billing"
)

// Storage implements billing.Storage backed by process memory.
type Storage struct {
	mu sync.Mutex

	accounts map[string]*billing.Account
	byEmail  map[string]string
	plans    map[string]*billing.Plan
	ledger   map[string]*billing.LedgerEntry
	events   []*billing.EventLogEntry
	coupons  map[string]*billing.Coupon
	usages   map[string]bool

	nextEventID int64
}

// New creates an empty in-memory storage.
func New() *Storage {
	return &Storage{
		accounts: make(map[string]*billing.Account),
		byEmail:  make(map[string]string),
		plans:    make(map[string]*billing.Plan),
		ledger:   make(map[string]*billing.LedgerEntry),
		coupons:  make(map[string]*billing.Coupon),
		usages:   make(map[string]bool),
	}
}

func planKey(tier billing.Tier, cycle billing.Cycle) string {
	return string(tier) + "/" + string(cycle)
}

// PutAccount inserts or replaces an account. Test seeding helper.
func (s *Storage) PutAccount(acct *billing.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acct
	cp.Email = billing.NormalizeEmail(cp.Email)
	s.accounts[cp.ID] = &cp
	s.byEmail[cp.Email] = cp.ID
}

// PutPlan inserts or replaces a catalog entry. Test seeding helper.
func (s *Storage) PutPlan(plan *billing.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *plan
	s.plans[planKey(cp.Tier, cp.Cycle)] = &cp
}

// PutCoupon inserts or replaces a coupon. Test seeding helper.
func (s *Storage) PutCoupon(coupon *billing.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *coupon
	s.coupons[cp.Code] = &cp
}

// Events returns a snapshot of the event log.
func (s *Storage) Events() []*billing.EventLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*billing.EventLogEntry, len(s.events))
	for i, e := range s.events {
		cp := *e
		out[i] = &cp
	}
	return out
}

// LedgerEntries returns a snapshot of all ledger rows.
func (s *Storage) LedgerEntries() []*billing.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*billing.LedgerEntry, 0, len(s.ledger))
	for _, e := range s.ledger {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// GetAccount implements billing.Storage.
func (s *Storage) GetAccount(_ context.Context, id string) (*billing.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, billing.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

// GetAccountByEmail implements billing.Storage.
func (s *Storage) GetAccountByEmail(_ context.Context, email string) (*billing.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[billing.NormalizeEmail(email)]
	if !ok {
		return nil, billing.ErrAccountNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

// GetPlan implements billing.Storage.
func (s *Storage) GetPlan(_ context.Context, tier billing.Tier, cycle billing.Cycle) (*billing.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planKey(tier, cycle)]
	if !ok || !plan.Active {
		return nil, billing.ErrPlanNotFound
	}
	cp := *plan
	return &cp, nil
}

// HasTransaction implements billing.Storage.
func (s *Storage) HasTransaction(_ context.Context, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ledger[transactionID]
	return ok, nil
}

// GetLedgerEntry implements billing.Storage.
func (s *Storage) GetLedgerEntry(_ context.Context, transactionID string) (*billing.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.ledger[transactionID]
	if !ok {
		return nil, billing.ErrTransactionNotFound
	}
	cp := *entry
	return &cp, nil
}

// ApplyEntitlementChange implements billing.Storage. The mutex makes the
// ledger check and the account update one atomic step, mirroring the
// postgres transaction.
func (s *Storage) ApplyEntitlementChange(_ context.Context, change *billing.EntitlementChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[change.AccountID]
	if !ok {
		return billing.ErrAccountNotFound
	}

	if change.Ledger != nil {
		if _, exists := s.ledger[change.Ledger.TransactionID]; exists {
			return billing.ErrDuplicateTransaction
		}
	}

	switch change.CreditOp {
	case billing.CreditAdd:
		acct.Credits += change.Amount
	case billing.CreditZero:
		acct.Credits = 0
	case billing.CreditReclaim:
		acct.Credits -= change.Amount
		if acct.Credits < 0 {
			acct.Credits = 0
		}
	}

	if change.Tier != nil {
		acct.Tier = *change.Tier
	}
	if change.Cycle != nil {
		acct.BillingCycle = *change.Cycle
	}
	if change.MaxProjects != nil {
		acct.MaxProjects = *change.MaxProjects
	}
	if change.Status != nil {
		acct.SubscriptionStatus = *change.Status
	}
	if change.GatewaySubscriptionID != nil {
		acct.GatewaySubscriptionID = *change.GatewaySubscriptionID
	}
	if change.TrialCreditsGiven != nil {
		acct.TrialCreditsGiven = *change.TrialCreditsGiven
	}
	acct.UpdatedAt = time.Now().UTC()

	if change.Ledger != nil {
		entry := *change.Ledger
		entry.CreatedAt = time.Now().UTC()
		s.ledger[entry.TransactionID] = &entry
	}
	return nil
}

// RecordEvent implements billing.Storage.
func (s *Storage) RecordEvent(_ context.Context, entry *billing.EventLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	cp := *entry
	cp.ID = s.nextEventID
	cp.CreatedAt = time.Now().UTC()
	s.events = append(s.events, &cp)
	return nil
}

// ListTrialAccounts implements billing.Storage.
func (s *Storage) ListTrialAccounts(_ context.Context) ([]*billing.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*billing.Account
	for _, acct := range s.accounts {
		if acct.SubscriptionStatus == billing.StatusTrialActive {
			cp := *acct
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetCoupon implements billing.Storage.
func (s *Storage) GetCoupon(_ context.Context, code string) (*billing.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coupon, ok := s.coupons[code]
	if !ok {
		return nil, billing.ErrCouponNotFound
	}
	cp := *coupon
	return &cp, nil
}

// RedeemCoupon implements billing.Storage.
func (s *Storage) RedeemCoupon(_ context.Context, couponID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := couponID + "|" + userID
	if s.usages[key] {
		return billing.ErrCouponAlreadyUsed
	}
	s.usages[key] = true
	for _, coupon := range s.coupons {
		if coupon.ID == couponID {
			coupon.UsedCount++
		}
	}
	return nil
}
