package billing

import (
	"strings"
	"time"
)

// Tier is a subscription level determining credit allowance and project limits.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Cycle is the recurrence of a subscription.
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleAnnual  Cycle = "annual"
)

// SubscriptionStatus is the billing state of an account.
type SubscriptionStatus string

const (
	StatusInactive    SubscriptionStatus = "inactive"
	StatusTrialActive SubscriptionStatus = "trial_active"
	StatusActive      SubscriptionStatus = "active"
	StatusPastDue     SubscriptionStatus = "past_due"
)

// UnlimitedProjects is the sentinel max_projects value meaning no limit.
const UnlimitedProjects = -1

// Account is one end user. The email is the case-insensitive identity key;
// credits never go negative.
type Account struct {
	ID                    string
	Email                 string
	Credits               int
	Tier                  Tier
	BillingCycle          Cycle
	MaxProjects           int
	SubscriptionStatus    SubscriptionStatus
	TrialStartDate        *time.Time
	TrialCreditsGiven     int
	GatewaySubscriptionID string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Plan is one active Plan Catalog entry for a (tier, cycle) pair.
// The catalog is read-only to this core; admin tooling maintains it.
type Plan struct {
	Tier        Tier
	Cycle       Cycle
	PriceCents  int64
	Credits     int
	MaxProjects int
	Active      bool
}

// LedgerEntry is one applied economic event. TransactionID is globally
// unique and is the idempotency key; rows are never mutated or deleted.
type LedgerEntry struct {
	TransactionID string
	Gateway       string
	AccountID     string
	ProductRef    string
	CreditsAdded  int
	AmountCents   int64
	CustomerEmail string
	RawPayload    []byte
	CreatedAt     time.Time
}

// EventLogEntry is one webhook invocation attempt, successful or not.
// Append-only; used for audits and replay diagnosis, not for idempotency.
type EventLogEntry struct {
	ID           int64
	EventType    string
	Payload      []byte
	Processed    bool
	ErrorMessage string
	CreatedAt    time.Time
}

// DiscountType is how a coupon reduces the price.
type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// Coupon is a checkout discount. A given user may redeem a given coupon at
// most once, enforced by a usage record keyed by (coupon id, user id).
type Coupon struct {
	ID               string
	Code             string
	DiscountType     DiscountType
	DiscountValue    int64
	MaxUses          int
	UsedCount        int
	TierRestriction  Tier  // empty = any tier
	CycleRestriction Cycle // empty = any cycle
	ValidFrom        time.Time
	ValidUntil       time.Time
	Active           bool
}

// NormalizeEmail canonicalizes an email for use as the identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidTier reports whether t is one of the known tiers.
func ValidTier(t Tier) bool {
	switch t {
	case TierFree, TierStarter, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// ValidCycle reports whether c is one of the known billing cycles.
func ValidCycle(c Cycle) bool {
	return c == CycleMonthly || c == CycleAnnual
}
