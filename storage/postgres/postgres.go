// Package postgres provides the production implementation of
// billing.Storage on PostgreSQL via pgx. The credit_ledger table carries a
// uniqueness constraint on transaction_id; ApplyEntitlementChange performs
// the ledger insert and the account update in one transaction so a
// duplicate delivery can never half-apply. See schema.sql for the tables.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gravyx/billing/pkg/billing"
)

// Storage implements billing.Storage using a pgx connection pool.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the connection pool.
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const accountColumns = `id, email, credits, tier, billing_cycle, max_projects,
	subscription_status, trial_start_date, trial_credits_given,
	gateway_subscription_id, created_at, updated_at`

func scanAccount(row pgx.Row) (*billing.Account, error) {
	var acct billing.Account
	var subID *string
	err := row.Scan(
		&acct.ID,
		&acct.Email,
		&acct.Credits,
		&acct.Tier,
		&acct.BillingCycle,
		&acct.MaxProjects,
		&acct.SubscriptionStatus,
		&acct.TrialStartDate,
		&acct.TrialCreditsGiven,
		&subID,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if subID != nil {
		acct.GatewaySubscriptionID = *subID
	}
	return &acct, nil
}

// GetAccount implements billing.Storage.
func (s *Storage) GetAccount(ctx context.Context, id string) (*billing.Account, error) {
	acct, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// GetAccountByEmail implements billing.Storage.
func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (*billing.Account, error) {
	acct, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		billing.NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return acct, nil
}

// GetPlan implements billing.Storage.
func (s *Storage) GetPlan(ctx context.Context, tier billing.Tier, cycle billing.Cycle) (*billing.Plan, error) {
	var plan billing.Plan
	err := s.pool.QueryRow(ctx,
		`SELECT tier, billing_cycle, price_cents, credits, max_projects, active
			FROM plan_catalog
			WHERE tier = $1 AND billing_cycle = $2 AND active`,
		tier, cycle).Scan(
		&plan.Tier,
		&plan.Cycle,
		&plan.PriceCents,
		&plan.Credits,
		&plan.MaxProjects,
		&plan.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &plan, nil
}

// HasTransaction implements billing.Storage.
func (s *Storage) HasTransaction(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM credit_ledger WHERE transaction_id = $1)`,
		transactionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction: %w", err)
	}
	return exists, nil
}

// GetLedgerEntry implements billing.Storage.
func (s *Storage) GetLedgerEntry(ctx context.Context, transactionID string) (*billing.LedgerEntry, error) {
	var entry billing.LedgerEntry
	err := s.pool.QueryRow(ctx,
		`SELECT transaction_id, gateway, account_id, product_ref, credits_added,
				amount_cents, customer_email, raw_payload, created_at
			FROM credit_ledger WHERE transaction_id = $1`,
		transactionID).Scan(
		&entry.TransactionID,
		&entry.Gateway,
		&entry.AccountID,
		&entry.ProductRef,
		&entry.CreditsAdded,
		&entry.AmountCents,
		&entry.CustomerEmail,
		&entry.RawPayload,
		&entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

// ApplyEntitlementChange implements billing.Storage. The ledger insert uses
// INSERT ... ON CONFLICT DO NOTHING RETURNING: no row back means another
// delivery won the race and the whole change rolls back as a duplicate.
func (s *Storage) ApplyEntitlementChange(ctx context.Context, change *billing.EntitlementChange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	if change.Ledger != nil {
		var inserted string
		err := tx.QueryRow(ctx, `
			INSERT INTO credit_ledger
				(transaction_id, gateway, account_id, product_ref, credits_added,
				 amount_cents, customer_email, raw_payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (transaction_id) DO NOTHING
			RETURNING transaction_id`,
			change.Ledger.TransactionID, change.Ledger.Gateway, change.AccountID,
			change.Ledger.ProductRef, change.Ledger.CreditsAdded,
			change.Ledger.AmountCents, change.Ledger.CustomerEmail,
			change.Ledger.RawPayload).Scan(&inserted)
		if errors.Is(err, pgx.ErrNoRows) {
			return billing.ErrDuplicateTransaction
		}
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
	}

	query, args := buildAccountUpdate(change)
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrAccountNotFound
	}

	return tx.Commit(ctx)
}

// buildAccountUpdate assembles the single conditional UPDATE that applies
// the change server-side (atomic increment, GREATEST floor) so concurrent
// deliveries cannot lose updates.
func buildAccountUpdate(change *billing.EntitlementChange) (string, []interface{}) {
	set := "updated_at = NOW()"
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch change.CreditOp {
	case billing.CreditAdd:
		set += ", credits = credits + " + arg(change.Amount)
	case billing.CreditZero:
		set += ", credits = 0"
	case billing.CreditReclaim:
		set += ", credits = GREATEST(0, credits - " + arg(change.Amount) + ")"
	}

	if change.Tier != nil {
		set += ", tier = " + arg(*change.Tier)
	}
	if change.Cycle != nil {
		set += ", billing_cycle = " + arg(*change.Cycle)
	}
	if change.MaxProjects != nil {
		set += ", max_projects = " + arg(*change.MaxProjects)
	}
	if change.Status != nil {
		set += ", subscription_status = " + arg(*change.Status)
	}
	if change.GatewaySubscriptionID != nil {
		set += ", gateway_subscription_id = " + arg(*change.GatewaySubscriptionID)
	}
	if change.TrialCreditsGiven != nil {
		set += ", trial_credits_given = " + arg(*change.TrialCreditsGiven)
	}

	query := "UPDATE accounts SET " + set + " WHERE id = " + arg(change.AccountID)
	return query, args
}

// RecordEvent implements billing.Storage.
func (s *Storage) RecordEvent(ctx context.Context, entry *billing.EventLogEntry) error {
	var msg interface{}
	if entry.ErrorMessage != "" {
		msg = entry.ErrorMessage
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_log (event_type, payload, processed, error_message, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		entry.EventType, entry.Payload, entry.Processed, msg)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListTrialAccounts implements billing.Storage.
func (s *Storage) ListTrialAccounts(ctx context.Context) ([]*billing.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE subscription_status = $1`,
		billing.StatusTrialActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list trial accounts: %w", err)
	}
	defer rows.Close()

	var out []*billing.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trial accounts: %w", err)
	}
	return out, nil
}

// GetCoupon implements billing.Storage.
func (s *Storage) GetCoupon(ctx context.Context, code string) (*billing.Coupon, error) {
	var coupon billing.Coupon
	var tierRestriction, cycleRestriction *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, code, discount_type, discount_value, max_uses, used_count,
				tier_restriction, cycle_restriction, valid_from, valid_until, active
			FROM coupons WHERE code = $1`,
		code).Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.DiscountType,
		&coupon.DiscountValue,
		&coupon.MaxUses,
		&coupon.UsedCount,
		&tierRestriction,
		&cycleRestriction,
		&coupon.ValidFrom,
		&coupon.ValidUntil,
		&coupon.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	if tierRestriction != nil {
		coupon.TierRestriction = billing.Tier(*tierRestriction)
	}
	if cycleRestriction != nil {
		coupon.CycleRestriction = billing.Cycle(*cycleRestriction)
	}
	return &coupon, nil
}

// RedeemCoupon implements billing.Storage. The (coupon_id, user_id) unique
// constraint enforces single use per user regardless of concurrent attempts.
func (s *Storage) RedeemCoupon(ctx context.Context, couponID, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	var inserted string
	err = tx.QueryRow(ctx, `
		INSERT INTO coupon_usages (coupon_id, user_id, used_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (coupon_id, user_id) DO NOTHING
		RETURNING coupon_id`,
		couponID, userID).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.ErrCouponAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("failed to record coupon usage: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`,
		couponID); err != nil {
		return fmt.Errorf("failed to bump coupon usage: %w", err)
	}

	return tx.Commit(ctx)
}
