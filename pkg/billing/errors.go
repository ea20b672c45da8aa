package billing

import "errors"

var (
	// ErrDuplicateTransaction is returned when a ledger insert hits the
	// transaction id uniqueness constraint.
	ErrDuplicateTransaction = errors.New("transaction already applied")

	// ErrAccountNotFound is returned when no account matches the lookup key.
	ErrAccountNotFound = errors.New("account not found")

	// ErrPlanNotFound is returned when no active catalog entry exists for a
	// (tier, cycle) pair.
	ErrPlanNotFound = errors.New("plan not found in catalog")

	// ErrTransactionNotFound is returned when no ledger row exists for a
	// transaction id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrProvisioningTimeout is returned when an auto-provisioned account
	// never materializes within the retry budget.
	ErrProvisioningTimeout = errors.New("account provisioning timed out")

	// ErrCouponNotFound is returned when a coupon code does not exist.
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrCouponAlreadyUsed is returned on a second redemption attempt by the
	// same user. The message is the caller-facing contract.
	ErrCouponAlreadyUsed = errors.New("Cupom já utilizado")

	// ErrCouponNotApplicable is returned when a coupon is inactive, outside
	// its validity window, exhausted, or restricted to another plan.
	ErrCouponNotApplicable = errors.New("coupon not applicable")

	// ErrRefundNotSupported is returned by gateways without a refund API.
	ErrRefundNotSupported = errors.New("gateway does not support refunds")

	// ErrGatewayNotConfigured is returned when an adapter is constructed
	// without its required credentials or collaborators.
	ErrGatewayNotConfigured = errors.New("gateway not configured")
)
