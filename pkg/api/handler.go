package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gravyx/billing/internal/httpx"
	"github.com/gravyx/billing/pkg/billing"
	"github.com/gravyx/billing/pkg/billing/reference"
)

// Handler serves the authenticated API endpoints.
type Handler struct {
	store        billing.Storage
	processor    *billing.Processor
	coupons      *billing.Coupons
	gateways     map[string]billing.Gateway
	checkout     CheckoutFunc
	authenticate Authenticator
	logger       billing.Logger
	metrics      billing.Metrics
}

// NewHandler creates the API handler.
func NewHandler(config Config) (*Handler, error) {
	if config.Store == nil || config.Processor == nil || config.Authenticate == nil {
		return nil, fmt.Errorf("api: store, processor and authenticator are required")
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	gateways := make(map[string]billing.Gateway, len(config.Gateways))
	for _, gw := range config.Gateways {
		gateways[gw.Name()] = gw
	}
	return &Handler{
		store:        config.Store,
		processor:    config.Processor,
		coupons:      config.Coupons,
		gateways:     gateways,
		checkout:     config.Checkout,
		authenticate: config.Authenticate,
		logger:       logger,
		metrics:      metrics,
	}, nil
}

type checkoutRequest struct {
	Tier       string `json:"tier"`
	Cycle      string `json:"cycle"`
	CouponCode string `json:"coupon_code,omitempty"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	AmountCents int64  `json:"amount_cents"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	caller, err := h.authenticate(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.checkout == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "checkout not configured")
		return
	}

	body, err := httpx.ReadBody(w, r, httpx.MaxWebhookBody)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tier, cycle := billing.Tier(req.Tier), billing.Cycle(req.Cycle)
	if !billing.ValidTier(tier) || tier == billing.TierFree || !billing.ValidCycle(cycle) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid plan selection")
		return
	}

	plan, err := h.store.GetPlan(r.Context(), tier, cycle)
	if err != nil {
		if errors.Is(err, billing.ErrPlanNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "plan not available")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "catalog lookup failed")
		return
	}

	amount := plan.PriceCents
	var coupon *billing.Coupon
	if req.CouponCode != "" {
		if h.coupons == nil {
			httpx.WriteError(w, http.StatusBadRequest, "coupons not supported")
			return
		}
		coupon, amount, err = h.coupons.Quote(r.Context(), req.CouponCode, tier, cycle, plan.PriceCents)
		if err != nil {
			h.writeCouponError(w, err)
			return
		}
	}

	ref := reference.Format(string(cycle), string(tier), caller.ID)
	url, err := h.checkout(r.Context(), plan, ref, caller.ID, caller.Email, amount)
	if err != nil {
		h.logger.Error("checkout session creation failed",
			billing.Field{Key: "user_id", Value: caller.ID},
			billing.Field{Key: "error", Value: err.Error()},
		)
		httpx.WriteError(w, http.StatusBadGateway, "checkout session creation failed")
		return
	}

	// The use is recorded only once a session exists, so a failed session
	// creation does not burn the coupon. An abandoned session leaves the
	// use recorded, which matches the one-use-per-user contract.
	if coupon != nil {
		if err := h.coupons.Redeem(r.Context(), coupon, caller.ID); err != nil {
			h.writeCouponError(w, err)
			return
		}
	}

	h.logger.Info("checkout session created",
		billing.Field{Key: "user_id", Value: caller.ID},
		billing.Field{Key: "tier", Value: tier},
		billing.Field{Key: "cycle", Value: cycle},
		billing.Field{Key: "amount_cents", Value: amount},
	)
	httpx.WriteJSON(w, http.StatusOK, checkoutResponse{CheckoutURL: url, AmountCents: amount})
}

// writeCouponError keeps the coupon error text as the caller-facing
// message; the strings are part of the frontend contract.
func (h *Handler) writeCouponError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrCouponNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, billing.ErrCouponAlreadyUsed):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, billing.ErrCouponNotApplicable):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "coupon validation failed")
	}
}

type refundRequest struct {
	TransactionID string `json:"transaction_id"`

	// UserID is the account the admin believes owns the transaction. When
	// set, it must match the ledger row; a mismatch aborts the refund.
	UserID string `json:"user_id,omitempty"`

	// ForceLocal skips the gateway call and only reconciles the local
	// account. For payments already refunded at the gateway dashboard or
	// made through gateways without a refund API.
	ForceLocal bool `json:"force_local,omitempty"`
}

func (h *Handler) handleAdminRefund(w http.ResponseWriter, r *http.Request) {
	caller, err := h.authenticate(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !caller.Admin {
		httpx.WriteError(w, http.StatusForbidden, "admin role required")
		return
	}

	body, err := httpx.ReadBody(w, r, httpx.MaxWebhookBody)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var req refundRequest
	if err := json.Unmarshal(body, &req); err != nil || req.TransactionID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	entry, err := h.store.GetLedgerEntry(r.Context(), req.TransactionID)
	if err != nil {
		if errors.Is(err, billing.ErrTransactionNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "transaction not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "ledger lookup failed")
		return
	}

	if req.UserID != "" && req.UserID != entry.AccountID {
		httpx.WriteError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("transaction %s does not belong to user %s", req.TransactionID, req.UserID))
		return
	}

	acct, err := h.store.GetAccount(r.Context(), entry.AccountID)
	if err != nil {
		if errors.Is(err, billing.ErrAccountNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "account no longer exists")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "account lookup failed")
		return
	}

	if !req.ForceLocal {
		gw, ok := h.gateways[entry.Gateway]
		if !ok {
			h.recordRefundAudit(r, caller, req, entry, "gateway not configured")
			httpx.WriteError(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("gateway %s not configured; use force_local to reconcile locally", entry.Gateway))
			return
		}
		if err := gw.Refund(r.Context(), entry); err != nil {
			h.recordRefundAudit(r, caller, req, entry, err.Error())
			if errors.Is(err, billing.ErrRefundNotSupported) {
				httpx.WriteError(w, http.StatusUnprocessableEntity,
					fmt.Sprintf("%s does not support API refunds; refund at the gateway and use force_local", entry.Gateway))
				return
			}
			h.logger.Error("gateway refund failed",
				billing.Field{Key: "gateway", Value: entry.Gateway},
				billing.Field{Key: "transaction_id", Value: entry.TransactionID},
				billing.Field{Key: "error", Value: err.Error()},
			)
			httpx.WriteError(w, http.StatusBadGateway, "gateway refund failed")
			return
		}
	}

	// The synthetic refund transaction gets its own ledger row, so a
	// second admin refund of the same payment collapses into a duplicate.
	ev := &billing.Event{
		Gateway:       entry.Gateway,
		Kind:          billing.PaymentRefunded,
		TransactionID: "refund_" + entry.TransactionID,
		Reference:     entry.ProductRef,
		CustomerEmail: entry.CustomerEmail,
		AmountCents:   -entry.AmountCents,
		RawType:       "admin.refund",
	}
	if err := h.processor.Mutator().Downgrade(r.Context(), acct, billing.ReclaimAll, ev); err != nil {
		if errors.Is(err, billing.ErrDuplicateTransaction) {
			httpx.WriteError(w, http.StatusConflict, "transaction already refunded")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "refund reconciliation failed")
		return
	}

	h.recordRefundAudit(r, caller, req, entry, "")

	h.logger.Info("admin refund applied",
		billing.Field{Key: "transaction_id", Value: req.TransactionID},
		billing.Field{Key: "account_id", Value: entry.AccountID},
		billing.Field{Key: "admin_id", Value: caller.ID},
		billing.Field{Key: "force_local", Value: req.ForceLocal},
	)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":         "refunded",
		"transaction_id": req.TransactionID,
	})
}

// recordRefundAudit writes the admin.refund event-log row. Every refund
// attempt that reached the gateway stage leaves a row, whether or not the
// gateway call went through; failureReason is empty on success.
func (h *Handler) recordRefundAudit(r *http.Request, caller *Identity, req refundRequest, entry *billing.LedgerEntry, failureReason string) {
	audit, _ := json.Marshal(map[string]interface{}{
		"transaction_id": req.TransactionID,
		"account_id":     entry.AccountID,
		"admin_id":       caller.ID,
		"force_local":    req.ForceLocal,
	})
	if err := h.store.RecordEvent(r.Context(), &billing.EventLogEntry{
		EventType:    "admin.refund",
		Payload:      audit,
		Processed:    failureReason == "",
		ErrorMessage: failureReason,
	}); err != nil {
		h.logger.Error("refund audit write failed",
			billing.Field{Key: "transaction_id", Value: req.TransactionID},
			billing.Field{Key: "error", Value: err.Error()},
		)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
