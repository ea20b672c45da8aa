package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gravyx/billing/pkg/billing/reference"
)

// ProcessorConfig wires the reconciliation pipeline together.
type ProcessorConfig struct {
	Store    Storage
	Parser   *reference.Parser
	Resolver *Resolver
	Logger   Logger
	Metrics  Metrics

	// CancellationPolicy is the credit policy for SubscriptionCancelled
	// events. Named explicitly because the two defensible answers (reclaim
	// everything vs. reclaim only trial credits) differ per business.
	CancellationPolicy RefundPolicy
}

// Processor turns one normalized gateway event into at most one entitlement
// mutation and exactly one event-log row.
type Processor struct {
	store              Storage
	parser             *reference.Parser
	resolver           *Resolver
	mutator            *Mutator
	logger             Logger
	metrics            Metrics
	cancellationPolicy RefundPolicy
}

// NewProcessor creates a Processor.
func NewProcessor(config ProcessorConfig) (*Processor, error) {
	if config.Store == nil || config.Parser == nil || config.Resolver == nil {
		return nil, fmt.Errorf("processor: store, parser and resolver are required")
	}
	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Processor{
		store:              config.Store,
		parser:             config.Parser,
		resolver:           config.Resolver,
		mutator:            NewMutator(config.Store, logger, metrics),
		logger:             logger,
		metrics:            metrics,
		cancellationPolicy: config.CancellationPolicy,
	}, nil
}

// Mutator exposes the processor's entitlement mutator for callers that
// apply transitions outside the webhook path (admin refunds, trial drip).
func (p *Processor) Mutator() *Mutator {
	return p.mutator
}

// Process runs the pipeline for one event and records the terminal branch
// in the event log. It never panics the request; the Result tells the
// adapter which HTTP status the gateway should see.
func (p *Processor) Process(ctx context.Context, ev *Event) Result {
	start := time.Now()
	res := p.dispatch(ctx, ev)
	p.record(ctx, ev, res)

	eventType := ev.RawType
	if eventType == "" {
		eventType = string(ev.Kind)
	}
	p.metrics.RecordWebhookEvent(ev.Gateway, eventType, string(res.Outcome))
	p.metrics.RecordWebhookProcessingDuration(ev.Gateway, eventType, time.Since(start))
	return res
}

func (p *Processor) dispatch(ctx context.Context, ev *Event) Result {
	switch ev.Kind {
	case PaymentConfirmed, CheckoutCompleted, InvoiceRenewalPaid:
		return p.applyPayment(ctx, ev)
	case PaymentRefunded, PaymentChargebackRequested:
		return p.applyDowngrade(ctx, ev, ReclaimAll)
	case SubscriptionCancelled:
		return p.applyDowngrade(ctx, ev, p.cancellationPolicy)
	case PaymentOverdue, PaymentFailed:
		return p.applyDelinquency(ctx, ev)
	default:
		return Result{Outcome: OutcomeIgnored, Reason: "unhandled event kind: " + string(ev.Kind)}
	}
}

// applyPayment handles every event class that grants an entitlement. The
// three kinds overlap on redelivery (an initial checkout arriving after a
// renewal already applied); the ledger constraint, not business-logic
// guessing, decides who wins.
func (p *Processor) applyPayment(ctx context.Context, ev *Event) Result {
	if ev.TransactionID == "" {
		return Result{Outcome: OutcomeFailed, Reason: "missing transaction id"}
	}

	ref, ok := p.parser.Parse(ev.Reference)
	if !ok {
		return Result{Outcome: OutcomeIgnored, Reason: "unrecognized reference: " + ev.Reference}
	}

	if res, dup := p.checkDuplicate(ctx, ev.TransactionID); dup {
		return res
	}

	provision := ev.Kind == CheckoutCompleted || ev.Kind == InvoiceRenewalPaid
	acct, res := p.resolveTarget(ctx, ev, ref, provision)
	if acct == nil {
		return res
	}

	plan, err := p.store.GetPlan(ctx, Tier(ref.Tier), Cycle(ref.Cycle))
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return Result{Outcome: OutcomeFailed, Reason: fmt.Sprintf("no active plan for %s/%s", ref.Tier, ref.Cycle), Err: err}
		}
		return Result{Outcome: OutcomeFailed, Reason: "catalog lookup failed", Err: err, Retry: true}
	}

	if err := p.mutator.ActivateOrRenew(ctx, acct, plan, ev); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return Result{Outcome: OutcomeDuplicate, Reason: "already processed"}
		}
		return Result{Outcome: OutcomeFailed, Reason: "entitlement mutation failed", Err: err, Retry: true}
	}
	return Result{Outcome: OutcomeApplied}
}

func (p *Processor) applyDowngrade(ctx context.Context, ev *Event, policy RefundPolicy) Result {
	if ev.TransactionID != "" {
		if res, dup := p.checkDuplicate(ctx, ev.TransactionID); dup {
			return res
		}
	}

	ref, _ := p.parser.Parse(ev.Reference)
	acct, res := p.resolveTarget(ctx, ev, ref, false)
	if acct == nil {
		return res
	}

	if err := p.mutator.Downgrade(ctx, acct, policy, ev); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return Result{Outcome: OutcomeDuplicate, Reason: "already processed"}
		}
		return Result{Outcome: OutcomeFailed, Reason: "downgrade failed", Err: err, Retry: true}
	}
	return Result{Outcome: OutcomeApplied}
}

func (p *Processor) applyDelinquency(ctx context.Context, ev *Event) Result {
	ref, _ := p.parser.Parse(ev.Reference)
	acct, res := p.resolveTarget(ctx, ev, ref, false)
	if acct == nil {
		return res
	}

	if err := p.mutator.MarkPastDue(ctx, acct); err != nil {
		return Result{Outcome: OutcomeFailed, Reason: "past-due update failed", Err: err, Retry: true}
	}
	return Result{Outcome: OutcomeApplied}
}

// checkDuplicate is the pre-mutation idempotency optimization. A lookup
// error is not fatal; the ledger constraint still protects the mutation.
func (p *Processor) checkDuplicate(ctx context.Context, transactionID string) (Result, bool) {
	exists, err := p.store.HasTransaction(ctx, transactionID)
	if err != nil {
		p.logger.Warn("idempotency pre-check failed",
			Field{"transaction_id", transactionID},
			Field{"error", err.Error()},
		)
		return Result{}, false
	}
	if exists {
		return Result{Outcome: OutcomeDuplicate, Reason: "already processed"}, true
	}
	return Result{}, false
}

// resolveTarget finds the account an event targets: by parsed user id
// first, then by customer email. A nil account means the returned Result
// is terminal.
func (p *Processor) resolveTarget(ctx context.Context, ev *Event, ref *reference.Ref, provision bool) (*Account, Result) {
	if ref != nil && ref.UserID != "" {
		acct, err := p.store.GetAccount(ctx, ref.UserID)
		if err == nil {
			return acct, Result{}
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, Result{Outcome: OutcomeFailed, Reason: "account lookup failed", Err: err, Retry: true}
		}
	}

	if ev.CustomerEmail == "" {
		return nil, Result{Outcome: OutcomeFailed, Reason: "no account matches event target"}
	}

	acct, err := p.resolver.Resolve(ctx, ev.CustomerEmail, provision)
	if err != nil {
		switch {
		case errors.Is(err, ErrProvisioningTimeout):
			// Operator problem, not gateway-retryable: ack and log unprocessed.
			return nil, Result{Outcome: OutcomeFailed, Reason: "account provisioning timed out", Err: err}
		case errors.Is(err, ErrAccountNotFound):
			return nil, Result{Outcome: OutcomeFailed, Reason: "unknown account: " + NormalizeEmail(ev.CustomerEmail), Err: err}
		default:
			return nil, Result{Outcome: OutcomeFailed, Reason: "account resolution failed", Err: err, Retry: true}
		}
	}
	return acct, Result{}
}

// record writes exactly one event-log row for the terminal branch.
func (p *Processor) record(ctx context.Context, ev *Event, res Result) {
	eventType := ev.Gateway + "." + ev.RawType
	if ev.RawType == "" {
		eventType = ev.Gateway + "." + string(ev.Kind)
	}

	msg := res.Reason
	if res.Err != nil && msg == "" {
		msg = res.Err.Error()
	}

	entry := &EventLogEntry{
		EventType:    eventType,
		Payload:      ev.RawPayload,
		Processed:    res.Outcome == OutcomeApplied,
		ErrorMessage: msg,
	}
	if err := p.store.RecordEvent(ctx, entry); err != nil {
		p.logger.Error("event log write failed",
			Field{"event_type", eventType},
			Field{"error", err.Error()},
		)
	}
}
