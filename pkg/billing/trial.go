package billing

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// TrialLengthDays is how long a trial runs before expiring.
	TrialLengthDays = 7

	// TrialDailyCredits is the per-day trial grant.
	TrialDailyCredits = 5

	// TrialCreditCap is the cumulative trial grant ceiling.
	TrialCreditCap = 35
)

// ExpectedTrialCredits returns the cumulative credits a trial account
// should have received by the given elapsed day. Monotonic step function:
// day 0 yields one day's worth, capped at TrialCreditCap.
func ExpectedTrialCredits(daysElapsed int) int {
	if daysElapsed < 0 {
		daysElapsed = 0
	}
	expected := (daysElapsed + 1) * TrialDailyCredits
	if expected > TrialCreditCap {
		return TrialCreditCap
	}
	return expected
}

// TrialReport aggregates one drip run.
type TrialReport struct {
	Processed int
	Granted   int
	Expired   int
	Failed    int
}

// TrialDrip is the scheduled job that tops trial accounts up toward their
// expected cumulative grant and expires finished trials. Because it always
// reconciles toward the expected total instead of adding a fixed amount, it
// is safe to run at any frequency.
type TrialDrip struct {
	store       Storage
	mutator     *Mutator
	logger      Logger
	metrics     Metrics
	concurrency int
	now         func() time.Time
}

// NewTrialDrip creates the drip job. concurrency bounds parallelism across
// accounts; values below 1 mean sequential.
func NewTrialDrip(store Storage, logger Logger, metrics Metrics, concurrency int) *TrialDrip {
	if logger == nil {
		logger = &NoopLogger{}
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &TrialDrip{
		store:       store,
		mutator:     NewMutator(store, logger, metrics),
		logger:      logger,
		metrics:     metrics,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Run processes every trial_active account. An account that errors never
// aborts the batch; failures are counted and logged.
func (d *TrialDrip) Run(ctx context.Context) (TrialReport, error) {
	accounts, err := d.store.ListTrialAccounts(ctx)
	if err != nil {
		return TrialReport{}, err
	}

	var granted, expired, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, acct := range accounts {
		acct := acct
		g.Go(func() error {
			switch err := d.processAccount(gctx, acct); {
			case err == errTrialExpired:
				expired.Add(1)
				d.metrics.RecordTrialAccount("expired")
			case err == errTrialUnchanged:
				d.metrics.RecordTrialAccount("unchanged")
			case err != nil:
				failed.Add(1)
				d.metrics.RecordTrialAccount("failed")
				d.logger.Error("trial drip account failed",
					Field{"account_id", acct.ID},
					Field{"error", err.Error()},
				)
			default:
				granted.Add(1)
				d.metrics.RecordTrialAccount("granted")
			}
			return nil
		})
	}
	_ = g.Wait()

	report := TrialReport{
		Processed: len(accounts),
		Granted:   int(granted.Load()),
		Expired:   int(expired.Load()),
		Failed:    int(failed.Load()),
	}
	d.logger.Info("trial drip run complete",
		Field{"processed", report.Processed},
		Field{"granted", report.Granted},
		Field{"expired", report.Expired},
		Field{"failed", report.Failed},
	)
	return report, nil
}

// Control-flow sentinels internal to the drip run.
var (
	errTrialExpired   = &trialMarker{"expired"}
	errTrialUnchanged = &trialMarker{"unchanged"}
)

type trialMarker struct{ s string }

func (m *trialMarker) Error() string { return "trial " + m.s }

func (d *TrialDrip) processAccount(ctx context.Context, acct *Account) error {
	if acct.TrialStartDate == nil {
		return errTrialUnchanged
	}

	daysElapsed := int(d.now().UTC().Sub(acct.TrialStartDate.UTC()).Hours() / 24)
	if daysElapsed >= TrialLengthDays {
		if err := d.mutator.Downgrade(ctx, acct, ReclaimTrialOnly, nil); err != nil {
			return err
		}
		return errTrialExpired
	}

	expected := ExpectedTrialCredits(daysElapsed)
	delta := expected - acct.TrialCreditsGiven
	if delta <= 0 {
		return errTrialUnchanged
	}

	change := &EntitlementChange{
		AccountID:         acct.ID,
		CreditOp:          CreditAdd,
		Amount:            delta,
		TrialCreditsGiven: &expected,
	}
	return d.store.ApplyEntitlementChange(ctx, change)
}
