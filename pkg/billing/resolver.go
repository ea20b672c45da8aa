package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// IdentityProvider creates authentication identities in the external auth
// system. Account row creation happens via a side-effecting trigger behind
// that system, so the Resolver treats it as eventually consistent.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, email, password string) error
}

// Notifier dispatches user-facing notifications. Failures never fail the
// operation that triggered them.
type Notifier interface {
	SendWelcome(ctx context.Context, email string) error
}

// ResolverConfig holds Account Resolver settings.
type ResolverConfig struct {
	// MaxAttempts bounds the poll for the asynchronously-created account.
	MaxAttempts int

	// Backoff is the base delay between poll attempts; attempt n waits
	// n * Backoff.
	Backoff time.Duration

	// DefaultPassword is the fixed credential for auto-provisioned
	// identities. The user resets it via the normal password flow.
	DefaultPassword string
}

// DefaultResolverConfig returns a ResolverConfig with sensible defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		MaxAttempts:     5,
		Backoff:         500 * time.Millisecond,
		DefaultPassword: "gravyx-temp-2024",
	}
}

// Resolver maps a gateway customer identity to an internal account,
// auto-provisioning one when the event class allows it.
type Resolver struct {
	store    Storage
	identity IdentityProvider
	notifier Notifier
	logger   Logger
	config   ResolverConfig

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResolver creates a Resolver. identity and notifier may be nil, which
// disables auto-provisioning and welcome notifications respectively.
func NewResolver(store Storage, identity IdentityProvider, notifier Notifier, logger Logger, config ResolverConfig) *Resolver {
	if logger == nil {
		logger = &NoopLogger{}
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultResolverConfig().MaxAttempts
	}
	if config.Backoff <= 0 {
		config.Backoff = DefaultResolverConfig().Backoff
	}
	return &Resolver{
		store:    store,
		identity: identity,
		notifier: notifier,
		logger:   logger,
		config:   config,
		sleep:    sleepCtx,
	}
}

// Resolve returns the account for the normalized email, creating one when
// provision is true and no account exists. Returns ErrAccountNotFound when
// provisioning is off, or ErrProvisioningTimeout when the account never
// materializes within the retry budget.
func (r *Resolver) Resolve(ctx context.Context, email string, provision bool) (*Account, error) {
	key := NormalizeEmail(email)
	if key == "" {
		return nil, fmt.Errorf("%w: empty email", ErrAccountNotFound)
	}

	acct, err := r.store.GetAccountByEmail(ctx, key)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	if !provision || r.identity == nil {
		return nil, err
	}

	return r.provision(ctx, key)
}

func (r *Resolver) provision(ctx context.Context, email string) (*Account, error) {
	r.logger.Info("auto-provisioning account", Field{"email", email})

	if err := r.identity.CreateIdentity(ctx, email, r.config.DefaultPassword); err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	// The account row is created by a trigger we do not control. Poll with
	// backoff instead of waiting indefinitely.
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		acct, err := r.store.GetAccountByEmail(ctx, email)
		if err == nil {
			r.welcome(ctx, email)
			return acct, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("account lookup: %w", err)
		}
		if attempt == r.config.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, time.Duration(attempt)*r.config.Backoff); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %s", ErrProvisioningTimeout, r.config.MaxAttempts, email)
}

func (r *Resolver) welcome(ctx context.Context, email string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.SendWelcome(ctx, email); err != nil {
		r.logger.Warn("welcome notification failed",
			Field{"email", email},
			Field{"error", err.Error()},
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
