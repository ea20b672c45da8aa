// Package cached wraps a primary billing.Storage with a read-through Redis
// cache for Plan Catalog lookups. The catalog is read-only to the core and
// edited rarely by admin tooling, so a short TTL is the only invalidation
// needed. Every other Storage method passes straight through: accounts,
// ledger and coupons are correctness-sensitive and never cached.
package cached

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gravyx/billing/pkg/billing"
)

// Config holds plan-cache configuration.
type Config struct {
	// TTL is how long a cached catalog entry is served before the primary
	// is consulted again.
	TTL time.Duration

	// KeyPrefix namespaces cache keys (default "gravyx:plan:").
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:       5 * time.Minute,
		KeyPrefix: "gravyx:plan:",
	}
}

// Storage decorates a primary billing.Storage with cached GetPlan reads.
type Storage struct {
	billing.Storage

	client *redis.Client
	config Config
	logger billing.Logger
}

// New creates the cache decorator. logger may be nil.
func New(primary billing.Storage, client *redis.Client, config Config, logger billing.Logger) *Storage {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return &Storage{
		Storage: primary,
		client:  client,
		config:  config,
		logger:  logger,
	}
}

func (s *Storage) key(tier billing.Tier, cycle billing.Cycle) string {
	return fmt.Sprintf("%s%s:%s", s.config.KeyPrefix, tier, cycle)
}

// GetPlan serves catalog entries from Redis when possible, falling back to
// the primary on any cache failure. Cache trouble is logged, never surfaced.
func (s *Storage) GetPlan(ctx context.Context, tier billing.Tier, cycle billing.Cycle) (*billing.Plan, error) {
	key := s.key(tier, cycle)

	raw, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var plan billing.Plan
		if err := json.Unmarshal(raw, &plan); err == nil {
			return &plan, nil
		}
		// Corrupt entry: drop it and fall through to the primary.
		s.client.Del(ctx, key)
	} else if err != redis.Nil {
		s.logger.Warn("plan cache read failed",
			billing.Field{Key: "key", Value: key},
			billing.Field{Key: "error", Value: err.Error()},
		)
	}

	plan, err := s.Storage.GetPlan(ctx, tier, cycle)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(plan); err == nil {
		if err := s.client.Set(ctx, key, raw, s.config.TTL).Err(); err != nil {
			s.logger.Warn("plan cache write failed",
				billing.Field{Key: "key", Value: key},
				billing.Field{Key: "error", Value: err.Error()},
			)
		}
	}
	return plan, nil
}
