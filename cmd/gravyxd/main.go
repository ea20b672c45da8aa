// Command gravyxd runs the Gravyx billing reconciliation service: webhook
// endpoints for the configured payment gateways, the checkout and admin
// refund API, and the scheduled trial credit drip.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gravyx/billing/pkg/api"
	"github.com/gravyx/billing/pkg/billing"
	"github.com/gravyx/billing/pkg/billing/asaas"
	zerologadapter "github.com/gravyx/billing/pkg/billing/logger/zerolog"
	prommetrics "github.com/gravyx/billing/pkg/billing/metrics/prometheus"
	"github.com/gravyx/billing/pkg/billing/reference"
	stripegw "github.com/gravyx/billing/pkg/billing/stripe"
	"github.com/gravyx/billing/pkg/billing/ticto"
	"github.com/gravyx/billing/pkg/platform"
	"github.com/gravyx/billing/storage/cached"
	"github.com/gravyx/billing/storage/postgres"
)

func main() {
	zl := zerolog.New(os.Stderr).With().Timestamp().Str("service", "gravyxd").Logger()
	if lvl, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info")); err == nil {
		zl = zl.Level(lvl)
	}
	logger := zerologadapter.NewLogger(zl)
	metrics := prommetrics.DefaultMetrics("gravyx")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, zl, logger, metrics); err != nil {
		zl.Fatal().Err(err).Msg("service exited")
	}
}

func run(ctx context.Context, zl zerolog.Logger, logger billing.Logger, metrics billing.Metrics) error {
	pg, err := postgres.New(ctx, postgres.Config{
		ConnectionString: os.Getenv("DATABASE_URL"),
		MaxConns:         int32(envInt("DATABASE_MAX_CONNS", 10)),
		MinConns:         int32(envInt("DATABASE_MIN_CONNS", 2)),
		MaxConnLifetime:  time.Hour,
		MaxConnIdleTime:  30 * time.Minute,
	})
	if err != nil {
		return err
	}
	defer pg.Close()

	var store billing.Storage = pg
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return err
		}
		store = cached.New(pg, redis.NewClient(opts), cached.DefaultConfig(), logger)
		zl.Info().Msg("plan catalog cache enabled")
	}

	var identity billing.IdentityProvider
	var notifier billing.Notifier
	if platformURL := os.Getenv("PLATFORM_URL"); platformURL != "" {
		client, err := platform.NewClient(platform.Config{
			BaseURL: platformURL,
			APIKey:  os.Getenv("PLATFORM_API_KEY"),
		})
		if err != nil {
			return err
		}
		identity, notifier = client, client
	} else {
		zl.Warn().Msg("PLATFORM_URL not set; account auto-provisioning disabled")
	}

	resolver := billing.NewResolver(store, identity, notifier, logger, billing.ResolverConfig{
		MaxAttempts:     envInt("PROVISION_MAX_ATTEMPTS", 5),
		Backoff:         envDuration("PROVISION_BACKOFF", 500*time.Millisecond),
		DefaultPassword: envOr("PROVISION_DEFAULT_PASSWORD", "gravyx-temp-2024"),
	})

	cancellationPolicy := billing.ReclaimTrialOnly
	if os.Getenv("CANCELLATION_RECLAIMS_ALL") == "true" {
		cancellationPolicy = billing.ReclaimAll
	}

	processor, err := billing.NewProcessor(billing.ProcessorConfig{
		Store:              store,
		Parser:             reference.NewDefaultParser(nil),
		Resolver:           resolver,
		Logger:             logger,
		Metrics:            metrics,
		CancellationPolicy: cancellationPolicy,
	})
	if err != nil {
		return err
	}

	var gateways []billing.Gateway
	var checkout api.CheckoutFunc

	if key := os.Getenv("STRIPE_API_KEY"); key != "" {
		sp, err := stripegw.NewProvider(stripegw.Config{
			Processor:     processor,
			APIKey:        key,
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    envOr("CHECKOUT_SUCCESS_URL", "https://app.gravyx.com/billing/success"),
			CancelURL:     envOr("CHECKOUT_CANCEL_URL", "https://app.gravyx.com/billing/cancel"),
			Logger:        logger,
			Metrics:       metrics,
		})
		if err != nil {
			return err
		}
		gateways = append(gateways, sp)
		checkout = func(ctx context.Context, plan *billing.Plan, ref, userID, email string, amountCents int64) (string, error) {
			return sp.CheckoutURL(ctx, stripegw.CheckoutParams{
				Plan:        plan,
				AmountCents: amountCents,
				Reference:   ref,
				UserID:      userID,
				Email:       email,
			})
		}
	}

	if token := os.Getenv("ASAAS_WEBHOOK_TOKEN"); token != "" {
		ap, err := asaas.NewProvider(asaas.Config{
			Processor:    processor,
			WebhookToken: token,
			APIKey:       os.Getenv("ASAAS_API_KEY"),
			BaseURL:      os.Getenv("ASAAS_BASE_URL"),
			Logger:       logger,
			Metrics:      metrics,
		})
		if err != nil {
			return err
		}
		gateways = append(gateways, ap)

		// Asaas payment links serve checkout when Stripe is absent or
		// when CHECKOUT_GATEWAY selects Asaas explicitly.
		if os.Getenv("ASAAS_API_KEY") != "" &&
			(checkout == nil || envOr("CHECKOUT_GATEWAY", "stripe") == "asaas") {
			checkout = func(ctx context.Context, plan *billing.Plan, ref, _, _ string, amountCents int64) (string, error) {
				return ap.CheckoutURL(ctx, plan, ref, amountCents)
			}
		}
	}

	if token := os.Getenv("TICTO_WEBHOOK_TOKEN"); token != "" {
		tp, err := ticto.NewProvider(ticto.Config{
			Processor:    processor,
			WebhookToken: token,
			Logger:       logger,
			Metrics:      metrics,
		})
		if err != nil {
			return err
		}
		gateways = append(gateways, tp)
	}

	if len(gateways) == 0 {
		zl.Warn().Msg("no payment gateways configured")
	}

	handler, err := api.NewHandler(api.Config{
		Store:        store,
		Processor:    processor,
		Coupons:      billing.NewCoupons(store),
		Gateways:     gateways,
		Checkout:     checkout,
		Authenticate: bearerAuthenticator(os.Getenv("API_AUTH_SECRET")),
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              envOr("LISTEN_ADDR", ":8080"),
		Handler:           api.NewRouter(handler, gateways),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go runTrialDrip(ctx, zl, store, logger, metrics)

	errCh := make(chan error, 1)
	go func() {
		zl.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runTrialDrip runs the drip once at startup and then on a fixed interval.
// Reconciliation toward the expected total makes overlap with a previous
// deployment's run harmless.
func runTrialDrip(ctx context.Context, zl zerolog.Logger, store billing.Storage, logger billing.Logger, metrics billing.Metrics) {
	drip := billing.NewTrialDrip(store, logger, metrics, envInt("TRIAL_DRIP_CONCURRENCY", 8))
	interval := envDuration("TRIAL_DRIP_INTERVAL", time.Hour)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := drip.Run(ctx); err != nil {
			zl.Error().Err(err).Msg("trial drip run failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// bearerAuthenticator is the deployment seam for platform auth. The
// platform terminates user sessions and forwards identity in trusted
// headers; the shared bearer secret keeps the hop honest.
func bearerAuthenticator(secret string) api.Authenticator {
	return func(r *http.Request) (*api.Identity, error) {
		if secret == "" || r.Header.Get("Authorization") != "Bearer "+secret {
			return nil, errors.New("invalid credentials")
		}
		userID := r.Header.Get("X-Gravyx-User-Id")
		if userID == "" {
			return nil, errors.New("missing user identity")
		}
		return &api.Identity{
			ID:    userID,
			Email: r.Header.Get("X-Gravyx-User-Email"),
			Admin: r.Header.Get("X-Gravyx-User-Role") == "admin",
		}, nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
