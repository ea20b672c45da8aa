package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gravyx/billing/pkg/billing"
)

// NewRouter mounts the full HTTP surface: one webhook endpoint per
// configured gateway, the authenticated API endpoints and the
// operational probes.
func NewRouter(h *Handler, gateways []billing.Gateway) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	for _, gw := range gateways {
		r.Method(http.MethodPost, "/webhooks/"+gw.Name(), gw.WebhookHandler())
	}

	r.Post("/v1/checkout", h.handleCheckout)
	r.Post("/v1/admin/refund", h.handleAdminRefund)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
