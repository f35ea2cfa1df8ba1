package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

// HTTPMetrics is implemented by the prometheus collector.
type HTTPMetrics interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

type RouterConfig struct {
	Logger    *slog.Logger
	Verifier  ports.TokenVerifier
	Metrics   HTTPMetrics
	Readiness func(ctx context.Context) error
}

func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	auth := authenticator{verifier: cfg.Verifier}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Readiness != nil {
			if err := cfg.Readiness(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
				return
			}
		}
		writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/referrals/{code}", handler.resolveReferral)
		r.Get("/promo-codes/{code}/validate", handler.validatePromoCode)

		r.With(auth.optional).Post("/admin/payouts/run", handler.runPayouts)

		r.Group(func(r chi.Router) {
			r.Use(auth.require)
			r.Post("/attributions", handler.signupAttribution)

			r.Get("/affiliates/{affiliate_id}/promo-codes", handler.listPromoCodes)
			r.Post("/affiliates/{affiliate_id}/promo-codes", handler.createPromoCode)
			r.Patch("/promo-codes/{promo_code_id}", handler.updatePromoCode)
			r.Delete("/promo-codes/{promo_code_id}", handler.deletePromoCode)

			r.Get("/affiliates/{affiliate_id}/balance", handler.getBalance)
			r.Get("/affiliates/{affiliate_id}/payouts", handler.listAffiliatePayouts)

			r.Post("/admin/attributions", handler.createAttribution)
			r.Get("/admin/attributions", handler.listAttributions)
			r.Put("/admin/affiliates/{affiliate_id}", handler.upsertAffiliate)
			r.Post("/admin/ledger/accruals", handler.createAccrual)
			r.Get("/admin/payouts", handler.listPayouts)
		})
	})
	return r
}
