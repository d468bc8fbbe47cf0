package http

import (
	"crypto/rsa"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/seat-inventory/internal/idempotency"
	"github.com/robertarktes/seat-inventory/internal/observability"
	"github.com/robertarktes/seat-inventory/internal/rateLimit"
)

// SetupRouter wires the public API. rl and idemp may be nil.
func SetupRouter(h *Handlers, logger observability.Logger, key *rsa.PublicKey, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(key))
		r.Use(RateLimitMiddleware(rl))
		r.Use(IdempotencyMiddleware(idemp, logger))

		r.Post("/v1/reservations", h.CreateReservation)
		r.Post("/v1/reservations/{id}/cancel", h.CancelReservation)
		r.Post("/v1/seats/{id}/hold", h.HoldSeat)
		r.Post("/v1/seats/{id}/select", h.SelectSeat)
		r.Delete("/v1/holds", h.ReleaseHold)
		r.Get("/v1/seats/{id}", h.GetSeat)
	})

	return r
}
