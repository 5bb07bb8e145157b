package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/keyshop-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса продажи ключей.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{reference}", h.CheckStatus)
		r.Get("/coupons/{code}", h.CheckCoupon)

		r.Group(func(r chi.Router) {
			r.Use(h.webhookAuth.Middleware)

			r.Post("/webhook/payment", h.PaymentWebhook)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
