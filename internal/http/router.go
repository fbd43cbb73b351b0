package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/store-service/internal/metrics"
	"github.com/fjod/go_cart/store-service/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Store          StoreService
	Carts          service.CartService
	Ping           func(ctx context.Context) error
	Log            *zap.Logger
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	checkoutHandler := NewCheckoutHandler(cfg.Store, log)
	ordersHandler := NewOrdersHandler(cfg.Store, log)
	cartHandler := NewCartHandler(cfg.Carts, log)
	webhookHandler := NewWebhookHandler(cfg.Store, log)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log, cfg.Metrics))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ping != nil {
			if err := cfg.Ping(r.Context()); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", cfg.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// called by the payment gateway, not by buyers
		r.Post("/payments/webhook", webhookHandler.PaymentNotification)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware)

			r.Post("/checkout", checkoutHandler.Checkout)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordersHandler.ListOrders)
				r.Get("/{order_id}", ordersHandler.GetOrder)
				r.Get("/{order_id}/status", ordersHandler.GetOrderStatus)
				r.Post("/{order_id}/payment", checkoutHandler.RetryPayment)
			})
		})
	})

	return otelhttp.NewHandler(r, "store-service")
}
