package httpx

import (
	"context"
	"net/http"
	"time"

	"paygate/internal/http/handlers"
	middlewarex "paygate/internal/http/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDependencies holds all dependencies for the HTTP router
type RouterDependencies struct {
	AdminToken string
	Payments   handlers.PaymentService
	Refunds    handlers.RefundService
	Callbacks  handlers.CallbackVerifier
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Ping reports storage health when set.
	Ping func(ctx context.Context) error
}

func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middlewarex.RequestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", health(deps.Ping))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Public, authenticated by the callback mac.
	r.Post("/webhooks/zalopay", handlers.ZaloPayCallback(deps.Callbacks))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarex.AdminAuth(deps.AdminToken))

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Post("/payment-session", handlers.CreatePaymentSession(deps.Payments))
			r.Post("/payment-sync", handlers.SyncPayment(deps.Payments))
			r.Post("/refunds", handlers.CreateRefund(deps.Refunds))
			r.Get("/refunds", handlers.ListRefunds(deps.Refunds))
		})
		r.Post("/refunds/{refundID}/query", handlers.QueryRefund(deps.Refunds))
	})

	return r
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
	}
}
