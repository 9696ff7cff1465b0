package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is satisfied by *bun.DB and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func SetupRoutes(billingHandler *BillingHandler, webhookHandler *WebhookHandler, db Pinger, frontendURL string) *mux.Router {
	r := mux.NewRouter()

	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", healthHandler(db)).Methods("GET")

	// Stripe calls this directly, so it sits outside CORS.
	r.HandleFunc("/api/v1/payments/webhook", webhookHandler.HandleWebhook).Methods("POST")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(CORSMiddleware(frontendURL))
	v1.HandleFunc("/discount-tiers", billingHandler.GetDiscountTier).Methods("POST", "OPTIONS")
	v1.HandleFunc("/payments/checkout", billingHandler.CreateCheckout).Methods("POST", "OPTIONS")
	v1.HandleFunc("/payments/verify", billingHandler.VerifyPayment).Methods("GET", "OPTIONS")

	return r
}
