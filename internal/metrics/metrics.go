package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook deliveries by event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tierbilling",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tierbilling",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// PhaseTransitionsTotal counts subscriptions moved onto a new billing phase.
	PhaseTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tierbilling",
		Name:      "phase_transitions_total",
		Help:      "Billing phase transitions by target phase index.",
	}, []string{"phase"})

	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tierbilling",
		Name:      "checkout_sessions_total",
		Help:      "Billing sessions handed out, by mode (checkout or portal).",
	}, []string{"mode"})

	PriceLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tierbilling",
		Name:      "price_lookups_total",
		Help:      "Price catalog resolutions by result (found or created).",
	}, []string{"result"})
)
