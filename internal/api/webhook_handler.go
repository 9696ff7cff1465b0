package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/lexreach/tierbilling/internal/billing"
	"github.com/lexreach/tierbilling/internal/logging"
	"github.com/lexreach/tierbilling/internal/metrics"
)

const (
	maxWebhookBodyBytes = 1 << 20
	stripeSignature     = "Stripe-Signature"
)

type WebhookService interface {
	HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error
}

type WebhookHandler struct {
	processor WebhookService
	timeout   time.Duration
}

func NewWebhookHandler(processor WebhookService, timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{processor: processor, timeout: timeout}
}

// HandleWebhook answers 400 for deliveries that can never succeed and 500
// for failures Stripe should redeliver.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "ok"
	defer func() {
		eventType := "unknown"
		if event := logging.FromContext(r.Context()); event != nil && event.StripeEventType != "" {
			eventType = event.StripeEventType
		}
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, status).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		status = "bad_request"
		logging.EnrichError(r.Context(), err, "read_body")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}

	signature := r.Header.Get(stripeSignature)
	if signature == "" {
		status = "invalid_signature"
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing Stripe-Signature header"})
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	if err := h.processor.HandleWebhookEvent(ctx, payload, signature); err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			status = "invalid_signature"
			logging.EnrichError(r.Context(), err, "verify_signature")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid signature"})
			return
		}
		status = "error"
		logging.EnrichError(r.Context(), err, "process_event")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "webhook processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
