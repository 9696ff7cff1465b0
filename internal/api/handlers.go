package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/lexreach/tierbilling/internal/billing"
	"github.com/lexreach/tierbilling/internal/logger"
	"github.com/lexreach/tierbilling/internal/logging"
	"github.com/lexreach/tierbilling/internal/models"
)

type TierResolver interface {
	ResolveTier(ctx context.Context, email string, licenses []string) (*billing.DiscountTier, error)
}

type CheckoutService interface {
	StartOrResumeBilling(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
	SessionStatus(ctx context.Context, sessionID string) (*billing.SessionStatus, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps billing errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error, stage string) {
	logging.EnrichError(r.Context(), err, stage)

	status := http.StatusInternalServerError
	message := "internal server error"
	switch {
	case errors.Is(err, billing.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, billing.ErrNoSubscription):
		status, message = http.StatusNotFound, "checkout session has no subscription"
	case errors.Is(err, billing.ErrPlatformRejected):
		status, message = http.StatusBadGateway, "payment provider rejected the request"
	}
	writeJSON(w, status, errorResponse{Error: message})
}

type BillingHandler struct {
	resolver TierResolver
	checkout CheckoutService
}

func NewBillingHandler(resolver TierResolver, checkout CheckoutService) *BillingHandler {
	return &BillingHandler{resolver: resolver, checkout: checkout}
}

type DiscountTierRequest struct {
	Email    string   `json:"email"`
	Licenses []string `json:"licenses"`
}

type DiscountTierResponse struct {
	DiscountTier *billing.DiscountTier `json:"discountTier"`
}

func (h *BillingHandler) GetDiscountTier(w http.ResponseWriter, r *http.Request) {
	var req DiscountTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "email is required"})
		return
	}

	tier, err := h.resolver.ResolveTier(r.Context(), req.Email, req.Licenses)
	if err != nil {
		writeError(w, r, err, "resolve_tier")
		return
	}
	writeJSON(w, http.StatusOK, DiscountTierResponse{DiscountTier: tier})
}

type CreateCheckoutRequest struct {
	Email      string   `json:"email"`
	AttorneyID string   `json:"attorneyId"`
	BasePrice  int64    `json:"basePrice"`
	Licenses   []string `json:"licenses"`
}

type CreateCheckoutResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	URL       string `json:"url"`
	Mode      string `json:"mode"`
}

// CreateCheckout resolves the caller's tier server side and starts billing.
// Clients never choose their own discount.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	logging.EnrichAttorney(r.Context(), req.AttorneyID)

	var tier *billing.DiscountTier
	if req.Email != "" {
		var err error
		if tier, err = h.resolver.ResolveTier(r.Context(), req.Email, req.Licenses); err != nil {
			writeError(w, r, err, "resolve_tier")
			return
		}
	}
	if tier != nil {
		logging.EnrichMetadata(r.Context(), "discount_tier", tier.Name)
	}

	res, err := h.checkout.StartOrResumeBilling(r.Context(), billing.CheckoutRequest{
		CustomerEmail: req.Email,
		AttorneyID:    req.AttorneyID,
		BasePrice:     req.BasePrice,
		DiscountTier:  tier,
	})
	if err != nil {
		writeError(w, r, err, "checkout")
		return
	}

	writeJSON(w, http.StatusOK, CreateCheckoutResponse{
		SessionID: res.SessionID,
		URL:       res.URL,
		Mode:      string(res.Mode),
	})
}

type SubscriptionResponse struct {
	ID               string                    `json:"id"`
	Status           models.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time                `json:"currentPeriodEnd,omitempty"`
	TrialEnd         *time.Time                `json:"trialEnd,omitempty"`
}

type VerifyPaymentResponse struct {
	SessionID     string                     `json:"sessionId"`
	Status        string                     `json:"status"`
	PaymentStatus string                     `json:"paymentStatus"`
	Subscription  SubscriptionResponse       `json:"subscription"`
	Ledger        *models.SubscriptionLedger `json:"ledger,omitempty"`
}

func (h *BillingHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	status, err := h.checkout.SessionStatus(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err, "verify_payment")
		return
	}
	logging.EnrichSubscription(r.Context(), status.Subscription.ID)

	sub := SubscriptionResponse{
		ID:       status.Subscription.ID,
		Status:   status.Subscription.Status,
		TrialEnd: status.Subscription.TrialEnd,
	}
	if !status.Subscription.CurrentPeriodEnd.IsZero() {
		end := status.Subscription.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}

	writeJSON(w, http.StatusOK, VerifyPaymentResponse{
		SessionID:     status.Session.ID,
		Status:        status.Session.Status,
		PaymentStatus: status.Session.PaymentStatus,
		Subscription:  sub,
		Ledger:        status.Ledger,
	})
}
