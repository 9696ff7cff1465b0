package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lexreach/tierbilling/internal/ledger"
	"github.com/lexreach/tierbilling/internal/metrics"
	"github.com/lexreach/tierbilling/internal/models"
)

type SessionMode string

const (
	SessionModeCheckout SessionMode = "checkout"
	SessionModePortal   SessionMode = "portal"
)

// liveStatuses block a second subscription for the same customer.
var liveStatuses = []models.SubscriptionStatus{
	models.SubscriptionStatusActive,
	models.SubscriptionStatusTrialing,
	models.SubscriptionStatusPastDue,
}

type CheckoutRequest struct {
	CustomerEmail string        `json:"customerEmail" validate:"required,email"`
	AttorneyID    string        `json:"attorneyId" validate:"required"`
	BasePrice     int64         `json:"basePrice" validate:"gt=0"`
	DiscountTier  *DiscountTier `json:"discountTier"`
}

type CheckoutResult struct {
	SessionID string      `json:"sessionId"`
	URL       string      `json:"url"`
	Mode      SessionMode `json:"mode"`
}

type SessionStatus struct {
	Session      *CheckoutSession           `json:"session"`
	Subscription *Subscription              `json:"subscription"`
	Ledger       *models.SubscriptionLedger `json:"ledger,omitempty"`
}

type CheckoutOrchestrator struct {
	platform    Platform
	catalog     *PriceCatalog
	store       ledger.Store
	validate    *validator.Validate
	frontendURL string
	now         func() time.Time
}

func NewCheckoutOrchestrator(platform Platform, catalog *PriceCatalog, store ledger.Store, frontendURL string) *CheckoutOrchestrator {
	return &CheckoutOrchestrator{
		platform:    platform,
		catalog:     catalog,
		store:       store,
		validate:    validator.New(),
		frontendURL: strings.TrimRight(frontendURL, "/"),
		now:         time.Now,
	}
}

// InitialPrice is the first recurring amount charged: the second-year
// discount when the tier has one, else its additional discount.
func InitialPrice(basePrice int64, tier *DiscountTier) int64 {
	return ApplyPercentOff(basePrice, tier.InitialDiscountPercent())
}

// StartOrResumeBilling returns a hosted checkout session for a new
// subscriber, or a billing portal session when the customer already has a
// live subscription.
func (o *CheckoutOrchestrator) StartOrResumeBilling(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := o.validate.StructCtx(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	customer, err := o.platform.FindCustomerByEmail(ctx, req.CustomerEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}

	if customer != nil {
		live, err := o.platform.HasSubscriptionInStatus(ctx, customer.ID, liveStatuses...)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions for customer %s: %w", customer.ID, err)
		}
		if live {
			portal, err := o.platform.CreatePortalSession(ctx, customer.ID, o.frontendURL)
			if err != nil {
				return nil, fmt.Errorf("failed to create billing portal session: %w", err)
			}
			metrics.CheckoutSessionsTotal.WithLabelValues(string(SessionModePortal)).Inc()
			return &CheckoutResult{SessionID: portal.ID, URL: portal.URL, Mode: SessionModePortal}, nil
		}
	} else {
		customer, err = o.platform.CreateCustomer(ctx, req.CustomerEmail)
		if err != nil {
			return nil, fmt.Errorf("failed to create customer: %w", err)
		}
	}

	initial := InitialPrice(req.BasePrice, req.DiscountTier)
	kind := PriceKindBase
	if initial < req.BasePrice {
		kind = PriceKindDiscount
	}
	price, err := o.catalog.GetOrCreatePrice(ctx, initial, kind)
	if err != nil {
		return nil, err
	}

	trialMonths := 0
	if req.DiscountTier != nil {
		trialMonths = req.DiscountTier.TrialMonths
	}

	data, err := json.Marshal(CheckoutMetadata{
		DiscountTier:      req.DiscountTier,
		OriginalBasePrice: req.BasePrice,
		TrialMonths:       trialMonths,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscription metadata: %w", err)
	}

	session, err := o.platform.CreateCheckoutSession(ctx, CheckoutSessionParams{
		CustomerID:      customer.ID,
		PriceID:         price.ID,
		TrialPeriodDays: TrialPeriodDays(o.now(), trialMonths),
		SuccessURL:      o.frontendURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:       o.frontendURL + "/cancel",
		Metadata: map[string]string{
			metaAttorneyID:       req.AttorneyID,
			metaSubscriptionData: string(data),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	metrics.CheckoutSessionsTotal.WithLabelValues(string(SessionModeCheckout)).Inc()
	return &CheckoutResult{SessionID: session.ID, URL: session.URL, Mode: SessionModeCheckout}, nil
}

// SessionStatus looks up a completed checkout session and the subscription
// it created. The ledger row is attached once the completion webhook has
// been processed.
func (o *CheckoutOrchestrator) SessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	session, err := o.platform.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session %s: %w", sessionID, err)
	}
	if session.SubscriptionID == "" {
		return nil, ErrNoSubscription
	}

	sub, err := o.platform.RetrieveSubscription(ctx, session.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription %s: %w", session.SubscriptionID, err)
	}

	status := &SessionStatus{Session: session, Subscription: sub}
	entry, err := o.store.Get(ctx, sub.ID)
	switch {
	case err == nil:
		status.Ledger = entry
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, err
	}
	return status, nil
}
