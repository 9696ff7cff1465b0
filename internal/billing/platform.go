package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lexreach/tierbilling/internal/models"
)

type Customer struct {
	ID    string
	Email string
}

type Price struct {
	ID        string
	Amount    int64
	LookupKey string
}

// Subscription is the slice of a platform subscription the engine reads.
// Item and period fields come from the single subscription item.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           models.SubscriptionStatus
	ItemID           string
	PriceID          string
	Amount           int64
	StartedAt        time.Time
	CurrentPeriodEnd time.Time
	TrialEnd         *time.Time
	Metadata         map[string]string
}

type CheckoutSession struct {
	ID             string
	URL            string
	Mode           string
	Status         string
	PaymentStatus  string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
}

type PortalSession struct {
	ID  string
	URL string
}

type Invoice struct {
	ID             string
	SubscriptionID string
	AmountPaid     int64
	AmountDue      int64
}

type CheckoutSessionParams struct {
	CustomerID      string
	PriceID         string
	TrialPeriodDays int
	SuccessURL      string
	CancelURL       string
	Metadata        map[string]string
}

// SubscriptionUpdate changes a subscription without proration. Zero
// fields are left untouched.
type SubscriptionUpdate struct {
	ItemID   string
	PriceID  string
	TrialEnd *time.Time
	Metadata map[string]string
}

// RawEvent is a verified platform event whose payload is not decoded yet.
type RawEvent struct {
	ID      string
	Type    string
	Created time.Time
	Data    json.RawMessage
}

// Platform is the payment platform as seen by the billing engine.
type Platform interface {
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, email string) (*Customer, error)
	HasSubscriptionInStatus(ctx context.Context, customerID string, statuses ...models.SubscriptionStatus) (bool, error)

	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)

	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id string, update SubscriptionUpdate) (*Subscription, error)

	FindActivePrice(ctx context.Context, lookupKey string) (*Price, error)
	CreatePrice(ctx context.Context, lookupKey string, amount int64) (*Price, error)

	RetrieveInvoice(ctx context.Context, id string) (*Invoice, error)

	ConstructEvent(payload []byte, signature string) (*RawEvent, error)
}
