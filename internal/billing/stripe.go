package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lexreach/tierbilling/internal/models"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	ProductID     string
	Currency      string
	// Timeout bounds each platform call.
	Timeout time.Duration
}

// StripePlatform implements Platform on the Stripe API.
type StripePlatform struct {
	sc            *stripe.Client
	webhookSecret string
	productID     string
	currency      string
	timeout       time.Duration
}

func NewStripePlatform(cfg StripeConfig) *StripePlatform {
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StripePlatform{
		sc:            stripe.NewClient(cfg.SecretKey),
		webhookSecret: cfg.WebhookSecret,
		productID:     cfg.ProductID,
		currency:      currency,
		timeout:       timeout,
	}
}

func (s *StripePlatform) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// classify tags client errors Stripe will keep rejecting so webhook
// processing stops retrying them. Rate limiting stays retryable.
func classify(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		code := serr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", ErrPlatformRejected, err)
		}
	}
	return err
}

func (s *StripePlatform) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Limit = stripe.Int64(1)
	for c, err := range s.sc.V1Customers.List(ctx, params) {
		if err != nil {
			return nil, classify(err)
		}
		return &Customer{ID: c.ID, Email: c.Email}, nil
	}
	return nil, nil
}

func (s *StripePlatform) CreateCustomer(ctx context.Context, email string) (*Customer, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	c, err := s.sc.V1Customers.Create(ctx, &stripe.CustomerCreateParams{Email: stripe.String(email)})
	if err != nil {
		return nil, classify(err)
	}
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

func (s *StripePlatform) HasSubscriptionInStatus(ctx context.Context, customerID string, statuses ...models.SubscriptionStatus) (bool, error) {
	for _, status := range statuses {
		found, err := s.hasSubscription(ctx, customerID, status)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

func (s *StripePlatform) hasSubscription(ctx context.Context, customerID string, status models.SubscriptionStatus) (bool, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(stripeStatus(status)),
	}
	params.Limit = stripe.Int64(1)
	for _, err := range s.sc.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return false, classify(err)
		}
		return true, nil
	}
	return false, nil
}

func (s *StripePlatform) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSession, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionCreateParams{
		Customer: stripe.String(p.CustomerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		Metadata:   p.Metadata,
	}
	if p.TrialPeriodDays > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(int64(p.TrialPeriodDays)),
		}
	}

	cs, err := s.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	return toCheckoutSession(cs), nil
}

func (s *StripePlatform) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	cs, err := s.sc.V1CheckoutSessions.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, classify(err)
	}
	return toCheckoutSession(cs), nil
}

func (s *StripePlatform) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	ps, err := s.sc.V1BillingPortalSessions.Create(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return nil, classify(err)
	}
	return &PortalSession{ID: ps.ID, URL: ps.URL}, nil
}

func (s *StripePlatform) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	sub, err := s.sc.V1Subscriptions.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, classify(err)
	}
	return toSubscription(sub), nil
}

func (s *StripePlatform) UpdateSubscription(ctx context.Context, id string, u SubscriptionUpdate) (*Subscription, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	params := &stripe.SubscriptionUpdateParams{
		ProrationBehavior: stripe.String("none"),
		Metadata:          u.Metadata,
	}
	if u.PriceID != "" {
		params.Items = []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(u.ItemID),
				Price: stripe.String(u.PriceID),
			},
		}
	}
	// Stripe rejects trial ends in the past.
	if u.TrialEnd != nil && u.TrialEnd.After(time.Now()) {
		params.TrialEnd = stripe.Int64(u.TrialEnd.Unix())
	}

	sub, err := s.sc.V1Subscriptions.Update(ctx, id, params)
	if err != nil {
		return nil, classify(err)
	}
	return toSubscription(sub), nil
}

func (s *StripePlatform) FindActivePrice(ctx context.Context, lookupKey string) (*Price, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	params := &stripe.PriceListParams{
		Active:     stripe.Bool(true),
		LookupKeys: []*string{stripe.String(lookupKey)},
	}
	if s.productID != "" {
		params.Product = stripe.String(s.productID)
	}
	params.Limit = stripe.Int64(1)
	for p, err := range s.sc.V1Prices.List(ctx, params) {
		if err != nil {
			return nil, classify(err)
		}
		return &Price{ID: p.ID, Amount: p.UnitAmount, LookupKey: p.LookupKey}, nil
	}
	return nil, nil
}

func (s *StripePlatform) CreatePrice(ctx context.Context, lookupKey string, amount int64) (*Price, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	p, err := s.sc.V1Prices.Create(ctx, &stripe.PriceCreateParams{
		Product:    stripe.String(s.productID),
		Currency:   stripe.String(s.currency),
		UnitAmount: stripe.Int64(amount),
		LookupKey:  stripe.String(lookupKey),
		Recurring: &stripe.PriceCreateRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	return &Price{ID: p.ID, Amount: p.UnitAmount, LookupKey: p.LookupKey}, nil
}

func (s *StripePlatform) RetrieveInvoice(ctx context.Context, id string) (*Invoice, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	inv, err := s.sc.V1Invoices.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, classify(err)
	}
	out := &Invoice{ID: inv.ID, AmountPaid: inv.AmountPaid, AmountDue: inv.AmountDue}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return out, nil
}

func (s *StripePlatform) ConstructEvent(payload []byte, signature string) (*RawEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	raw := &RawEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data != nil {
		raw.Data = event.Data.Raw
	}
	return raw, nil
}

func toCheckoutSession(cs *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            cs.ID,
		URL:           cs.URL,
		Mode:          string(cs.Mode),
		Status:        string(cs.Status),
		PaymentStatus: string(cs.PaymentStatus),
		Metadata:      cs.Metadata,
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		out.SubscriptionID = cs.Subscription.ID
	}
	return out
}

func toSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:        sub.ID,
		Status:    ledgerStatus(sub.Status),
		StartedAt: time.Unix(sub.StartDate, 0).UTC(),
		Metadata:  sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		end := time.Unix(sub.TrialEnd, 0).UTC()
		out.TrialEnd = &end
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			out.PriceID = item.Price.ID
			out.Amount = item.Price.UnitAmount
		}
	}
	return out
}

// Stripe spells the terminal status "canceled".
func ledgerStatus(status stripe.SubscriptionStatus) models.SubscriptionStatus {
	if status == stripe.SubscriptionStatusCanceled {
		return models.SubscriptionStatusCancelled
	}
	return models.SubscriptionStatus(status)
}

func stripeStatus(status models.SubscriptionStatus) string {
	if status == models.SubscriptionStatusCancelled {
		return string(stripe.SubscriptionStatusCanceled)
	}
	return string(status)
}
