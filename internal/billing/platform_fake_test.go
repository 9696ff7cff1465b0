package billing

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/lexreach/tierbilling/internal/models"
)

const testWebhookSecret = "whsec_test_secret"

// fakePlatform is an in-memory payment platform. Signature checks go
// through the real Stripe verifier.
type fakePlatform struct {
	mu sync.Mutex

	customers     map[string]*Customer // by email
	liveCustomers map[string]bool
	prices        map[string]*Price // by lookup key
	subs          map[string]*Subscription
	sessions      map[string]*CheckoutSession
	invoices      map[string]*Invoice

	checkoutParams []CheckoutSessionParams
	updates        []SubscriptionUpdate
	priceCreates   int
	calls          int

	updateErr  error
	retrieveFn func(id string) error

	verifier *StripePlatform
	seq      int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		customers:     make(map[string]*Customer),
		liveCustomers: make(map[string]bool),
		prices:        make(map[string]*Price),
		subs:          make(map[string]*Subscription),
		sessions:      make(map[string]*CheckoutSession),
		invoices:      make(map[string]*Invoice),
		verifier:      NewStripePlatform(StripeConfig{SecretKey: "sk_test_unused", WebhookSecret: testWebhookSecret}),
	}
}

func (f *fakePlatform) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakePlatform) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.customers[email], nil
}

func (f *fakePlatform) CreateCustomer(ctx context.Context, email string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	c := &Customer{ID: f.nextID("cus"), Email: email}
	f.customers[email] = c
	return c, nil
}

func (f *fakePlatform) HasSubscriptionInStatus(ctx context.Context, customerID string, statuses ...models.SubscriptionStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.liveCustomers[customerID], nil
}

func (f *fakePlatform) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.checkoutParams = append(f.checkoutParams, p)
	id := f.nextID("cs")
	cs := &CheckoutSession{
		ID:         id,
		URL:        "https://checkout.stripe.test/" + id,
		Mode:       checkoutModeSubscription,
		CustomerID: p.CustomerID,
		Metadata:   p.Metadata,
	}
	f.sessions[id] = cs
	return cs, nil
}

func (f *fakePlatform) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	cs, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such checkout session %s", ErrPlatformRejected, id)
	}
	out := *cs
	return &out, nil
}

func (f *fakePlatform) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id := f.nextID("bps")
	return &PortalSession{ID: id, URL: returnURL + "#portal-" + id}, nil
}

func (f *fakePlatform) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.retrieveFn != nil {
		if err := f.retrieveFn(id); err != nil {
			return nil, err
		}
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such subscription %s", ErrPlatformRejected, id)
	}
	return cloneSub(sub), nil
}

func (f *fakePlatform) UpdateSubscription(ctx context.Context, id string, u SubscriptionUpdate) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such subscription %s", ErrPlatformRejected, id)
	}
	f.updates = append(f.updates, u)

	if u.PriceID != "" {
		sub.PriceID = u.PriceID
		for _, p := range f.prices {
			if p.ID == u.PriceID {
				sub.Amount = p.Amount
			}
		}
	}
	if u.TrialEnd != nil {
		end := *u.TrialEnd
		sub.TrialEnd = &end
	}
	if u.Metadata != nil {
		if sub.Metadata == nil {
			sub.Metadata = make(map[string]string)
		}
		maps.Copy(sub.Metadata, u.Metadata)
	}
	return cloneSub(sub), nil
}

func (f *fakePlatform) FindActivePrice(ctx context.Context, lookupKey string) (*Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.prices[lookupKey], nil
}

func (f *fakePlatform) CreatePrice(ctx context.Context, lookupKey string, amount int64) (*Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.priceCreates++
	p := &Price{ID: "price_" + lookupKey, Amount: amount, LookupKey: lookupKey}
	f.prices[lookupKey] = p
	return p, nil
}

func (f *fakePlatform) RetrieveInvoice(ctx context.Context, id string) (*Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	inv, ok := f.invoices[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such invoice %s", ErrPlatformRejected, id)
	}
	return inv, nil
}

func (f *fakePlatform) ConstructEvent(payload []byte, signature string) (*RawEvent, error) {
	return f.verifier.ConstructEvent(payload, signature)
}

// addSubscription registers a subscription as checkout would have created it.
func (f *fakePlatform) addSubscription(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.ID] = sub
}

// rollPeriod moves a subscription into its next monthly billing period.
func (f *fakePlatform) rollPeriod(id string, status models.SubscriptionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.subs[id]
	sub.Status = status
	sub.CurrentPeriodEnd = AddCalendarMonths(sub.CurrentPeriodEnd, 1)
}

func (f *fakePlatform) subscription(id string) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneSub(f.subs[id])
}

func cloneSub(s *Subscription) *Subscription {
	out := *s
	out.Metadata = maps.Clone(s.Metadata)
	if s.TrialEnd != nil {
		end := *s.TrialEnd
		out.TrialEnd = &end
	}
	return &out
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
