package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

const checkoutModeSubscription = "subscription"

// Event is one of the webhook events the engine understands. The set is
// closed: anything else decodes to UnhandledEvent.
type Event interface {
	EventID() string
	EventType() string
	OccurredAt() time.Time
	webhookEvent()
}

type eventHeader struct {
	ID      string
	Type    string
	Created time.Time
}

func (h eventHeader) EventID() string       { return h.ID }
func (h eventHeader) EventType() string     { return h.Type }
func (h eventHeader) OccurredAt() time.Time { return h.Created }
func (eventHeader) webhookEvent()           {}

type CheckoutCompletedEvent struct {
	eventHeader
	SessionID      string
	Mode           string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
}

type SubscriptionUpdatedEvent struct {
	eventHeader
	SubscriptionID string
}

type SubscriptionDeletedEvent struct {
	eventHeader
	SubscriptionID string
}

type InvoicePaidEvent struct {
	eventHeader
	InvoiceID      string
	SubscriptionID string
	AmountPaid     int64
}

type InvoicePaymentFailedEvent struct {
	eventHeader
	InvoiceID      string
	SubscriptionID string
	AmountDue      int64
}

type UnhandledEvent struct {
	eventHeader
}

// expandableID accepts either a bare object id or an expanded object.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type checkoutSessionObject struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     expandableID      `json:"customer"`
	Subscription expandableID      `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID string `json:"id"`
}

type invoiceObject struct {
	ID           string       `json:"id"`
	Subscription expandableID `json:"subscription"`
	AmountPaid   int64        `json:"amount_paid"`
	AmountDue    int64        `json:"amount_due"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID reads the top-level field older API versions send, then
// the parent details newer ones use.
func (d *invoiceObject) subscriptionID() string {
	if d.Subscription != "" {
		return string(d.Subscription)
	}
	if d.Parent != nil && d.Parent.SubscriptionDetails != nil {
		return string(d.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

func parseEventData[T any](raw *RawEvent) (*T, error) {
	var data T
	if err := json.Unmarshal(raw.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", raw.Type, err)
	}
	return &data, nil
}

// DecodeEvent turns a verified raw event into its typed form.
func DecodeEvent(raw *RawEvent) (Event, error) {
	h := eventHeader{ID: raw.ID, Type: raw.Type, Created: raw.Created}

	switch raw.Type {
	case EventCheckoutCompleted:
		s, err := parseEventData[checkoutSessionObject](raw)
		if err != nil {
			return nil, err
		}
		return &CheckoutCompletedEvent{
			eventHeader:    h,
			SessionID:      s.ID,
			Mode:           s.Mode,
			CustomerID:     string(s.Customer),
			SubscriptionID: string(s.Subscription),
			Metadata:       s.Metadata,
		}, nil

	case EventSubscriptionUpdated:
		s, err := parseEventData[subscriptionObject](raw)
		if err != nil {
			return nil, err
		}
		return &SubscriptionUpdatedEvent{eventHeader: h, SubscriptionID: s.ID}, nil

	case EventSubscriptionDeleted:
		s, err := parseEventData[subscriptionObject](raw)
		if err != nil {
			return nil, err
		}
		return &SubscriptionDeletedEvent{eventHeader: h, SubscriptionID: s.ID}, nil

	case EventInvoicePaid:
		inv, err := parseEventData[invoiceObject](raw)
		if err != nil {
			return nil, err
		}
		return &InvoicePaidEvent{
			eventHeader:    h,
			InvoiceID:      inv.ID,
			SubscriptionID: inv.subscriptionID(),
			AmountPaid:     inv.AmountPaid,
		}, nil

	case EventInvoicePaymentFailed:
		inv, err := parseEventData[invoiceObject](raw)
		if err != nil {
			return nil, err
		}
		return &InvoicePaymentFailedEvent{
			eventHeader:    h,
			InvoiceID:      inv.ID,
			SubscriptionID: inv.subscriptionID(),
			AmountDue:      inv.AmountDue,
		}, nil
	}

	return &UnhandledEvent{eventHeader: h}, nil
}
