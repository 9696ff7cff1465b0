package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
	SubscriptionStatusCancelled         SubscriptionStatus = "cancelled"
)

// Terminal reports whether no further phase processing may happen.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCancelled
}

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// SubscriptionLedger is the internal mirror of one platform subscription.
// Amounts are in minor currency units.
type SubscriptionLedger struct {
	bun.BaseModel `bun:"table:attorney_subscriptions,alias:s"`

	ID                      uuid.UUID          `bun:"id,pk,type:uuid" json:"id"`
	AttorneyID              string             `bun:"attorney_id,notnull" json:"attorney_id"`
	ExternalSubscriptionID  string             `bun:"external_subscription_id,notnull,unique" json:"external_subscription_id"`
	Status                  SubscriptionStatus `bun:"status,notnull" json:"status"`
	BasePrice               int64              `bun:"base_price,notnull" json:"base_price"`
	OriginalBasePrice       int64              `bun:"original_base_price,notnull" json:"original_base_price"`
	CurrentPrice            int64              `bun:"current_price,notnull" json:"current_price"`
	NextPrice               *int64             `bun:"next_price" json:"next_price,omitempty"`
	NextPriceChangeAt       *time.Time         `bun:"next_price_change_at" json:"next_price_change_at,omitempty"`
	DiscountPercent         int                `bun:"discount_percent,notnull" json:"discount_percent"`
	RemainingDiscountMonths int                `bun:"remaining_discount_months,notnull" json:"remaining_discount_months"`
	TrialEndsAt             *time.Time         `bun:"trial_ends_at" json:"trial_ends_at,omitempty"`
	CurrentPeriodEnd        *time.Time         `bun:"current_period_end" json:"current_period_end,omitempty"`
	LastPaymentStatus       *PaymentStatus     `bun:"last_payment_status" json:"last_payment_status,omitempty"`
	LastPaymentAmount       *int64             `bun:"last_payment_amount" json:"last_payment_amount,omitempty"`
	LastPaymentDate         *time.Time         `bun:"last_payment_date" json:"last_payment_date,omitempty"`
	CreatedAt               time.Time          `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt               time.Time          `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// SamePeriodEnd compares the stored period end with t at second precision.
func (l *SubscriptionLedger) SamePeriodEnd(t time.Time) bool {
	if l.CurrentPeriodEnd == nil {
		return t.IsZero()
	}
	return l.CurrentPeriodEnd.Unix() == t.Unix()
}

type ProcessedEventDB struct {
	bun.BaseModel `bun:"table:webhook_events,alias:we"`

	EventID     string    `bun:"event_id,pk" json:"event_id"`
	EventType   string    `bun:"event_type,notnull" json:"event_type"`
	ProcessedAt time.Time `bun:"processed_at,notnull,default:current_timestamp" json:"processed_at"`
}
