package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lexreach/tierbilling/internal/ledger"
	"github.com/lexreach/tierbilling/internal/logger"
	"github.com/lexreach/tierbilling/internal/logging"
	"github.com/lexreach/tierbilling/internal/models"
)

// Checkout session metadata keys.
const (
	metaAttorneyID       = "attorneyId"
	metaSubscriptionData = "subscriptionData"
)

// CheckoutMetadata is what a checkout session carries forward to the
// completion webhook.
type CheckoutMetadata struct {
	DiscountTier      *DiscountTier `json:"discountTier"`
	OriginalBasePrice int64         `json:"originalBasePrice"`
	TrialMonths       int           `json:"trialMonths"`
}

func parseCheckoutMetadata(md map[string]string) (string, *CheckoutMetadata, error) {
	attorneyID := md[metaAttorneyID]
	raw := md[metaSubscriptionData]
	if attorneyID == "" || raw == "" {
		return "", nil, fmt.Errorf("%w: session lacks %s or %s", ErrMissingMetadata, metaAttorneyID, metaSubscriptionData)
	}
	var data CheckoutMetadata
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return "", nil, fmt.Errorf("%w: malformed %s: %v", ErrMissingMetadata, metaSubscriptionData, err)
	}
	if data.OriginalBasePrice <= 0 {
		return "", nil, fmt.Errorf("%w: originalBasePrice must be positive", ErrMissingMetadata)
	}
	return attorneyID, &data, nil
}

// WebhookProcessor applies verified platform events to the ledger and the
// subscription's phase schedule.
type WebhookProcessor struct {
	platform  Platform
	store     ledger.Store
	scheduler *PhaseScheduler
}

func NewWebhookProcessor(platform Platform, store ledger.Store, scheduler *PhaseScheduler) *WebhookProcessor {
	return &WebhookProcessor{platform: platform, store: store, scheduler: scheduler}
}

// HandleWebhookEvent verifies and processes one delivery. A returned error
// other than ErrInvalidSignature means the delivery should be retried.
func (p *WebhookProcessor) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := p.VerifyEvent(payload, signature)
	if err != nil {
		return err
	}
	return p.Process(ctx, event)
}

func (p *WebhookProcessor) VerifyEvent(payload []byte, signature string) (Event, error) {
	raw, err := p.platform.ConstructEvent(payload, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	event, err := DecodeEvent(raw)
	if err != nil {
		// A signed payload we cannot read will not improve on redelivery.
		logger.Log.Error().Err(err).Str("event_id", raw.ID).Str("event_type", raw.Type).Msg("undecodable webhook event")
		return &UnhandledEvent{eventHeader: eventHeader{ID: raw.ID, Type: raw.Type, Created: raw.Created}}, nil
	}
	return event, nil
}

func (p *WebhookProcessor) Process(ctx context.Context, event Event) error {
	logging.EnrichWebhook(ctx, event.EventID(), event.EventType())

	if _, ok := event.(*UnhandledEvent); ok {
		return nil
	}

	done, err := p.store.EventProcessed(ctx, event.EventID())
	if err != nil {
		return err
	}
	if done {
		logging.EnrichMetadata(ctx, "duplicate_delivery", true)
		return nil
	}

	if err := p.dispatch(ctx, event); err != nil {
		if !IsPermanent(err) {
			logging.EnrichError(ctx, err, event.EventType())
			return err
		}
		logging.EnrichError(ctx, err, event.EventType())
		logging.EnrichAcknowledged(ctx)
		logger.Log.Warn().Err(err).
			Str("event_id", event.EventID()).
			Str("event_type", event.EventType()).
			Msg("webhook event acknowledged without processing")
		return nil
	}

	if err := p.store.MarkEventProcessed(ctx, event.EventID(), event.EventType()); err != nil {
		logger.Log.Warn().Err(err).Str("event_id", event.EventID()).Msg("failed to record processed event")
	}
	return nil
}

// IsPermanent reports whether redelivering the event cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) ||
		errors.Is(err, ledger.ErrNotFound) ||
		errors.Is(err, ErrMissingMetadata) ||
		errors.Is(err, ErrPlatformRejected)
}

func (p *WebhookProcessor) dispatch(ctx context.Context, event Event) error {
	switch e := event.(type) {
	case *CheckoutCompletedEvent:
		return p.handleCheckoutCompleted(ctx, e)
	case *SubscriptionUpdatedEvent:
		return p.handleSubscriptionUpdated(ctx, e)
	case *SubscriptionDeletedEvent:
		return p.handleSubscriptionDeleted(ctx, e)
	case *InvoicePaidEvent:
		return p.recordPayment(ctx, e.InvoiceID, e.SubscriptionID, models.PaymentStatusSucceeded, e.AmountPaid, e)
	case *InvoicePaymentFailedEvent:
		return p.recordPayment(ctx, e.InvoiceID, e.SubscriptionID, models.PaymentStatusFailed, e.AmountDue, e)
	}
	return nil
}

func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, e *CheckoutCompletedEvent) error {
	if e.Mode != checkoutModeSubscription || e.SubscriptionID == "" {
		return nil
	}
	logging.EnrichSubscription(ctx, e.SubscriptionID)

	attorneyID, data, err := parseCheckoutMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("checkout session %s: %w", e.SessionID, err)
	}
	logging.EnrichAttorney(ctx, attorneyID)

	return p.store.WithSubscriptionLock(ctx, e.SubscriptionID, func(ctx context.Context, tx ledger.Store) error {
		if _, err := tx.Get(ctx, e.SubscriptionID); err == nil {
			return nil
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		sub, err := p.platform.RetrieveSubscription(ctx, e.SubscriptionID)
		if err != nil {
			return fmt.Errorf("failed to retrieve subscription %s: %w", e.SubscriptionID, err)
		}

		cursor, err := ParseCursor(sub.Metadata)
		if err != nil {
			return permanent(fmt.Errorf("subscription %s: %w", sub.ID, err))
		}

		var plan *AppliedPlan
		if cursor != nil {
			// An earlier attempt installed the plan but did not write the ledger.
			plan, err = p.scheduler.Rebuild(ctx, sub, data.OriginalBasePrice, data.DiscountTier)
		} else {
			plan, err = p.scheduler.BuildAndApply(ctx, sub, data.OriginalBasePrice, data.DiscountTier)
		}
		if err != nil {
			return err
		}

		entry := InitialLedgerEntry(attorneyID, data.OriginalBasePrice, plan)
		if _, err := tx.Create(ctx, entry); err != nil {
			return err
		}
		logging.EnrichSync(ctx, "created", 0)
		return nil
	})
}

func (p *WebhookProcessor) handleSubscriptionUpdated(ctx context.Context, e *SubscriptionUpdatedEvent) error {
	logging.EnrichSubscription(ctx, e.SubscriptionID)

	return p.store.WithSubscriptionLock(ctx, e.SubscriptionID, func(ctx context.Context, tx ledger.Store) error {
		entry, err := tx.Get(ctx, e.SubscriptionID)
		if err != nil {
			return fmt.Errorf("subscription %s: %w", e.SubscriptionID, err)
		}
		if entry.Status.Terminal() {
			logging.EnrichSync(ctx, "terminal", 0)
			return nil
		}
		logging.EnrichAttorney(ctx, entry.AttorneyID)

		sub, err := p.platform.RetrieveSubscription(ctx, e.SubscriptionID)
		if err != nil {
			return fmt.Errorf("failed to retrieve subscription %s: %w", e.SubscriptionID, err)
		}
		if sub.Status == models.SubscriptionStatusCancelled {
			entry.Status = models.SubscriptionStatusCancelled
			return tx.Update(ctx, entry)
		}

		result, err := p.scheduler.Sync(ctx, entry, sub)
		if err != nil {
			return err
		}
		phase := 0
		if result.Cursor != nil {
			phase = result.Cursor.PhaseIndex
		}
		logging.EnrichSync(ctx, string(result.Outcome), phase)

		return tx.Update(ctx, entry)
	})
}

func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, e *SubscriptionDeletedEvent) error {
	logging.EnrichSubscription(ctx, e.SubscriptionID)

	return p.store.WithSubscriptionLock(ctx, e.SubscriptionID, func(ctx context.Context, tx ledger.Store) error {
		entry, err := tx.Get(ctx, e.SubscriptionID)
		if err != nil {
			return fmt.Errorf("subscription %s: %w", e.SubscriptionID, err)
		}
		if entry.Status.Terminal() {
			return nil
		}
		entry.Status = models.SubscriptionStatusCancelled
		return tx.Update(ctx, entry)
	})
}

func (p *WebhookProcessor) recordPayment(ctx context.Context, invoiceID, subscriptionID string, status models.PaymentStatus, amount int64, e Event) error {
	if subscriptionID == "" && invoiceID != "" {
		inv, err := p.platform.RetrieveInvoice(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("failed to retrieve invoice %s: %w", invoiceID, err)
		}
		subscriptionID = inv.SubscriptionID
	}
	if subscriptionID == "" {
		return nil
	}
	logging.EnrichSubscription(ctx, subscriptionID)

	return p.store.WithSubscriptionLock(ctx, subscriptionID, func(ctx context.Context, tx ledger.Store) error {
		if err := tx.RecordPayment(ctx, subscriptionID, status, amount, e.OccurredAt()); err != nil {
			return fmt.Errorf("subscription %s: %w", subscriptionID, err)
		}
		return nil
	})
}
