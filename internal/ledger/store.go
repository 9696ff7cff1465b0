package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/lexreach/tierbilling/internal/models"
)

var ErrNotFound = errors.New("subscription ledger entry not found")

// Store persists the subscription ledger and the processed webhook event log.
type Store interface {
	Get(ctx context.Context, externalSubscriptionID string) (*models.SubscriptionLedger, error)
	// Create inserts the entry unless one exists for the same subscription.
	Create(ctx context.Context, entry *models.SubscriptionLedger) (bool, error)
	Update(ctx context.Context, entry *models.SubscriptionLedger) error
	RecordPayment(ctx context.Context, externalSubscriptionID string, status models.PaymentStatus, amount int64, at time.Time) error

	// WithSubscriptionLock runs fn while holding the exclusive lock for one
	// subscription. fn must use the Store it is handed.
	WithSubscriptionLock(ctx context.Context, externalSubscriptionID string, fn func(ctx context.Context, tx Store) error) error

	EventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error

	Close() error
}
