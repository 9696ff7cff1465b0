package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lexreach/tierbilling/internal/db"
	"github.com/lexreach/tierbilling/internal/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type PostgresStore struct {
	db    bun.IDB
	root  *bun.DB
	locks *keyedMutex
	inTx  bool
}

func NewPostgresStore(connectionString string, opts ...db.Option) (*PostgresStore, error) {
	store := NewStore(db.NewBunPostgresClient(connectionString, opts...))

	ctx := context.Background()
	if err := store.InitializeDatabase(ctx); err != nil {
		store.root.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// NewStore wraps an already opened bun database.
func NewStore(bdb *bun.DB) *PostgresStore {
	return &PostgresStore{db: bdb, root: bdb, locks: newKeyedMutex()}
}

func (s *PostgresStore) InitializeDatabase(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*models.SubscriptionLedger)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create attorney_subscriptions table: %w", err)
	}

	_, err = s.db.NewCreateTable().
		Model((*models.ProcessedEventDB)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create webhook_events table: %w", err)
	}

	_, err = s.db.NewCreateIndex().
		Model((*models.SubscriptionLedger)(nil)).
		Index("idx_attorney_subscriptions_attorney_id").
		Column("attorney_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create attorney_id index: %w", err)
	}

	_, err = s.db.NewCreateIndex().
		Model((*models.SubscriptionLedger)(nil)).
		Index("idx_attorney_subscriptions_status").
		Column("status").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, externalSubscriptionID string) (*models.SubscriptionLedger, error) {
	var entry models.SubscriptionLedger
	err := s.db.NewSelect().
		Model(&entry).
		Where("external_subscription_id = ?", externalSubscriptionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) Create(ctx context.Context, entry *models.SubscriptionLedger) (bool, error) {
	now := time.Now()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	res, err := s.db.NewInsert().
		Model(entry).
		On("CONFLICT (external_subscription_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to create ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Update(ctx context.Context, entry *models.SubscriptionLedger) error {
	entry.UpdatedAt = time.Now()
	res, err := s.db.NewUpdate().
		Model(entry).
		ExcludeColumn("created_at").
		Where("external_subscription_id = ?", entry.ExternalSubscriptionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update ledger entry: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) RecordPayment(ctx context.Context, externalSubscriptionID string, status models.PaymentStatus, amount int64, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*models.SubscriptionLedger)(nil)).
		Set("last_payment_status = ?", status).
		Set("last_payment_amount = ?", amount).
		Set("last_payment_date = ?", at).
		Set("updated_at = ?", time.Now()).
		Where("external_subscription_id = ?", externalSubscriptionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) WithSubscriptionLock(ctx context.Context, externalSubscriptionID string, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	unlock := s.locks.Lock(externalSubscriptionID)
	defer unlock()

	return s.root.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Other server replicas serialize on the same key.
		if s.root.Dialect().Name() == dialect.PG {
			if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", externalSubscriptionID); err != nil {
				return fmt.Errorf("failed to acquire subscription lock: %w", err)
			}
		}
		return fn(ctx, &PostgresStore{db: tx, root: s.root, locks: s.locks, inTx: true})
	})
}

func (s *PostgresStore) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*models.ProcessedEventDB)(nil)).
		Where("event_id = ?", eventID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.NewInsert().
		Model(&models.ProcessedEventDB{
			EventID:     eventID,
			EventType:   eventType,
			ProcessedAt: time.Now(),
		}).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.inTx {
		return nil
	}
	return s.root.Close()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
