package waitlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lexreach/tierbilling/internal/models"
	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("waitlist entry not found")

type Repository interface {
	GetByEmail(ctx context.Context, email string) (*models.WaitlistEntry, error)
	Upsert(ctx context.Context, entry *models.WaitlistEntry) error
}

type PostgresRepository struct {
	db *bun.DB
}

func NewPostgresRepository(db *bun.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InitializeDatabase(ctx context.Context) error {
	_, err := r.db.NewCreateTable().
		Model((*models.WaitlistEntryDB)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create waitlist table: %w", err)
	}

	_, err = r.db.NewCreateIndex().
		Model((*models.WaitlistEntryDB)(nil)).
		Index("idx_waitlist_position").
		Column("waitlist_position").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create waitlist_position index: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.WaitlistEntry, error) {
	entryDB := new(models.WaitlistEntryDB)
	err := r.db.NewSelect().
		Model(entryDB).
		Where("email = ?", email).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}
	return entryDB.ToWaitlistEntry(), nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, entry *models.WaitlistEntry) error {
	entryDB := models.WaitlistEntryFromDomain(entry)
	entryDB.CreatedAt = time.Now()
	_, err := r.db.NewInsert().
		Model(entryDB).
		On("CONFLICT (email) DO UPDATE").
		Set("waitlist_position = EXCLUDED.waitlist_position").
		Set("licenses = EXCLUDED.licenses").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert waitlist entry: %w", err)
	}
	return nil
}
