package migrations

import (
	"context"
	"fmt"

	"github.com/lexreach/tierbilling/internal/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			for _, model := range []any{
				(*models.SubscriptionLedger)(nil),
				(*models.ProcessedEventDB)(nil),
				(*models.WaitlistEntryDB)(nil),
			} {
				if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
					return fmt.Errorf("failed to create table for %T: %w", model, err)
				}
			}

			indexes := []struct {
				model  any
				name   string
				column string
			}{
				{(*models.SubscriptionLedger)(nil), "idx_attorney_subscriptions_attorney_id", "attorney_id"},
				{(*models.SubscriptionLedger)(nil), "idx_attorney_subscriptions_status", "status"},
				{(*models.WaitlistEntryDB)(nil), "idx_waitlist_position", "waitlist_position"},
			}
			for _, idx := range indexes {
				if _, err := tx.NewCreateIndex().
					Model(idx.model).
					Index(idx.name).
					Column(idx.column).
					IfNotExists().
					Exec(ctx); err != nil {
					return fmt.Errorf("failed to create index %s: %w", idx.name, err)
				}
			}
			return nil
		})
	}, func(ctx context.Context, db *bun.DB) error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			for _, model := range []any{
				(*models.WaitlistEntryDB)(nil),
				(*models.ProcessedEventDB)(nil),
				(*models.SubscriptionLedger)(nil),
			} {
				if _, err := tx.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
					return fmt.Errorf("failed to drop table for %T: %w", model, err)
				}
			}
			return nil
		})
	})
}
