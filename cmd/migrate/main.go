package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lexreach/tierbilling/internal/config"
	"github.com/lexreach/tierbilling/internal/db"
	"github.com/lexreach/tierbilling/migrations"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"
)

var migrator *migrate.Migrator

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the billing database schema",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		bunDB := db.NewBunPostgresClient(cfg.DatabaseURL, db.WithMaxOpenConns(2))
		migrator = migrate.NewMigrator(bunDB, migrations.Migrations)
		if err := migrator.Init(cmd.Context()); err != nil {
			return fmt.Errorf("failed to initialize migrator: %w", err)
		}
		return nil
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := migrator.Lock(ctx); err != nil {
			return err
		}
		defer migrator.Unlock(ctx) //nolint:errcheck

		group, err := migrator.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if group.IsZero() {
			fmt.Println("No new migrations to run (database is up to date)")
			return nil
		}
		fmt.Printf("Migrated to %s\n", group)
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the last migration group",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := migrator.Lock(ctx); err != nil {
			return err
		}
		defer migrator.Unlock(ctx) //nolint:errcheck

		group, err := migrator.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		if group.IsZero() {
			fmt.Println("No migrations to rollback")
			return nil
		}
		fmt.Printf("Rolled back %s\n", group)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ms, err := migrator.MigrationsWithStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		fmt.Println("Migrations:")
		for _, m := range ms {
			status := "pending"
			if m.IsApplied() {
				status = "applied"
			}
			fmt.Printf("  %s: %s\n", m.Name, status)
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create new SQL migration files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := migrator.CreateTxSQLMigrations(cmd.Context(), strings.Join(args, "_"))
		if err != nil {
			return fmt.Errorf("failed to create migration: %w", err)
		}
		for _, f := range files {
			fmt.Printf("Created migration: %s\n", f.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(upCmd, downCmd, statusCmd, createCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
