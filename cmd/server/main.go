package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexreach/tierbilling/internal/api"
	"github.com/lexreach/tierbilling/internal/billing"
	"github.com/lexreach/tierbilling/internal/config"
	"github.com/lexreach/tierbilling/internal/db"
	"github.com/lexreach/tierbilling/internal/ledger"
	"github.com/lexreach/tierbilling/internal/logger"
	"github.com/lexreach/tierbilling/internal/waitlist"
)

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}

	bunDB := db.NewBunPostgresClient(cfg.DatabaseURL, db.WithMaxOpenConns(cfg.DBMaxOpenConns))
	defer bunDB.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	store := ledger.NewStore(bunDB)
	if err := store.InitializeDatabase(initCtx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize ledger tables")
	}
	waitlistRepo := waitlist.NewPostgresRepository(bunDB)
	if err := waitlistRepo.InitializeDatabase(initCtx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize waitlist table")
	}
	cancelInit()

	platform := billing.NewStripePlatform(billing.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		ProductID:     cfg.StripeProductID,
		Currency:      cfg.BillingCurrency,
		Timeout:       cfg.StripeTimeout,
	})
	catalog := billing.NewPriceCatalog(platform)
	scheduler := billing.NewPhaseScheduler(catalog, platform)
	orchestrator := billing.NewCheckoutOrchestrator(platform, catalog, store, cfg.FrontendURL)
	processor := billing.NewWebhookProcessor(platform, store, scheduler)
	resolver := waitlist.NewResolver(waitlistRepo)

	router := api.SetupRoutes(
		api.NewBillingHandler(resolver, orchestrator),
		api.NewWebhookHandler(processor, cfg.WebhookTimeout),
		bunDB,
		cfg.FrontendURL,
	)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WebhookTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	logger.Log.Info().Str("addr", cfg.ServerAddr).Msg("Server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log.Fatal().Err(err).Msg("Server failed to start")
	}

	logger.Log.Info().Msg("Server stopped")
}
