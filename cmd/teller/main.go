package main

import (
	"context"
	"time"

	"teller/internal/handlers"
	"teller/internal/ledger"
	"teller/internal/matcher"
	"teller/internal/stripe"
	"teller/pkg/config"
	"teller/pkg/database"
	"teller/pkg/logging"
	"teller/pkg/monitoring"
	"teller/pkg/server"
	"teller/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("teller")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Teller (Payments & Metering API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	stripeKey := config.RequireEnv("STRIPE_SECRET_KEY")
	webhookSecret := config.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	successURL := config.GetEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success")
	cancelURL := config.GetEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/checkout/cancel")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.EnsureSchema(context.Background(), db); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("teller", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("teller", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":      dbURL,
		"STRIPE_SECRET_KEY": stripeKey,
	}))

	webhookEvents := metricsCollector.NewCounter("webhook_events_total", "Webhook events received", []string{"kind", "outcome"})
	meteringTasks := metricsCollector.NewCounter("metering_tasks_total", "Metering tasks completed", []string{"status"})

	// Payment gateway client
	gateway, err := stripe.NewClient(stripe.Config{
		SecretKey:  stripeKey,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Logger:     logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize payment gateway client")
	}

	store := ledger.NewStore(db, logger)

	processor := handlers.NewWebhookProcessor(handlers.WebhookProcessorConfig{
		Store:         store,
		Logger:        logger,
		SigningSecret: webhookSecret,
		Events:        webhookEvents,
	})
	checkout := handlers.NewCheckoutHandlers(store, gateway, logger)

	// Metering worker pool
	pool := matcher.NewPool(
		config.GetEnvInt("MATCHER_WORKERS", 4),
		config.GetEnvInt("MATCHER_QUEUE_SIZE", 64),
		matcher.TierOveragePolicy{Rate: matcher.DefaultRate},
		logger,
	)
	defer pool.Stop()

	matcherHandlers := handlers.NewMatcherHandlers(handlers.MatcherHandlersConfig{
		Pool:    pool,
		Logger:  logger,
		Timeout: time.Duration(config.GetEnvInt("MATCHER_TIMEOUT_SECONDS", 30)) * time.Second,
		Tasks:   meteringTasks,
	})

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "teller", healthChecker, metricsCollector)

	router.POST("/checkout/session", checkout.CreateSession)
	router.POST("/checkout/subscribe", checkout.Subscribe)
	router.POST("/checkout/subscribe/cancel", checkout.CancelSubscription)
	router.GET("/checkout/transactions", checkout.ListTransactions)
	router.GET("/checkout/subscriptions", checkout.ListSubscriptions)
	router.POST("/checkout/webhook", processor.HandleWebhook)
	router.POST("/matcher", matcherHandlers.Match)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("teller", "18080")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
