package main

import (
	"log"
	"time"

	"affiliate-gateway/internal/api"
	"affiliate-gateway/internal/config"
	"affiliate-gateway/internal/database"
	"affiliate-gateway/internal/metrics"
	"affiliate-gateway/internal/middleware"
	"affiliate-gateway/internal/services"
	"affiliate-gateway/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging()

	// Initialize metrics
	metrics.Init()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.CloseDatabase()

	cfg := config.AppConfig
	db := database.GetDB()

	// Background maintenance
	database.StartRetentionWorker(db)

	// Wire services
	tenants := services.NewTenantService(db, database.GetRedis(), cfg.VerificationMaxAttempts)
	limiter := services.NewRateLimitService(db, cfg.EscalationThreshold,
		time.Duration(cfg.EscalationWindowHours)*time.Hour)
	dispatcher := services.NewWebhookDispatcher(tenants,
		time.Duration(cfg.WebhookTimeoutSeconds)*time.Second,
		cfg.WebhookMaxFailures, cfg.WebhookQueueSize)
	dispatcher.Start()
	defer dispatcher.Stop()

	alerts := services.NewAlertService()
	usage := services.NewUsageRecorder(db)
	gateway := services.NewGatewayService(tenants, limiter, dispatcher, usage, alerts)
	verification := services.NewVerificationService(tenants, dispatcher, alerts,
		services.DefaultProvers(), cfg.VerificationMaxAttempts)

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	// Coarse per-IP flood guard in front of everything
	r.Use(middleware.NewIPThrottle(cfg.IPThrottlePerMinute).Handler())

	// Setup routes
	api.SetupRoutes(r, &api.API{
		DB:           db,
		Gateway:      gateway,
		Tenants:      tenants,
		Verification: verification,
	})

	// Start server
	logging.Infof("Starting server on port %s", cfg.Port)

	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
