package main

import (
	"context"
	"log"
	"time"

	"billing-verify/internal/api"
	"billing-verify/internal/config"
	"billing-verify/internal/database"
	"billing-verify/internal/ratelimit"
	"billing-verify/internal/services"
	"billing-verify/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}
	cfg := config.AppConfig

	// Initialize logging
	logging.InitLogging()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.CloseDatabase()

	// Initialize Google Play verifier
	verifier, err := services.NewGooglePlayVerifier(
		context.Background(),
		cfg.GoogleServiceAccount,
		time.Duration(cfg.GoogleTimeoutSeconds)*time.Second,
		cfg.GoogleRetries,
	)
	if err != nil {
		log.Fatal("Failed to initialize Google Play verifier:", err)
	}

	// Wire the verification pipeline
	limiter := ratelimit.NewSlidingWindow(60 * time.Second)
	store := database.NewVerificationStore(database.GetDB())
	cache := services.NewOutcomeCache(database.GetRedis(), time.Duration(cfg.CacheTTLMinutes)*time.Minute)
	verifyService := services.NewVerifyService(cfg, limiter, verifier, store, cache, services.NewWebhookNotifier())

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, api.NewHandler(verifyService))

	// Start server
	port := cfg.Port
	logging.Infof("Starting server on port %s", port)

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
