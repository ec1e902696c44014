package main

import (
	"log"
	"time"

	"voucher-api/internal/api"
	"voucher-api/internal/config"
	"voucher-api/internal/credential"
	"voucher-api/internal/database"
	"voucher-api/internal/kvstore"
	"voucher-api/internal/services"
	"voucher-api/internal/token"
	"voucher-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Resolve configuration; missing signing material fails here, loudly
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	// Initialize logging
	logging.InitLogging(cfg.Mode)

	// Connect the relational store
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	if err := database.SeedDefaultData(db); err != nil {
		log.Fatal("Failed to seed database: ", err)
	}

	// Connect the key-value store, degrading to in-process if Redis is down
	store := kvstore.Connect(cfg.RedisURL, cfg.UseRedis)

	// Build the signing primitives
	codec := token.NewCodec(cfg.VoucherSecret, time.Duration(cfg.TokenMaxAgeHours)*time.Hour)
	issuer, err := credential.NewIssuer(cfg.JWTPrivateKeyPEM)
	if err != nil {
		log.Fatal("Failed to parse credential signing key: ", err)
	}
	verifier, err := credential.NewVerifier(cfg.JWTPublicKeyPEM)
	if err != nil {
		log.Fatal("Failed to parse credential verification key: ", err)
	}

	// Wire the services
	grace := time.Duration(cfg.GraceSeconds) * time.Second
	guard := services.NewReplayGuard(store)
	limiter := services.NewRateLimiter(store, cfg.RateLimit, time.Duration(cfg.RateWindowSeconds)*time.Second)
	notifier := services.NewWebhookNotifier(db)
	redeemer := services.NewRedeemer(db, codec, issuer, guard, limiter, notifier, grace)
	access := services.NewContentAccess(db, verifier, guard)
	voucherIssuer := services.NewVoucherIssuer(db, codec, cfg.BaseURL)

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, api.NewHandler(redeemer, access, voucherIssuer), cfg.AdminAPIKey)

	// Start server
	logging.Infof("Starting server on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
