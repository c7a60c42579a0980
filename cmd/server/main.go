package main

import (
	"context"   // context package is needed for Redis operations and shutdown
	"errors"    // Error matching
	"net/http"  // HTTP server
	"os"        // Signals
	"os/signal" // Signal notification
	"syscall"   // SIGTERM
	"time"      // Timeouts

	"crowdfunding/internal/api"        // Custom package for API handlers
	"crowdfunding/internal/campaigns"  // Campaign enrichment
	"crowdfunding/internal/chain"      // Contract client
	"crowdfunding/internal/config"     // Custom package for configuration
	"crowdfunding/internal/custody"    // Custodial wallets
	"crowdfunding/internal/db"         // Database connection
	"crowdfunding/internal/identity"   // ID token verification
	"crowdfunding/internal/settlement" // Withdrawals

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/robfig/cron/v3"    // In-process scheduler
	"github.com/sirupsen/logrus"   // Logrus for structured logging
)

var version = "dev" // Set with -ldflags "-X main.version=..."

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}

	// Connect to the database
	gdb, err := db.Open(cfg.DBDriver, cfg.DSN(), !cfg.IsProd)
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}

	// Setup Redis client; without REDIS_ADDR caching, locks and rate limits are off
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr, // Redis server address
			Password: cfg.RedisPass, // Redis password
			DB:       cfg.RedisDB,   // Redis database number
		})
		// Test Redis connection
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			logrus.Fatalf("failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logrus.Warn("REDIS_ADDR not set, running without cache")
	}

	vault, err := custody.NewVault(cfg.EncryptionKey)
	if err != nil {
		logrus.Fatalf("invalid encryption key: %v", err)
	}

	ethClient, err := chain.NewEthClient(chain.Options{
		URLs:           cfg.RPCURLs(),
		FactoryAddress: cfg.FactoryAddress,
		ChainID:        cfg.ChainID,
		ReceiptTimeout: cfg.ReceiptTimeout,
	})
	if err != nil {
		logrus.Fatalf("failed to set up chain client: %v", err)
	}
	defer ethClient.Close()

	verifier := identity.NewVerifier(cfg.FirebaseProjectID, identity.NewGoogleKeySource("", nil))
	settler := settlement.NewProcessor(gdb, redisClient, ethClient, vault)
	enricher := campaigns.NewEnricher(gdb, redisClient, ethClient, settler)

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewRouter(api.Deps{
		DB:       gdb,
		Redis:    redisClient,
		Chain:    ethClient,
		Vault:    vault,
		Verifier: verifier,
		Settler:  settler,
		Enricher: enricher,
		Config:   cfg,
		Version:  version,
	})
	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	// Optional in-process batch; external schedulers use /api/cron/process-campaigns
	var scheduler *cron.Cron
	if cfg.CronSchedule != "" {
		scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger()))))
		_, err := scheduler.AddFunc(cfg.CronSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			report, err := settler.ProcessExpired(ctx)
			if err != nil {
				logrus.WithError(err).Error("scheduled campaign processing failed")
				return
			}
			logrus.WithField("processed", report.Processed).Info("scheduled campaign processing finished")
		})
		if err != nil {
			logrus.Fatalf("invalid CRON_SCHEDULE %q: %v", cfg.CronSchedule, err)
		}
		scheduler.Start()
		logrus.WithField("schedule", cfg.CronSchedule).Info("campaign processing scheduled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.Info("Server running on " + cfg.AppPort) // Log server start
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down")

	if scheduler != nil {
		<-scheduler.Stop().Done() // Let a running batch finish
	}
	// Transactions already sent keep waiting for receipts, so allow for a full receipt timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ReceiptTimeout+10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("forced shutdown: %v", err)
	}
}
