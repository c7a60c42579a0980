package api

import (
	"crowdfunding/internal/campaigns"  // Campaign enrichment
	"crowdfunding/internal/chain"      // Contract client
	"crowdfunding/internal/config"     // Configuration
	"crowdfunding/internal/custody"    // Custodial wallets
	"crowdfunding/internal/domain"     // Roles
	"crowdfunding/internal/identity"   // ID token verification
	"crowdfunding/internal/middleware" // Custom middleware
	"crowdfunding/internal/settlement" // Withdrawals

	"github.com/gin-gonic/gin"                                // Gin web framework
	"github.com/prometheus/client_golang/prometheus/promhttp" // Metrics endpoint
	"github.com/redis/go-redis/v9"                            // Redis client
	"gorm.io/gorm"                                            // GORM ORM library
)

// Deps are the services the HTTP handlers share. Redis may be nil.
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Chain    chain.Client
	Vault    *custody.Vault
	Verifier identity.TokenVerifier
	Settler  *settlement.Processor
	Enricher *campaigns.Enricher
	Config   *config.Config
	Version  string
}

// NewRouter builds the gin engine with every route of the service
func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), middleware.Metrics(), middleware.CORS(cfg.CORSOrigins))

	// Probes and metrics
	health := NewHealthHandler(d.DB, d.Redis, d.Version)
	r.GET("/health", health.Health)    // Quick check
	r.GET("/healthz", health.Liveness) // Liveness probe
	r.GET("/readyz", health.Readiness) // Readiness probe
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/init", InitDatabaseHandler(d.DB, cfg.IsProd, cfg.InitSecret)) // Schema setup

	authn := middleware.IdentityAuthMiddleware(d.Verifier) // Verifies the ID token
	loadUser := middleware.LoadUserMiddleware(d.DB)        // Loads the user row
	creatorOnly := middleware.RequireRole(domain.RoleCreator, "Only creators can perform this action")

	// Sign-in
	auth := api.Group("/auth")
	auth.Use(middleware.RedisRateLimit(d.Redis, "auth", cfg.RateLimit, cfg.RateWindow))
	auth.POST("/firebase", FirebaseAuthHandler(d.DB, d.Vault, d.Verifier)) // Sign in or sign up

	// User routes (protected)
	user := api.Group("/user", authn, loadUser)
	user.GET("/profile", ProfileHandler())     // Profile endpoint
	user.GET("/stats", UserStatsHandler(d.DB)) // Statistics endpoint

	// Wallet routes (protected)
	wallet := api.Group("/wallet", authn, loadUser)
	wallet.GET("/balance", WalletBalanceHandler(d.Redis, d.Chain))      // Balance of stored address
	wallet.GET("/check-balance", CheckBalanceHandler(d.Chain, d.Vault)) // Balance from stored key

	// Blockchain routes (protected, rate limited)
	bc := api.Group("/blockchain",
		middleware.RedisRateLimit(d.Redis, "blockchain", cfg.RateLimit, cfg.RateWindow), authn, loadUser)
	bc.POST("/create-campaign", creatorOnly, CreateCampaignHandler(d.DB, d.Chain, d.Vault))   // Deploy a campaign
	bc.POST("/estimate-gas", creatorOnly, EstimateCampaignGasHandler(d.DB, d.Chain, d.Vault)) // Gas for a deploy
	bc.POST("/contribute", ContributeHandler(d.DB, d.Redis, d.Chain, d.Vault, d.Settler))     // Contribute ETH
	bc.POST("/refund", RefundHandler(d.Redis, d.Chain, d.Vault))                              // Refund a failed campaign
	bc.POST("/withdraw", creatorOnly, WithdrawHandler(d.DB, d.Settler))                       // Manual withdrawal

	// Campaign routes
	cmp := api.Group("/campaigns")
	cmp.GET("", ListCampaignsHandler(d.DB, d.Enricher))                                   // Active campaigns
	cmp.GET("/user", authn, loadUser, UserCampaignsHandler(d.DB, d.Enricher))             // Caller's campaigns
	cmp.GET("/:address", CampaignHandler(d.DB, d.Enricher))                               // One campaign
	cmp.GET("/:address/contributions", CampaignContributionsHandler(d.DB))                // Contributions to it
	cmp.GET("/:address/my-contribution", authn, loadUser, MyContributionHandler(d.Chain)) // Caller's contribution
	cmp.POST("/process-expired", middleware.CronSecretMiddleware(cfg.CronSecret), ProcessExpiredHandler(d.Settler))

	api.GET("/contributions", authn, loadUser, ContributionHistoryHandler(d.DB, d.Redis)) // Contribution history

	// Scheduler entry point
	cron := api.Group("/cron", middleware.CronSecretMiddleware(cfg.CronSecret))
	cron.GET("/process-campaigns", CronProcessCampaignsHandler(d.Settler))
	cron.POST("/process-campaigns", CronProcessCampaignsHandler(d.Settler))

	return r
}
