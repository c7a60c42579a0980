package config

import (
	"errors"  // For validation errors
	"fmt"     // For DSN formatting
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"strings" // For list parsing
	"time"    // For durations

	"github.com/joho/godotenv" // For loading .env files
)

// Public Sepolia endpoints tried after the primary RPC URL
var defaultRPCFallbacks = []string{
	"https://rpc.sepolia.org",
	"https://eth-sepolia.public.blastapi.io",
	"https://ethereum-sepolia-rpc.publicnode.com",
	"https://sepolia.gateway.tenderly.co",
}

// Config holds the application configuration
type Config struct {
	AppPort  string // Application port
	IsProd   bool   // Is production environment
	LogLevel string // Logrus level name

	DBDriver    string // mysql or postgres
	DatabaseURL string // Full DSN, overrides the DB_* parts
	DBUser      string // Database user
	DBPassword  string // Database password
	DBHost      string // Database host
	DBPort      string // Database port
	DBName      string // Database name

	RedisAddr string // Redis server address, empty disables Redis
	RedisPass string // Redis password
	RedisDB   int    // Redis database number

	FirebaseProjectID string // Identity provider project
	EncryptionKey     string // 64 hex chars, AES-256 key for custodial keys

	RPCURL          string        // Primary Sepolia RPC endpoint
	RPCFallbackURLs []string      // Tried in order when the primary fails
	FactoryAddress  string        // Deployed campaign factory
	ChainID         int64         // 0 means ask the node
	ReceiptTimeout  time.Duration // How long to wait for a mined receipt

	CronSecret   string // Bearer secret for the batch endpoints
	CronSchedule string // Optional in-process schedule, robfig/cron syntax
	InitSecret   string // Header secret for /api/init in production

	RateLimit   int           // Requests per window per client IP
	RateWindow  time.Duration // Rate limit window
	CORSOrigins []string      // Allowed origins, empty allows any
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	chainID, _ := strconv.ParseInt(os.Getenv("CHAIN_ID"), 10, 64)
	return &Config{
		AppPort:  getEnv("APP_PORT", "8080"),
		IsProd:   os.Getenv("IS_PROD") == "true",
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBDriver:    getEnv("DB_DRIVER", "mysql"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBUser:      os.Getenv("DB_USER"),
		DBPassword:  os.Getenv("DB_PASSWORD"),
		DBHost:      os.Getenv("DB_HOST"),
		DBPort:      os.Getenv("DB_PORT"),
		DBName:      os.Getenv("DB_NAME"),

		RedisAddr: os.Getenv("REDIS_ADDR"),
		RedisPass: os.Getenv("REDIS_PASS"),
		RedisDB:   redisDB,

		FirebaseProjectID: os.Getenv("FIREBASE_PROJECT_ID"),
		EncryptionKey:     os.Getenv("ENCRYPTION_KEY"),

		RPCURL:          os.Getenv("SEPOLIA_RPC_URL"),
		RPCFallbackURLs: getList("RPC_FALLBACK_URLS", defaultRPCFallbacks),
		FactoryAddress:  os.Getenv("CAMPAIGN_FACTORY_ADDRESS"),
		ChainID:         chainID,
		ReceiptTimeout:  getSeconds("RECEIPT_TIMEOUT_SECONDS", 120),

		CronSecret:   getEnv("CRON_SECRET", defaultCronSecret),
		CronSchedule: os.Getenv("CRON_SCHEDULE"),
		InitSecret:   os.Getenv("INIT_SECRET"),

		RateLimit:   getInt("API_RATE_LIMIT", 60),
		RateWindow:  getSeconds("API_RATE_WINDOW_SECONDS", 60),
		CORSOrigins: getList("CORS_ORIGINS", nil),
	}
}

// defaultCronSecret is only acceptable outside production
const defaultCronSecret = "default-cron-secret"

// Validate reports every required setting that is missing or malformed
func (c *Config) Validate() error {
	var errs []error
	if c.FirebaseProjectID == "" {
		errs = append(errs, errors.New("FIREBASE_PROJECT_ID is required"))
	}
	if len(c.EncryptionKey) != 64 {
		errs = append(errs, errors.New("ENCRYPTION_KEY must be 64 hex characters"))
	}
	if c.FactoryAddress == "" {
		errs = append(errs, errors.New("CAMPAIGN_FACTORY_ADDRESS is required"))
	}
	if c.RPCURL == "" && len(c.RPCFallbackURLs) == 0 {
		errs = append(errs, errors.New("SEPOLIA_RPC_URL or RPC_FALLBACK_URLS is required"))
	}
	if c.DBDriver != "mysql" && c.DBDriver != "postgres" {
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	if c.DatabaseURL == "" && c.DBHost == "" {
		errs = append(errs, errors.New("DATABASE_URL or DB_HOST is required"))
	}
	if c.IsProd && (c.CronSecret == "" || c.CronSecret == defaultCronSecret) {
		errs = append(errs, errors.New("CRON_SECRET must be set in production"))
	}
	return errors.Join(errs...)
}

// DSN builds the data source name for the configured driver
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBDriver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
	}
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true&loc=UTC"
}

// RPCURLs returns the primary endpoint followed by the fallbacks, without duplicates
func (c *Config) RPCURLs() []string {
	seen := make(map[string]bool)
	var urls []string
	for _, u := range append([]string{c.RPCURL}, c.RPCFallbackURLs...) {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getSeconds(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Second
}

func getList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
