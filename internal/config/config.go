// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Feed modes
const (
	FeedSynthetic = "synthetic"
	FeedMempool   = "mempool"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL    string // PostgreSQL connection string (optional, uses in-memory if not set)
	MigrateOnStart bool

	// Blockchain settings
	RPCURL  string
	WSURL   string // websocket endpoint for pending-transaction subscriptions
	ChainID int64

	// Detection
	FeedMode           string
	FeedInterval       time.Duration
	StaleAfter         time.Duration
	LedgerCapacity     int
	HighGasPriceGwei   int64
	LowGasPriceGwei    int64
	LargeValueETH      string
	DetectionThreshold int
	LossScale          float64

	// Private relay
	FlashbotsSignerKey string // Hex-encoded, with or without 0x prefix
	FlashbotsNetwork   string
	FlashbotsRelayURL  string

	// Event sinks
	KafkaBrokers []string
	KafkaTopic   string
	NATSURL      string
	NATSSubject  string

	// Price oracle
	PriceOracle    bool
	ETHUSDFallback float64

	// Security
	RateLimitRPM int
	CORSOrigins  []string

	// Tracing
	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultRPCURL             = "https://eth.llamarpc.com"
	DefaultChainID            = 1
	DefaultFeedInterval       = 3 * time.Second
	DefaultStaleAfter         = 30 * time.Second
	DefaultLedgerCapacity     = 50
	DefaultHighGasPriceGwei   = 100
	DefaultLowGasPriceGwei    = 10
	DefaultLargeValueETH      = "1"
	DefaultDetectionThreshold = 40
	MinDetectionThreshold     = 30 // lowest risk a classified threat can carry
	DefaultLossScale          = 1000
	DefaultFlashbotsNetwork   = "mainnet"
	DefaultKafkaTopic         = "mev-threats"
	DefaultNATSSubject        = "mev.threats"
	DefaultETHUSDFallback     = 3000
	DefaultRateLimitRPM       = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		MigrateOnStart:     getEnvBool("MIGRATE_ON_START", false),
		RPCURL:             getEnv("RPC_URL", getEnv("ETHEREUM_RPC_URL", DefaultRPCURL)),
		WSURL:              os.Getenv("WS_URL"),
		ChainID:            getEnvInt64("CHAIN_ID", DefaultChainID),
		FeedMode:           getEnv("FEED_MODE", FeedSynthetic),
		FeedInterval:       getEnvDuration("FEED_INTERVAL", DefaultFeedInterval),
		StaleAfter:         getEnvDuration("STALE_AFTER", DefaultStaleAfter),
		LedgerCapacity:     int(getEnvInt64("LEDGER_CAPACITY", DefaultLedgerCapacity)),
		HighGasPriceGwei:   getEnvInt64("HIGH_GAS_PRICE_GWEI", DefaultHighGasPriceGwei),
		LowGasPriceGwei:    getEnvInt64("LOW_GAS_PRICE_GWEI", DefaultLowGasPriceGwei),
		LargeValueETH:      getEnv("LARGE_VALUE_ETH", DefaultLargeValueETH),
		DetectionThreshold: int(getEnvInt64("DETECTION_THRESHOLD", DefaultDetectionThreshold)),
		LossScale:          getEnvFloat("LOSS_SCALE", DefaultLossScale),
		FlashbotsSignerKey: os.Getenv("FLASHBOTS_SIGNER_KEY"),
		FlashbotsNetwork:   getEnv("FLASHBOTS_NETWORK", DefaultFlashbotsNetwork),
		FlashbotsRelayURL:  os.Getenv("FLASHBOTS_RELAY_URL"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		NATSURL:            os.Getenv("NATS_URL"),
		NATSSubject:        getEnv("NATS_SUBJECT", DefaultNATSSubject),
		PriceOracle:        getEnvBool("PRICE_ORACLE", false),
		ETHUSDFallback:     getEnvFloat("ETH_USD_FALLBACK", DefaultETHUSDFallback),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "*")),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:       getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		TraceSampleRatio:   getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.FeedMode {
	case FeedSynthetic:
	case FeedMempool:
		if c.WSURL == "" {
			return fmt.Errorf("WS_URL is required when FEED_MODE=mempool")
		}
	default:
		return fmt.Errorf("FEED_MODE must be %q or %q", FeedSynthetic, FeedMempool)
	}

	if c.FeedInterval <= 0 {
		return fmt.Errorf("FEED_INTERVAL must be positive")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("STALE_AFTER must be positive")
	}
	if c.LedgerCapacity <= 0 {
		return fmt.Errorf("LEDGER_CAPACITY must be positive")
	}
	if c.DetectionThreshold < MinDetectionThreshold || c.DetectionThreshold > 100 {
		return fmt.Errorf("DETECTION_THRESHOLD must be within [%d,100]", MinDetectionThreshold)
	}

	if c.FlashbotsSignerKey != "" {
		key := strings.TrimPrefix(c.FlashbotsSignerKey, "0x")
		if len(key) != 64 {
			return fmt.Errorf("FLASHBOTS_SIGNER_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RelayConfigured reports whether private relay submission can sign bundles
func (c *Config) RelayConfigured() bool {
	return c.FlashbotsSignerKey != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
