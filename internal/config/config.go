package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine
type Config struct {
	// Server
	WSPort    int
	JWTSecret string
	Env       string

	// Storage
	DatabaseURL string
	RedisURL    string

	// Pricing
	DefaultSpreadBps decimal.Decimal
	PriceMaxAge      time.Duration

	// Execution
	FeeBps            decimal.Decimal // taker fee in basis points
	MaintenanceMargin decimal.Decimal
	UserLockBudget    time.Duration
	SystemLockBudget  time.Duration

	// Background intervals
	QuoteRefreshInterval time.Duration
	StatsRefreshInterval time.Duration
	LimitSweepInterval   time.Duration
	AccountFlushInterval time.Duration
	RiskSweepInterval    time.Duration

	// Persistence queue
	PersistQueueCap     int
	PersistBreakerTrips int

	// Operator alerting (optional)
	TelegramToken  string
	TelegramChatID int64

	// External feed
	QuoteAPIURL string
	Symbols     []string

	Debug bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		WSPort:    getEnvInt("WS_PORT", 3002),
		JWTSecret: os.Getenv("JWT_SECRET"),
		Env:       getEnv("ENV", "development"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		DefaultSpreadBps: getEnvDecimal("SPREAD_BPS", decimal.NewFromInt(2)),
		PriceMaxAge:      getEnvDuration("PRICE_MAX_AGE", 5*time.Second),

		FeeBps:            getEnvDecimal("FEE_BPS", decimal.NewFromInt(5)),
		MaintenanceMargin: getEnvDecimal("MAINTENANCE_MARGIN", decimal.NewFromFloat(0.004)),
		UserLockBudget:    getEnvDuration("USER_LOCK_BUDGET", 100*time.Millisecond),
		SystemLockBudget:  getEnvDuration("SYSTEM_LOCK_BUDGET", 50*time.Millisecond),

		QuoteRefreshInterval: getEnvDuration("QUOTE_REFRESH_INTERVAL", time.Second),
		StatsRefreshInterval: getEnvDuration("STATS_REFRESH_INTERVAL", 30*time.Second),
		LimitSweepInterval:   getEnvDuration("LIMIT_SWEEP_INTERVAL", 100*time.Millisecond),
		AccountFlushInterval: getEnvDuration("ACCOUNT_FLUSH_INTERVAL", 5*time.Second),
		RiskSweepInterval:    getEnvDuration("RISK_SWEEP_INTERVAL", time.Second),

		PersistQueueCap:     getEnvInt("PERSIST_QUEUE_CAP", 100),
		PersistBreakerTrips: getEnvInt("PERSIST_BREAKER_TRIPS", 10),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		QuoteAPIURL: getEnv("QUOTE_API_URL", "https://api.binance.com"),
		Symbols:     getEnvList("SYMBOLS", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}),

		Debug: getEnvBool("DEBUG", false),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
