package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"execEngine/internal/adapters/logger" // Import the logger package for LogLevel
)

// Price sources for reference prices.
const (
	PriceSourceStatic  = "static"
	PriceSourceBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	// HTTP
	ListenAddr      string
	SubmitRateLimit float64 // Order submissions per second, 0 disables
	SubmitBurst     int

	// Fill simulation
	FillDelay    time.Duration
	FillSlippage decimal.Decimal

	// Reference prices
	PriceSource   string // static | binance
	StaticPrices  string // SYM=PRICE,...
	PriceCacheTTL time.Duration

	// Binance API (read-only market data)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Risk limits, zero disables each one
	MaxOrderQuantity    decimal.Decimal
	MaxOrderNotional    decimal.Decimal
	MaxPositionQuantity decimal.Decimal

	// Database
	DBPath           string
	SnapshotSchedule string // cron spec, empty disables periodic snapshots

	// Event stream
	RedisAddr          string // empty disables Redis publishing
	RedisPassword      string
	RedisDB            int
	EventChannelPrefix string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // json | console
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// HTTP
	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8003")

	cfg.SubmitRateLimit, err = getEnvAsFloatRequired("SUBMIT_RATE_LIMIT", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SUBMIT_RATE_LIMIT: %v", err))
	} else if cfg.SubmitRateLimit < 0 {
		errs = append(errs, "SUBMIT_RATE_LIMIT cannot be negative")
	}

	cfg.SubmitBurst, err = getEnvAsIntRequired("SUBMIT_BURST", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SUBMIT_BURST: %v", err))
	} else if cfg.SubmitBurst <= 0 {
		errs = append(errs, "SUBMIT_BURST must be positive")
	}

	// Fill simulation
	delayMs, err := getEnvAsIntRequired("FILL_DELAY_MS", 2000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FILL_DELAY_MS: %v", err))
	} else if delayMs <= 0 {
		errs = append(errs, "FILL_DELAY_MS must be positive")
	}
	cfg.FillDelay = time.Duration(delayMs) * time.Millisecond

	cfg.FillSlippage, err = getEnvAsDecimalRequired("FILL_SLIPPAGE", decimal.NewFromFloat(0.02))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FILL_SLIPPAGE: %v", err))
	} else if cfg.FillSlippage.IsNegative() || cfg.FillSlippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "FILL_SLIPPAGE must be at least 0.0 and below 1.0")
	}

	// Reference prices
	cfg.PriceSource = strings.ToLower(getEnv("PRICE_SOURCE", PriceSourceStatic))
	if cfg.PriceSource != PriceSourceStatic && cfg.PriceSource != PriceSourceBinance {
		errs = append(errs, "PRICE_SOURCE must be static or binance")
	}
	cfg.StaticPrices = getEnv("STATIC_PRICES", "")

	cacheSeconds := getEnvAsInt("PRICE_CACHE_SECONDS", 5)
	if cacheSeconds < 0 {
		errs = append(errs, "PRICE_CACHE_SECONDS cannot be negative")
	}
	cfg.PriceCacheTTL = time.Duration(cacheSeconds) * time.Second

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Risk limits
	for _, limit := range []struct {
		key string
		dst *decimal.Decimal
	}{
		{"MAX_ORDER_QTY", &cfg.MaxOrderQuantity},
		{"MAX_ORDER_NOTIONAL", &cfg.MaxOrderNotional},
		{"MAX_POSITION_QTY", &cfg.MaxPositionQuantity},
	} {
		*limit.dst, err = getEnvAsDecimalRequired(limit.key, decimal.Zero)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", limit.key, err))
		} else if limit.dst.IsNegative() {
			errs = append(errs, limit.key+" cannot be negative")
		}
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/execution.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.SnapshotSchedule = getEnvAllowEmpty("SNAPSHOT_SCHEDULE", "@every 30s")

	// Event stream
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvAsIntRequired("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REDIS_DB: %v", err))
	} else if cfg.RedisDB < 0 {
		errs = append(errs, "REDIS_DB cannot be negative")
	}
	cfg.EventChannelPrefix = getEnv("EVENT_CHANNEL_PREFIX", "exec")

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "json"))

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAllowEmpty distinguishes an unset variable from one explicitly set to "".
func getEnvAllowEmpty(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return strings.TrimSpace(value)
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimalRequired(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
