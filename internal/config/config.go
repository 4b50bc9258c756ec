// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway
	GatewayBaseURL string
	GatewaySecret  string
	GatewayTimeout time.Duration

	// Settlement settings
	PlatformFeeRate decimal.Decimal // fraction of each sale kept by the platform
	MaturationHours int             // hours before a sale credit moves pending -> available
	MinWithdrawal   int64           // minimum withdrawal amount in minor units

	// Withdrawal OTP
	OTPTTL         time.Duration
	OTPMaxAttempts int

	// Background jobs
	PendingSweepAfter time.Duration // re-verify payments PENDING longer than this
	SweepInterval     time.Duration
	MaturationEvery   time.Duration

	// Observability
	OTLPEndpoint string

	// Security
	AdminSecret string
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultFeeRate         = "0.05"
	DefaultMaturationHours = 168 // 7 days
	DefaultMinWithdrawal   = 5000
	DefaultOTPTTLMinutes   = 10
	DefaultOTPMaxAttempts  = 5
	DefaultSweepMinutes    = 5
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	feeRate, err := decimal.NewFromString(getEnv("PLATFORM_FEE_RATE", DefaultFeeRate))
	if err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_FEE_RATE: %w", err)
	}

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		GatewayBaseURL:    os.Getenv("GATEWAY_BASE_URL"),
		GatewaySecret:     os.Getenv("GATEWAY_SECRET"),
		GatewayTimeout:    secondsEnv("GATEWAY_TIMEOUT_SECONDS", 15*time.Second),
		PlatformFeeRate:   feeRate,
		MaturationHours:   int(getEnvInt64("MATURATION_HOURS", DefaultMaturationHours)),
		MinWithdrawal:     getEnvInt64("MIN_WITHDRAWAL", DefaultMinWithdrawal),
		OTPTTL:            time.Duration(getEnvInt64("OTP_TTL_MINUTES", DefaultOTPTTLMinutes)) * time.Minute,
		OTPMaxAttempts:    int(getEnvInt64("OTP_MAX_ATTEMPTS", DefaultOTPMaxAttempts)),
		PendingSweepAfter: time.Duration(getEnvInt64("PENDING_SWEEP_MINUTES", DefaultSweepMinutes)) * time.Minute,
		SweepInterval:     time.Duration(getEnvInt64("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		MaturationEvery:   time.Duration(getEnvInt64("MATURATION_INTERVAL_SECONDS", 300)) * time.Second,
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PlatformFeeRate.IsNegative() || c.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("PLATFORM_FEE_RATE must be in [0, 1)")
	}
	if c.MaturationHours < 0 {
		return fmt.Errorf("MATURATION_HOURS must not be negative")
	}
	if c.MinWithdrawal < 0 {
		return fmt.Errorf("MIN_WITHDRAWAL must not be negative")
	}
	if c.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.IsProduction() && c.GatewayBaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required in production")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
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

func secondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}
