// Package config loads service configuration from environment
// variables with development defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseDriver selects the ledger backend: "sqlite" or "postgres".
	DatabaseDriver string
	DatabaseURL    string

	// RedisAddr enables the idempotency reservation fast path when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ReserveTTL    time.Duration

	// PolicyDir holds versioned policy_v<N>.yaml documents. Empty means
	// run on the embedded default policy.
	PolicyDir string

	NotifyChannel     string
	NotifyRatePerMin  int
	MetricsWindowDays int
	OTLPEndpoint      string
	TelemetryEnabled  bool
	Environment       string
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		Port:              envOr("PORT", "8080"),
		LogLevel:          envOr("LOG_LEVEL", "INFO"),
		DatabaseDriver:    envOr("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:       envOr("DATABASE_URL", "file:finagent.db?cache=shared"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           envInt("REDIS_DB", 0),
		ReserveTTL:        time.Duration(envInt("RESERVE_TTL_SECONDS", 86400)) * time.Second,
		PolicyDir:         os.Getenv("POLICY_DIR"),
		NotifyChannel:     envOr("NOTIFY_CHANNEL", "finance-review"),
		NotifyRatePerMin:  envInt("NOTIFY_RATE_PER_MIN", 30),
		MetricsWindowDays: envInt("METRICS_WINDOW_DAYS", 7),
		OTLPEndpoint:      envOr("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled:  os.Getenv("TELEMETRY_ENABLED") == "true",
		Environment:       envOr("ENVIRONMENT", "development"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
