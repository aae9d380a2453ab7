package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all spoolflow service configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Tabular store (C1)
	SheetsStoreID       string
	SheetsCredentialRef string
	SheetsBaseURL       string

	// Lock service backend (C2)
	LockBackendURL string

	// Rate monitor (§5 resource model)
	RateMonitorTargetRPM   int
	RateMonitorQuotaRPM    int
	RateMonitorBurstWindow time.Duration
	RateMonitorBurstThresh int

	// Audit log (C4)
	AuditBatchMaxRows int

	// Worker identity headers (ambient auth — upstream tablet session
	// is an out-of-scope collaborator; this service trusts its headers)
	WorkerIDHeader       string
	WorkerInitialsHeader string

	// Body limits
	MaxBodyBytes int64

	// Request timeout
	DefaultTimeout time.Duration

	// HTTP-level rate limiting (per worker, C11)
	RateLimitEnabled bool
	RateLimitRPM     int
	RateLimitBurst   int

	// Metrics endpoint toggle
	MetricsEnabled bool

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("SPOOLFLOW_GRACEFUL_TIMEOUT_SEC", 15)
	defaultTimeoutSec := getEnvInt("SPOOLFLOW_DEFAULT_TIMEOUT_SEC", 30)

	return &Config{
		Addr:            getEnv("SPOOLFLOW_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		SheetsStoreID:       getEnv("SHEETS_STORE_ID", ""),
		SheetsCredentialRef: getEnv("SHEETS_CREDENTIAL_REF", ""),
		SheetsBaseURL:       getEnv("SHEETS_BASE_URL", "https://sheets.googleapis.com/v4"),

		LockBackendURL: getEnv("LOCK_BACKEND_URL", "redis://redis:6379"),

		RateMonitorTargetRPM:   getEnvInt("RATE_MONITOR_TARGET_RPM", 30),
		RateMonitorQuotaRPM:    getEnvInt("RATE_MONITOR_QUOTA_RPM", 60),
		RateMonitorBurstWindow: 10 * time.Second,
		RateMonitorBurstThresh: getEnvInt("RATE_MONITOR_BURST_THRESHOLD", 20),

		AuditBatchMaxRows: getEnvInt("AUDIT_BATCH_MAX_ROWS", 900),

		WorkerIDHeader:       getEnv("WORKER_ID_HEADER", "X-Worker-Id"),
		WorkerInitialsHeader: getEnv("WORKER_INITIALS_HEADER", "X-Worker-Initials"),

		MaxBodyBytes:   int64(getEnvInt("SPOOLFLOW_MAX_BODY_BYTES", 1*1024*1024)),
		DefaultTimeout: time.Duration(defaultTimeoutSec) * time.Second,

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", 60),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 10),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
