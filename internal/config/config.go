// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/marketdata/internal/utils"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the cache database (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Upstream provider credentials. An adapter with missing required
	// credentials reports itself as disabled and is skipped by the
	// fallback chain.
	FinnhubAPIKey      string
	AlphaVantageAPIKey string
	FREDAPIKey         string
	SECUserAgent       string // SEC EDGAR requires a descriptive User-Agent with contact info

	Resilience ResilienceConfig
	TTL        TTLOverrides
	Refresh    RefreshConfig
	Stream     StreamConfig
	Backup     *BackupConfig // nil when backup is disabled
}

// ResilienceConfig holds circuit breaker and rate limiter settings.
// Defaults apply to every adapter; rate limits can be tuned per adapter.
type ResilienceConfig struct {
	BreakerFailureThreshold int           // Failures within the window before opening
	BreakerFailureWindow    time.Duration // Window over which failures are counted
	BreakerCooldown         time.Duration // OPEN duration before a half-open probe
	RateLimitCalls          int           // Admissions per window, per adapter
	RateLimitWindow         time.Duration
	AdapterTimeout          time.Duration // Per-call network timeout, independent of caller deadlines
}

// TTLOverrides holds optional per-data-type TTL overrides in seconds.
// Zero means "use the built-in default for that data type".
type TTLOverrides struct {
	PriceSeconds            int
	FundamentalsSeconds     int
	NewsSeconds             int
	MacroSeconds            int
	COTSeconds              int
	OwnershipSeconds        int
	InsiderSeconds          int
	AnalysisSeconds         int
	OptionsSeconds          int
	EconomicCalendarSeconds int
}

// RefreshConfig holds background refresh scheduler settings
type RefreshConfig struct {
	MaxTasks    int           // Hard bound on in-flight background refreshes
	TaskTimeout time.Duration // Per-task deadline
}

// StreamConfig holds the live trade stream (cache warmer) settings
type StreamConfig struct {
	Enabled bool
	Symbols []string // Symbols to subscribe to on the trade stream
}

// BackupConfig holds S3/R2 cache database backup settings
type BackupConfig struct {
	Endpoint        string // S3-compatible endpoint (e.g. Cloudflare R2)
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Retention       int // Number of backups to keep
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MARKETDATA_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8010),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		FinnhubAPIKey:      getEnv("FINNHUB_API_KEY", ""),
		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),
		FREDAPIKey:         getEnv("FRED_API_KEY", ""),
		SECUserAgent:       getEnv("SEC_USER_AGENT", ""),

		Resilience: ResilienceConfig{
			BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
			BreakerFailureWindow:    getEnvAsDuration("BREAKER_FAILURE_WINDOW", 5*time.Minute),
			BreakerCooldown:         getEnvAsDuration("BREAKER_COOLDOWN", 15*time.Minute),
			RateLimitCalls:          getEnvAsInt("RATE_LIMIT_CALLS", 5),
			RateLimitWindow:         getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			AdapterTimeout:          getEnvAsDuration("ADAPTER_TIMEOUT", 15*time.Second),
		},
		TTL: TTLOverrides{
			PriceSeconds:            getEnvAsInt("TTL_PRICE_SECONDS", 0),
			FundamentalsSeconds:     getEnvAsInt("TTL_FUNDAMENTALS_SECONDS", 0),
			NewsSeconds:             getEnvAsInt("TTL_NEWS_SECONDS", 0),
			MacroSeconds:            getEnvAsInt("TTL_MACRO_SECONDS", 0),
			COTSeconds:              getEnvAsInt("TTL_COT_SECONDS", 0),
			OwnershipSeconds:        getEnvAsInt("TTL_OWNERSHIP_SECONDS", 0),
			InsiderSeconds:          getEnvAsInt("TTL_INSIDER_SECONDS", 0),
			AnalysisSeconds:         getEnvAsInt("TTL_ANALYSIS_SECONDS", 0),
			OptionsSeconds:          getEnvAsInt("TTL_OPTIONS_SECONDS", 0),
			EconomicCalendarSeconds: getEnvAsInt("TTL_ECONOMIC_CALENDAR_SECONDS", 0),
		},
		Refresh: RefreshConfig{
			MaxTasks:    getEnvAsInt("REFRESH_MAX_TASKS", 8),
			TaskTimeout: getEnvAsDuration("REFRESH_TASK_TIMEOUT", 60*time.Second),
		},
		Stream: StreamConfig{
			Enabled: getEnvAsBool("STREAM_ENABLED", false),
			Symbols: utils.ParseSymbolList(os.Getenv("STREAM_SYMBOLS")),
		},
		Backup: loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Resilience.BreakerFailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1")
	}
	if c.Resilience.RateLimitCalls < 1 {
		return fmt.Errorf("rate limit calls must be at least 1")
	}
	if c.Refresh.MaxTasks < 1 {
		return fmt.Errorf("refresh max tasks must be at least 1")
	}
	// Note: provider credentials are optional. Adapters without credentials
	// are disabled and skipped by the fallback chain.
	return nil
}

// loadBackupConfig loads S3 backup configuration, returning nil when the
// required settings are absent.
func loadBackupConfig() *BackupConfig {
	bucket := getEnv("BACKUP_S3_BUCKET", "")
	accessKey := getEnv("BACKUP_S3_ACCESS_KEY_ID", "")
	secretKey := getEnv("BACKUP_S3_SECRET_ACCESS_KEY", "")
	if bucket == "" || accessKey == "" || secretKey == "" {
		return nil
	}
	return &BackupConfig{
		Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		Bucket:          bucket,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		Retention:       getEnvAsInt("BACKUP_RETENTION", 7),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
