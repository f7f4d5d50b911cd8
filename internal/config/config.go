package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage drivers accepted by STORAGE_DRIVER
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Config holds all configuration for the storefront agent
type Config struct {
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	APIKeys     []string

	BackendURL     string
	BackendToken   string
	BackendTimeout time.Duration

	StorageDriver        string
	DataDir              string
	StorageWatchInterval time.Duration
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	RedisNamespace       string

	SyncInterval     time.Duration
	SyncInitialDelay time.Duration
	SyncStaleAfter   time.Duration

	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	PromoCodes            map[string]int

	CategoryCacheTTL time.Duration
	SearchDebounce   time.Duration
	EventLogSize     int

	MetricsExporter string
	MetricsPort     int
}

// Load loads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Existing environment variables win over .env entries
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, using environment only", "error", err)
	}

	cfg := &Config{
		Port:        getEnvAsInt("PORT", 8090),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		APIKeys:     getEnvAsSlice("API_KEYS", []string{"demo"}),

		BackendURL:     strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8080/api"), "/"),
		BackendToken:   getEnv("BACKEND_TOKEN", ""),
		BackendTimeout: getEnvAsDuration("BACKEND_TIMEOUT", 30*time.Second),

		StorageDriver:        strings.ToLower(getEnv("STORAGE_DRIVER", StorageFile)),
		DataDir:              getEnv("DATA_DIR", "./data"),
		StorageWatchInterval: getEnvAsDuration("STORAGE_WATCH_INTERVAL", 2*time.Second),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvAsInt("REDIS_DB", 0),
		RedisNamespace:       getEnv("REDIS_NAMESPACE", "storefront"),

		SyncInterval:     getEnvAsDuration("SYNC_INTERVAL", 2*time.Minute),
		SyncInitialDelay: getEnvAsDuration("SYNC_INITIAL_DELAY", time.Second),
		SyncStaleAfter:   getEnvAsDuration("SYNC_STALE_AFTER", 10*time.Minute),

		FreeShippingThreshold: getEnvAsDecimal("FREE_SHIPPING_THRESHOLD", decimal.NewFromInt(50000)),
		FlatShippingFee:       getEnvAsDecimal("FLAT_SHIPPING_FEE", decimal.NewFromInt(5000)),

		CategoryCacheTTL: getEnvAsDuration("CATEGORY_CACHE_TTL", 5*time.Minute),
		SearchDebounce:   getEnvAsDuration("SEARCH_DEBOUNCE", 300*time.Millisecond),
		EventLogSize:     getEnvAsInt("EVENT_LOG_SIZE", 1000),

		MetricsExporter: getEnv("METRICS_EXPORTER", "scraper"),
		MetricsPort:     getEnvAsInt("METRICS_PORT", 9090),
	}

	promos, err := ParsePromoCodes(getEnv("PROMO_CODES", ""))
	if err != nil {
		return nil, err
	}
	cfg.PromoCodes = promos

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return cfg, nil
}

// Validate checks the configuration for values the agent cannot run with
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageMemory, StorageFile, StorageRedis:
	default:
		return errors.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.BackendURL == "" {
		return errors.New("BACKEND_URL is required")
	}
	if c.Port <= 0 {
		return errors.New("PORT must be positive")
	}
	if c.SyncInterval <= 0 {
		return errors.New("SYNC_INTERVAL must be positive")
	}
	if c.SyncStaleAfter <= 0 {
		return errors.New("SYNC_STALE_AFTER must be positive")
	}
	if c.FreeShippingThreshold.IsNegative() || c.FlatShippingFee.IsNegative() {
		return errors.New("shipping values cannot be negative")
	}
	if c.EventLogSize <= 0 {
		return errors.New("EVENT_LOG_SIZE must be positive")
	}
	if c.StorageDriver == StorageFile && c.DataDir == "" {
		return errors.New("DATA_DIR is required for the file storage driver")
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ParsePromoCodes parses "CODE:percent,CODE2:percent" into an upper-cased code map
func ParsePromoCodes(raw string) (map[string]int, error) {
	codes := make(map[string]int)
	if strings.TrimSpace(raw) == "" {
		return codes, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		code, pct, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, errors.Errorf("invalid promo code entry %q", entry)
		}
		percent, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil || percent <= 0 || percent > 100 {
			return nil, errors.Errorf("invalid promo percentage in %q", entry)
		}
		codes[strings.ToUpper(strings.TrimSpace(code))] = percent
	}

	return codes, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		slog.Warn("Ignoring invalid integer setting", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		slog.Warn("Ignoring invalid duration setting", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
		slog.Warn("Ignoring invalid decimal setting", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
