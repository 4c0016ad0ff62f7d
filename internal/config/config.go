// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port           string
	MetricsPort    string
	Env            string // "development", "staging", "production"
	LogLevel       string
	LogFormat      string // "json" or "text"
	RequestTimeout time.Duration

	// History store
	Store         string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Enrichment
	GeoIPDBPath string // MaxMind country database, optional

	// Security
	SigningSecret string // verifies X-Signature and signs outgoing alerts

	// Alerts
	AlertWebhookURL string
	AlertWorkers    int

	SerializeBySender bool

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort           = "8080"
	DefaultMetricsPort    = "9090"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultStore          = StoreMemory
	DefaultAlertWorkers   = 4
	DefaultRequestTimeout = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		MetricsPort:       getEnv("METRICS_PORT", DefaultMetricsPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		Store:             getEnv("STORE", DefaultStore),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		GeoIPDBPath:       os.Getenv("GEOIP_DB_PATH"),
		SigningSecret:     os.Getenv("SIGNING_SECRET"),
		AlertWebhookURL:   os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWorkers:      getEnvInt("ALERT_WORKERS", DefaultAlertWorkers),
		SerializeBySender: getEnvBool("SERIALIZE_BY_SENDER", false),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the selected backend has what it needs
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when STORE=%s", StoreRedis)
		}
	default:
		return fmt.Errorf("unknown STORE %q (want memory, postgres or redis)", c.Store)
	}

	if c.AlertWorkers < 1 {
		return fmt.Errorf("ALERT_WORKERS must be at least 1")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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
