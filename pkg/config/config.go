package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Grant cache configuration
	Cache CacheConfig

	// Audit trail configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds the relational store configuration. Both the RBAC
// tables and the audit trail live in the same database.
type DatabaseConfig struct {
	Driver   string // "postgres" or "sqlite3"
	DSN      string
	MaxConns int
	MaxIdle  int
}

// CacheConfig holds grant cache configuration
type CacheConfig struct {
	// Backend selects the cache implementation: "memory", "redis", or
	// "none" to disable caching entirely.
	Backend string
	TTL     time.Duration

	// Memory backend
	Size int

	// Redis backend
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	// Strict makes every audit write failure surface to the caller,
	// not just critical ones.
	Strict bool

	// Secondary JSON-lines file sink. FilePath is the directory the
	// rotated audit.log files live in.
	FileEnabled bool
	FilePath    string
	FileMaxSize int64

	// Retention
	RetentionDays     int
	RetentionSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool    // Use insecure gRPC connection
	OTelSampleRatio    float64 // Fraction of root traces to sample
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:   getEnv("WARDEN_DB_DRIVER", "postgres"),
		DSN:      getEnv("WARDEN_DB_DSN", ""),
		MaxConns: getEnvInt("WARDEN_DB_MAX_CONNS", 25),
		MaxIdle:  getEnvInt("WARDEN_DB_MAX_IDLE", 5),
	}
}

// loadCacheConfig loads grant cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       getEnv("WARDEN_CACHE_BACKEND", "memory"),
		TTL:           getEnvDuration("WARDEN_CACHE_TTL", 5*time.Minute),
		Size:          getEnvInt("WARDEN_CACHE_SIZE", 10000),
		RedisURL:      getEnv("WARDEN_REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("WARDEN_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("WARDEN_REDIS_DB", 0),
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Strict:            getEnvBool("WARDEN_AUDIT_STRICT", false),
		FileEnabled:       getEnvBool("WARDEN_AUDIT_FILE_ENABLED", false),
		FilePath:          getEnv("WARDEN_AUDIT_FILE_PATH", "./audit-logs"),
		FileMaxSize:       getEnvInt64("WARDEN_AUDIT_FILE_MAX_SIZE", 64<<20),
		RetentionDays:     getEnvInt("WARDEN_AUDIT_RETENTION_DAYS", 90),
		RetentionSchedule: getEnv("WARDEN_AUDIT_RETENTION_SCHEDULE", "0 3 * * *"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("WARDEN_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate database config
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	// Validate cache config
	switch c.Cache.Backend {
	case "memory":
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive for the memory backend")
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	case "none":
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.Cache.Backend)
	}

	// Validate audit config
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}
	if c.Audit.FileEnabled && c.Audit.FilePath == "" {
		return fmt.Errorf("audit file path is required when the file sink is enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
