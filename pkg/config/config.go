package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/casagrid/gatehouse/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (feature flag cache)
	Redis RedisConfig

	// Decision cache configuration
	Cache CacheConfig

	// Feature flag gate configuration
	Flags FlagsConfig

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

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
	SeedBuiltins    bool
}

// RedisConfig holds settings for the shared feature flag cache.
// Redis is optional: with no URL the flag gate reads straight from
// the database on every lookup.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	FlagTTL  time.Duration
}

// CacheConfig holds decision cache sizing
type CacheConfig struct {
	Enabled    bool
	MaxEntries int
	TTL        time.Duration
}

// FlagsConfig controls the feature flag gate defaults
type FlagsConfig struct {
	// EnforcementFlag and AuditFlag name the flag codes consulted per
	// decision. Overridable for staging environments that run several
	// engine instances against one flag table.
	EnforcementFlag string
	AuditFlag       string
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	// Destination: "db", "file", "db+file", or "none"
	Destination string

	// File logger settings (used when Destination includes "file")
	FilePath     string
	FileRotate   bool
	FileMaxSize  int64
	FileMaxFiles int

	// Retention window for the sweeper
	RetentionDays int

	// S3 archive settings (used by the retention sweeper)
	ArchiveEnabled bool
	ArchiveBucket  string
	ArchivePrefix  string
	ArchiveRegion  string
	ArchiveFormat  string // "ndjson" or "csv"

	// Optional S3 overrides for MinIO or explicit credentials. When
	// the keys are empty the default AWS credential chain is used.
	ArchiveEndpoint     string
	ArchiveAccessKey    string
	ArchiveSecretKey    string
	ArchiveUsePathStyle bool
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
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Flags:         loadFlagsConfig(),
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
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("GATEHOUSE_POSTGRES_URL", "postgres://localhost/gatehouse?sslmode=disable"),
		MaxOpenConns:    getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("GATEHOUSE_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("GATEHOUSE_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		MigrateOnStart:  getEnvBool("GATEHOUSE_MIGRATE_ON_START", true),
		SeedBuiltins:    getEnvBool("GATEHOUSE_SEED_BUILTINS", true),
	}
}

// loadRedisConfig loads redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("GATEHOUSE_REDIS_URL", ""),
		Password: getEnv("GATEHOUSE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("GATEHOUSE_REDIS_DB", 0),
		PoolSize: getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 10),
		FlagTTL:  getEnvDuration("GATEHOUSE_REDIS_FLAG_TTL", 30*time.Second),
	}
}

// loadCacheConfig loads decision cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    getEnvBool("GATEHOUSE_CACHE_ENABLED", true),
		MaxEntries: getEnvInt("GATEHOUSE_CACHE_MAX_ENTRIES", 4096),
		TTL:        getEnvDuration("GATEHOUSE_CACHE_TTL", 5*time.Minute),
	}
}

// loadFlagsConfig loads feature flag gate configuration from environment
func loadFlagsConfig() FlagsConfig {
	return FlagsConfig{
		EnforcementFlag: getEnv("GATEHOUSE_ENFORCEMENT_FLAG", "permission_enforcement"),
		AuditFlag:       getEnv("GATEHOUSE_AUDIT_FLAG", "audit_mode"),
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Destination:    getEnv("GATEHOUSE_AUDIT_DESTINATION", "db"),
		FilePath:       getEnv("GATEHOUSE_AUDIT_FILE_PATH", "/var/log/gatehouse/audit"),
		FileRotate:     getEnvBool("GATEHOUSE_AUDIT_FILE_ROTATE", true),
		FileMaxSize:    getEnvInt64("GATEHOUSE_AUDIT_FILE_MAX_SIZE", 100*1024*1024),
		FileMaxFiles:   getEnvInt("GATEHOUSE_AUDIT_FILE_MAX_FILES", 10),
		RetentionDays:  getEnvInt("GATEHOUSE_AUDIT_RETENTION_DAYS", 90),
		ArchiveEnabled: getEnvBool("GATEHOUSE_AUDIT_ARCHIVE_ENABLED", false),
		ArchiveBucket:  getEnv("GATEHOUSE_AUDIT_ARCHIVE_BUCKET", ""),
		ArchivePrefix:  getEnv("GATEHOUSE_AUDIT_ARCHIVE_PREFIX", "audit"),
		ArchiveRegion:  getEnv("GATEHOUSE_AUDIT_ARCHIVE_REGION", "us-east-1"),
		ArchiveFormat:  getEnv("GATEHOUSE_AUDIT_ARCHIVE_FORMAT", "ndjson"),

		ArchiveEndpoint:     getEnv("GATEHOUSE_AUDIT_ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKey:    getEnv("GATEHOUSE_AUDIT_ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey:    getEnv("GATEHOUSE_AUDIT_ARCHIVE_SECRET_KEY", ""),
		ArchiveUsePathStyle: getEnvBool("GATEHOUSE_AUDIT_ARCHIVE_PATH_STYLE", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
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
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("postgres max connections must be positive")
	}

	// Validate cache config
	if c.Cache.Enabled {
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache max entries must be positive when cache is enabled")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive when cache is enabled")
		}
	}

	// Validate flag config
	if c.Flags.EnforcementFlag == "" {
		return fmt.Errorf("enforcement flag code is required")
	}
	if c.Flags.AuditFlag == "" {
		return fmt.Errorf("audit flag code is required")
	}

	// Validate audit config
	switch c.Audit.Destination {
	case "db", "file", "db+file", "none":
	default:
		return fmt.Errorf("invalid audit destination: %s (must be db, file, db+file, or none)", c.Audit.Destination)
	}
	if strings.Contains(c.Audit.Destination, "file") && c.Audit.FilePath == "" {
		return fmt.Errorf("audit file path is required for file destination")
	}
	if c.Audit.ArchiveEnabled {
		if c.Audit.ArchiveBucket == "" {
			return fmt.Errorf("archive bucket is required when archiving is enabled")
		}
		switch c.Audit.ArchiveFormat {
		case "ndjson", "csv":
		default:
			return fmt.Errorf("invalid archive format: %s (must be ndjson or csv)", c.Audit.ArchiveFormat)
		}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
