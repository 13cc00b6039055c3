// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_HEALTH_PORT="9090"
//	GATEHOUSE_READ_TIMEOUT="15s"
//	GATEHOUSE_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	GATEHOUSE_POSTGRES_URL="postgres://localhost/gatehouse?sslmode=disable"
//	GATEHOUSE_POSTGRES_MAX_CONNS="25"
//	GATEHOUSE_MIGRATE_ON_START="true"
//	GATEHOUSE_SEED_BUILTINS="true"
//
// Flag cache settings (redis optional; omit the URL to read flags from
// the database on every decision):
//
//	GATEHOUSE_REDIS_URL="redis://localhost:6379"
//	GATEHOUSE_REDIS_FLAG_TTL="30s"
//
// Decision cache settings:
//
//	GATEHOUSE_CACHE_ENABLED="true"
//	GATEHOUSE_CACHE_MAX_ENTRIES="4096"
//	GATEHOUSE_CACHE_TTL="5m"
//
// Audit settings:
//
//	GATEHOUSE_AUDIT_DESTINATION="db"  # db, file, db+file, none
//	GATEHOUSE_AUDIT_RETENTION_DAYS="90"
//	GATEHOUSE_AUDIT_ARCHIVE_ENABLED="false"
//	GATEHOUSE_AUDIT_ARCHIVE_BUCKET="gatehouse-audit-archive"
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_METRICS_ENABLED="true"
//	GATEHOUSE_OTEL_ENABLED="false"
//	GATEHOUSE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/authz: Uses database, cache, and flag configuration
//   - pkg/audit: Uses audit configuration
//   - pkg/observability: Uses observability configuration
package config
