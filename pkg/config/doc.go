// Package config loads application configuration from environment variables.
//
// All variables carry the WARDEN_ prefix. Every field has a default except
// the database DSN, which must be supplied.
//
// Load and validate:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Key variables:
//
//	WARDEN_PORT                     HTTP port (default 8080)
//	WARDEN_HEALTH_PORT              health/metrics port (default 9090)
//	WARDEN_DB_DRIVER                postgres or sqlite3
//	WARDEN_DB_DSN                   connection string (required)
//	WARDEN_CACHE_BACKEND            memory, redis, or none
//	WARDEN_CACHE_TTL                grant cache TTL (default 5m)
//	WARDEN_AUDIT_STRICT             surface every audit write failure
//	WARDEN_AUDIT_RETENTION_DAYS     retention window (default 90)
//	WARDEN_LOG_LEVEL                debug, info, warn, or error
package config
