// Package config loads and validates Warden's configuration.
//
// # Sources
//
// Values are resolved in increasing order of precedence:
//
//  1. built-in defaults (Default)
//  2. a .env file (path from WARDEN_ENV_FILE, default ".env"; optional)
//  3. a YAML file named by WARDEN_CONFIG_FILE (optional)
//  4. WARDEN_* environment variables
//
// # Configuration Structure
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_BASE_URL="https://auth.example.com"
//	WARDEN_ENVIRONMENT="production"
//	WARDEN_READ_TIMEOUT="15s"
//
// Database and Redis:
//
//	WARDEN_DATABASE_DRIVER="postgres"  # postgres, sqlite3
//	WARDEN_DATABASE_URL="postgres://localhost/warden"
//	WARDEN_DATABASE_MAX_OPEN_CONNS="25"
//	WARDEN_REDIS_URL="redis://localhost:6379/0"  # optional
//
// Sessions and caching:
//
//	WARDEN_SESSION_SECRET="<at least 32 bytes>"
//	WARDEN_SESSION_TTL="24h"
//	WARDEN_CACHE_PERMISSION_TTL="5m"
//
// Email and social login:
//
//	WARDEN_EMAIL_PROVIDER="ses"  # log, ses
//	WARDEN_EMAIL_FROM="no-reply@example.com"
//	WARDEN_GITHUB_CLIENT_ID / WARDEN_GITHUB_CLIENT_SECRET
//	WARDEN_GOOGLE_CLIENT_ID / WARDEN_GOOGLE_CLIENT_SECRET
//
// Observability:
//
//	WARDEN_LOG_LEVEL="info"  # debug, info, warn, error
//	WARDEN_LOG_FORMAT="json" # json, text
//	WARDEN_OTEL_ENABLED="true"
//	WARDEN_OTEL_ENDPOINT="otel-collector:4317"
//
// The same keys are available in YAML under server, database, redis,
// session, cache, email, oauth, rate_limit, jobs and observability.
//
// # Reloading
//
// Watcher follows the YAML file with fsnotify and re-applies the log level
// when it changes:
//
//	w := config.NewWatcher(path, logger)
//	go w.Start(ctx, nil)
package config
