// Package storage owns Warden's connections to its backing stores.
//
// The SQL schema is written to run unchanged on PostgreSQL (lib/pq, the
// production driver) and SQLite (go-sqlite3, used for development and
// tests). Identifiers are application-generated UUID strings, JSON columns
// are stored as TEXT, and time comparisons are made in Go rather than SQL.
//
// Open configures the pool and verifies connectivity:
//
//	db, err := storage.Open(ctx, storage.Config{Driver: "postgres", URL: dsn})
//	err = storage.Migrate(ctx, db)
//
// IsUniqueViolation maps driver-specific constraint errors so that stores
// can translate them to auth.ErrConflict.
//
// RedisClient wraps go-redis for the shared permission cache and the
// distributed rate limiter.
package storage
