package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

// NewTestDB returns a migrated in-memory SQLite database that is closed
// when the test ends.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := Open(context.Background(), Config{Driver: DriverSQLite, URL: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// SkipIfNoDatabase skips the test if TEST_POSTGRES_URL is not set and
// returns its value otherwise.
func SkipIfNoDatabase(t testing.TB) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_URL")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_URL environment variable not set (database not available)")
	}
	return dbURL
}
