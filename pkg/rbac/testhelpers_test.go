package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := storage.NewTestDB(t)
	require.NoError(t, Seed(context.Background(), db))
	return db
}

// insertUser creates a user with the given role alias and no role_id.
func insertUser(t *testing.T, db *sql.DB, role string) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := db.Exec(`INSERT INTO users (id, email, role, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
		id, id+"@example.com", role, now)
	require.NoError(t, err)
	return id
}
