package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", URL: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_foreign_keys=on", sqliteDSN(""))
	assert.Equal(t, "file:warden.db?cache=shared&_foreign_keys=on", sqliteDSN("file:warden.db?cache=shared"))
	assert.Equal(t, "file:x.db?_fk=1", sqliteDSN("file:x.db?_fk=1"))
}

func TestMigrate_Idempotent(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, len(GetMigrations()), version)

	require.NoError(t, Migrate(ctx, db))
	again, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, version, again)
}

func TestIsUniqueViolation(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := `INSERT INTO roles (id, name, description, is_system, created_at, updated_at) VALUES ($1, $2, '', FALSE, $3, $3)`
	_, err := db.ExecContext(ctx, insert, "r1", "editor", now)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert, "r2", "editor", now)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsForeignKeyViolation(err))

	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestIsForeignKeyViolation(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, "missing", "missing")
	require.Error(t, err)
	assert.True(t, IsForeignKeyViolation(err))
	assert.True(t, IsForeignKeyViolation(&pq.Error{Code: "23503"}))
}
