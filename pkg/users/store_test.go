package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db := storage.NewTestDB(t)
	now := time.Now().UTC()
	_, err := db.Exec(`INSERT INTO roles (id, name, description, is_system, created_at, updated_at) VALUES
		('role-admin', 'admin', 'Administrator', TRUE, $1, $1),
		('role-user', 'user', 'User', TRUE, $1, $1)`, now)
	require.NoError(t, err)
	return NewStore(db)
}

func TestStore_Create(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	terms := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	u := &auth.User{
		Email:           "  Alice@Example.COM ",
		PasswordHash:    "hash",
		Name:            "Alice",
		IsActive:        true,
		TermsAcceptedAt: &terms,
		UserMetadata:    auth.Metadata{"theme": "dark"},
	}
	require.NoError(t, store.Create(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, auth.GlobalRoleUser, u.Role)
	require.NotNil(t, u.RoleID)
	assert.Equal(t, "role-user", *u.RoleID)

	got, err := store.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Equal(t, "dark", got.UserMetadata["theme"])
	assert.Empty(t, got.AppMetadata)
	require.NotNil(t, got.TermsAcceptedAt)
	assert.True(t, got.TermsAcceptedAt.Equal(terms))
	assert.Nil(t, got.PrivacyAcceptedAt)

	t.Run("duplicate email conflicts", func(t *testing.T) {
		err := store.Create(ctx, &auth.User{Email: "alice@example.com"})
		assert.ErrorIs(t, err, auth.ErrConflict)
	})

	t.Run("invalid email", func(t *testing.T) {
		err := store.Create(ctx, &auth.User{Email: "not-an-email"})
		assert.ErrorIs(t, err, auth.ErrValidation)
	})

	t.Run("social user without password", func(t *testing.T) {
		social := &auth.User{Email: "bob@example.com", EmailVerified: true}
		require.NoError(t, store.Create(ctx, social))
		got, err := store.GetByID(ctx, social.ID)
		require.NoError(t, err)
		assert.Equal(t, "", got.PasswordHash)
		assert.False(t, got.HasPassword())
		assert.True(t, got.EmailVerified)
	})
}

func TestStore_GetNotFound(t *testing.T) {
	store := setupStore(t)
	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = store.GetByEmail(context.Background(), "missing@example.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestStore_Updates(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	u := &auth.User{Email: "a@x.com", PasswordHash: auth.PlaceholderPassword}
	require.NoError(t, store.Create(ctx, u))

	t.Run("set password", func(t *testing.T) {
		require.NoError(t, store.SetPassword(ctx, u.ID, "new-hash"))
		got, err := store.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
	})

	t.Run("mark verified", func(t *testing.T) {
		require.NoError(t, store.MarkEmailVerified(ctx, u.ID))
		got, err := store.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.EmailVerified)
	})

	t.Run("deactivate", func(t *testing.T) {
		require.NoError(t, store.SetActive(ctx, u.ID, false))
		got, err := store.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	})

	t.Run("activate inside transaction", func(t *testing.T) {
		tx, err := store.DB().BeginTx(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, store.ActivateWith(ctx, tx, u.ID, "final-hash", "Alice"))
		require.NoError(t, tx.Commit())

		got, err := store.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.IsActive)
		assert.Equal(t, "Alice", got.Name)
		assert.Equal(t, "final-hash", got.PasswordHash)
	})

	t.Run("global role resolves role id", func(t *testing.T) {
		require.NoError(t, store.SetGlobalRole(ctx, u.ID, auth.GlobalRoleAdmin))
		got, err := store.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, auth.GlobalRoleAdmin, got.Role)
		require.NotNil(t, got.RoleID)
		assert.Equal(t, "role-admin", *got.RoleID)

		assert.ErrorIs(t, store.SetGlobalRole(ctx, u.ID, auth.GlobalRole("root")), auth.ErrValidation)
	})

	t.Run("missing user", func(t *testing.T) {
		assert.ErrorIs(t, store.SetPassword(ctx, "missing", "x"), auth.ErrNotFound)
	})
}

func TestStore_UpdateSettings(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	u := &auth.User{Email: "a@x.com", Name: "Old", Image: "old.png"}
	require.NoError(t, store.Create(ctx, u))

	name := "New"
	enabled := true
	got, err := store.UpdateSettings(ctx, u.ID, Settings{Name: &name, IsTwoFactorEnabled: &enabled})
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
	assert.Equal(t, "old.png", got.Image, "nil fields are unchanged")
	assert.True(t, got.IsTwoFactorEnabled)

	blank := " "
	_, err = store.UpdateSettings(ctx, u.ID, Settings{Name: &blank})
	assert.ErrorIs(t, err, auth.ErrValidation)
}

func TestStore_MergeUserMetadata(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	u := &auth.User{Email: "a@x.com", UserMetadata: auth.Metadata{"a": "1", "b": "2"}}
	require.NoError(t, store.Create(ctx, u))

	merged, err := store.MergeUserMetadata(ctx, u.ID, auth.Metadata{"b": "3", "c": "4"})
	require.NoError(t, err)
	assert.Equal(t, auth.Metadata{"a": "1", "b": "3", "c": "4"}, merged)

	_, err = store.MergeUserMetadata(ctx, "missing", auth.Metadata{"x": 1})
	assert.ErrorIs(t, err, auth.ErrNotFound)

	t.Run("concurrent merges keep every key", func(t *testing.T) {
		var wg sync.WaitGroup
		keys := []string{"k1", "k2", "k3", "k4"}
		for _, k := range keys {
			wg.Add(1)
			go func(k string) {
				defer wg.Done()
				_, err := store.MergeUserMetadata(ctx, u.ID, auth.Metadata{k: true})
				assert.NoError(t, err)
			}(k)
		}
		wg.Wait()

		got, err := store.GetByID(ctx, u.ID)
		require.NoError(t, err)
		for _, k := range keys {
			assert.Equal(t, true, got.UserMetadata[k])
		}
	})
}

func TestStore_List(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		require.NoError(t, store.Create(ctx, &auth.User{Email: email}))
	}

	all, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := store.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("a@x.com"))
	assert.Error(t, ValidateEmail("@x.com"))
	assert.Error(t, ValidateEmail("a@"))
	assert.Error(t, ValidateEmail("a b@x.com"))
}
