package sso

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingAudit) Log(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, e.Action)
	return nil
}

func setupLinker(t *testing.T) (*Linker, *users.Store, *sql.DB, *recordingAudit) {
	t.Helper()
	db := storage.NewTestDB(t)
	userStore := users.NewStore(db)
	rec := &recordingAudit{}
	return NewLinker(db, userStore, WithAudit(rec)), userStore, db, rec
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

func TestLinker_LinkOrRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("registers a new user", func(t *testing.T) {
		linker, _, db, rec := setupLinker(t)
		profile := Profile{
			Provider:   ProviderGitHub,
			ProviderID: "42",
			Email:      " Octo@GitHub.com ",
			Name:       "Octo",
			AvatarURL:  "https://avatars/42",
		}

		user, err := linker.LinkOrRegister(ctx, profile)
		require.NoError(t, err)
		assert.Equal(t, "octo@github.com", user.Email)
		assert.Equal(t, auth.GlobalRoleUser, user.Role)
		assert.True(t, user.EmailVerified)
		assert.True(t, user.IsActive)
		assert.False(t, user.HasPassword())
		assert.Equal(t, "https://avatars/42", user.UserMetadata["avatar_url"])
		assert.Equal(t, []string{audit.ActionRegister}, rec.actions)

		again, err := linker.LinkOrRegister(ctx, profile)
		require.NoError(t, err)
		assert.Equal(t, user.ID, again.ID)
		assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM users`))
		assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM identities`))

		identities, err := linker.Identities(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, identities, 1)
		assert.Equal(t, "42", identities[0].ProviderID)
		assert.Equal(t, "Octo", identities[0].ProfileData["name"])
	})

	t.Run("links by email", func(t *testing.T) {
		linker, userStore, db, rec := setupLinker(t)
		existing := &auth.User{Email: "jane@example.com", PasswordHash: "hash", IsActive: true}
		require.NoError(t, userStore.Create(ctx, existing))

		user, err := linker.LinkOrRegister(ctx, Profile{Provider: ProviderGoogle, ProviderID: "g-1", Email: "jane@example.com"})
		require.NoError(t, err)
		assert.Equal(t, existing.ID, user.ID)

		user, err = linker.LinkOrRegister(ctx, Profile{Provider: ProviderGitHub, ProviderID: "gh-1", Email: "JANE@example.com"})
		require.NoError(t, err)
		assert.Equal(t, existing.ID, user.ID)

		assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM users`))
		assert.Equal(t, 2, countRows(t, db, `SELECT COUNT(*) FROM identities WHERE user_id = $1`, existing.ID))
		assert.Equal(t, []string{audit.ActionIdentityLink, audit.ActionIdentityLink}, rec.actions)
	})

	t.Run("identity wins over email", func(t *testing.T) {
		linker, _, _, _ := setupLinker(t)
		first, err := linker.LinkOrRegister(ctx, Profile{Provider: ProviderGitHub, ProviderID: "1", Email: "a@example.com"})
		require.NoError(t, err)

		user, err := linker.LinkOrRegister(ctx, Profile{Provider: ProviderGitHub, ProviderID: "1", Email: "changed@example.com"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, user.ID)
		assert.Equal(t, "a@example.com", user.Email)
	})

	t.Run("validation", func(t *testing.T) {
		linker, _, _, _ := setupLinker(t)
		for _, p := range []Profile{
			{ProviderID: "1", Email: "a@example.com"},
			{Provider: ProviderGitHub, Email: "a@example.com"},
			{Provider: ProviderGitHub, ProviderID: "1"},
		} {
			_, err := linker.LinkOrRegister(ctx, p)
			assert.ErrorIs(t, err, auth.ErrValidation)
		}
		_, err := linker.LinkOrRegister(ctx, Profile{Provider: ProviderGitHub, ProviderID: "1", Email: "not-an-email"})
		assert.ErrorIs(t, err, auth.ErrValidation)
	})

	t.Run("concurrent callbacks", func(t *testing.T) {
		linker, _, db, _ := setupLinker(t)
		profile := Profile{Provider: ProviderGoogle, ProviderID: "same", Email: "race@example.com"}

		var wg sync.WaitGroup
		ids := make([]string, 6)
		errs := make([]error, 6)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				user, err := linker.LinkOrRegister(ctx, profile)
				errs[i] = err
				if err == nil {
					ids[i] = user.ID
				}
			}(i)
		}
		wg.Wait()

		for i := range ids {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
		assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM users`))
		assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM identities`))
	})
}
