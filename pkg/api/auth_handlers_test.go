package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/email"
	"github.com/platinummonkey/warden/pkg/teams"
	"github.com/platinummonkey/warden/pkg/tokens"
	"github.com/platinummonkey/warden/pkg/users"
)

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	t.Run("creates unverified user and sends verification", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
			"email":    "New@Example.com",
			"password": "secret123",
			"name":     "New User",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		body := decode(t, rec)
		assert.Equal(t, "Confirmation email sent", body["message"])
		user := body["user"].(map[string]interface{})
		assert.Equal(t, "new@example.com", user["email"])
		assert.Equal(t, false, user["email_verified"])
		assert.NotContains(t, rec.Body.String(), "password")

		s.outbox.linkToken(t, "new@example.com", email.TemplateVerification)
	})

	t.Run("duplicate email", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
			"email":    "new@example.com",
			"password": "secret123",
			"name":     "Again",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Email already in use", decode(t, rec)["error"])
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name string
			body map[string]string
		}{
			{"bad email", map[string]string{"email": "nope", "password": "secret123", "name": "A"}},
			{"short password", map[string]string{"email": "a@example.com", "password": "123", "name": "A"}},
			{"missing name", map[string]string{"email": "a@example.com", "password": "secret123"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := s.do(http.MethodPost, "/api/auth/register", "", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
	})
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	user := s.createUser("login@example.com", auth.GlobalRoleUser)

	t.Run("success sets session cookie", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "Login@Example.com",
			"password": "password123",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		cookie := sessionCookie(rec)
		require.NotNil(t, cookie)
		assert.True(t, cookie.HttpOnly)

		claims, err := s.sessions.Verify(cookie.Value)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, auth.GlobalRoleUser, claims.Role)
		assert.False(t, claims.IsTenantScoped())
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "login@example.com",
			"password": "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, invalidCredentials, decode(t, rec)["error"])
		assert.Nil(t, sessionCookie(rec))
	})

	t.Run("unknown email gives the same answer", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "ghost@example.com",
			"password": "password123",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, invalidCredentials, decode(t, rec)["error"])
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "login@example.com"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("disabled account", func(t *testing.T) {
		disabled := s.createUser("disabled@example.com", auth.GlobalRoleUser)
		require.NoError(t, s.users.SetActive(context.Background(), disabled.ID, false))

		rec := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "disabled@example.com",
			"password": "password123",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestLogin_TwoFactor(t *testing.T) {
	s := newTestServer(t)
	user := s.createUser("2fa@example.com", auth.GlobalRoleUser)
	enabled := true
	_, err := s.users.UpdateSettings(context.Background(), user.ID, users.Settings{IsTwoFactorEnabled: &enabled})
	require.NoError(t, err)

	creds := map[string]string{"email": "2fa@example.com", "password": "password123"}

	rec := s.do(http.MethodPost, "/api/auth/login", "", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["twoFactor"])
	assert.Nil(t, sessionCookie(rec))

	code := s.outbox.twoFactorCode(t, "2fa@example.com")

	t.Run("wrong code", func(t *testing.T) {
		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}
		rec := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "2fa@example.com", "password": "password123", "code": wrong,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid code", decode(t, rec)["error"])
	})

	t.Run("correct code signs in", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "2fa@example.com", "password": "password123", "code": code,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotNil(t, sessionCookie(rec))
	})

	t.Run("code cannot be reused", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "2fa@example.com", "password": "password123", "code": code,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogoutAndVerify(t *testing.T) {
	s := newTestServer(t)
	user := s.createUser("session@example.com", auth.GlobalRoleUser)
	session := s.sessionFor(user)

	rec := s.do(http.MethodGet, "/api/auth/verify", session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	claims := decode(t, rec)["user"].(map[string]interface{})
	assert.Equal(t, user.ID, claims["id"])

	rec = s.do(http.MethodGet, "/api/auth/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/auth/verify", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/logout", session, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestNewVerification(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "verify@example.com", "password": "secret123", "name": "V",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	token := s.outbox.linkToken(t, "verify@example.com", email.TemplateVerification)

	rec = s.do(http.MethodPost, "/api/auth/new-verification", "", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	user, err := s.users.GetByEmail(context.Background(), "verify@example.com")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)

	t.Run("token is single use", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/new-verification", "", map[string]string{"token": token})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Token does not exist", decode(t, rec)["error"])
	})
}

func TestPasswordReset(t *testing.T) {
	s := newTestServer(t)
	s.createUser("reset@example.com", auth.GlobalRoleUser)

	t.Run("unknown email still succeeds", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "ghost@example.com"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Reset email sent", decode(t, rec)["message"])
	})

	rec := s.do(http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "reset@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := s.outbox.linkToken(t, "reset@example.com", email.TemplatePasswordReset)

	t.Run("weak password keeps the token", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": token, "password": "123"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	rec = s.do(http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": token, "password": "brand-new-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s.outbox.last(t, "reset@example.com", email.TemplatePasswordChanged)

	rec = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "reset@example.com", "password": "brand-new-pass"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "reset@example.com", "password": "password123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	t.Run("unknown token", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": token, "password": "another-pass"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCodeExchange(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	owner := s.createUser("owner@example.com", auth.GlobalRoleUser)
	team, err := s.teams.Create(ctx, owner.ID, teams.CreateTeamInput{Name: "Acme", Slug: "acme", Domain: "acme.example.com"})
	require.NoError(t, err)

	t.Run("requires a session", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/code", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	rec := s.do(http.MethodPost, "/api/auth/code", s.sessionFor(owner), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	code := decode(t, rec)["code"].(string)
	require.NotEmpty(t, code)

	rec = s.do(http.MethodPost, "/api/auth/exchange", "", map[string]string{
		"code":        code,
		"callbackUrl": "https://acme.example.com/auth/callback",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, sessionCookie(rec))

	token := decode(t, rec)["token"].(string)
	claims, err := s.sessions.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, team.ID, claims.TenantID)
	assert.Equal(t, auth.TenantRoleOwner, claims.TenantRole)

	rec = s.do(http.MethodGet, "/api/teams/acme", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("global admin is confined to the tenant", func(t *testing.T) {
		admin := s.createUser("admin@example.com", auth.GlobalRoleAdmin)
		rec := s.do(http.MethodPost, "/api/auth/code", s.sessionFor(admin), nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = s.do(http.MethodPost, "/api/auth/exchange", "", map[string]string{
			"code":        decode(t, rec)["code"].(string),
			"callbackUrl": "acme.example.com",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		user := body["user"].(map[string]interface{})
		assert.Equal(t, "user", user["role"])
		assert.Equal(t, "guest", user["tenantRole"])

		scoped := body["token"].(string)
		for _, path := range []string{"/api/admin/users", "/api/admin/roles", "/api/admin/activity"} {
			rec := s.do(http.MethodGet, path, scoped, nil)
			assert.Equal(t, http.StatusForbidden, rec.Code, path)
		}
		rec = s.do(http.MethodGet, "/api/teams/acme", scoped, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = s.do(http.MethodGet, "/api/admin/users", s.sessionFor(admin), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("code is single use", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/exchange", "", map[string]string{"code": code})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown code", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/exchange", "", map[string]string{"code": "nope"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAcceptInvite(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	owner := s.createUser("owner@example.com", auth.GlobalRoleUser)
	team, err := s.teams.Create(ctx, owner.ID, teams.CreateTeamInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)

	inv, err := s.teams.Invite(ctx, team.ID, owner.ID, "invitee@example.com", auth.TenantRoleMember)
	require.NoError(t, err)
	require.True(t, inv.NewAccount)

	t.Run("new account needs a password", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/accept-invite", "", map[string]string{"token": inv.Token})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	rec := s.do(http.MethodPost, "/api/auth/accept-invite", "", map[string]string{
		"token":    inv.Token,
		"password": "invitee-pass",
		"name":     "Invitee",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, sessionCookie(rec))
	assert.Equal(t, "acme", decode(t, rec)["team"].(map[string]interface{})["slug"])

	member, err := s.teams.GetMember(ctx, team.ID, inv.UserID)
	require.NoError(t, err)
	assert.Equal(t, auth.TenantRoleMember, member.Role)

	rec = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "invitee@example.com", "password": "invitee-pass"})
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("token cannot be reused", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/accept-invite", "", map[string]string{"token": inv.Token, "password": "whatever1"})
		assert.Contains(t, []int{http.StatusNotFound, http.StatusConflict}, rec.Code)
	})
}

func TestAuthRoutes_RateLimited(t *testing.T) {
	s := newTestServer(t)
	s.server = NewServer(Options{}, Services{
		DB:       s.db,
		Sessions: s.sessions,
		Users:    s.users,
		Tokens:   tokens.NewStore(s.db),
		Teams:    s.teams,
		Mailer:   email.NewMailer(s.outbox, "https://app.example.com", "Warden"),
	})

	var last int
	for i := 0; i < 12; i++ {
		last = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "ghost@example.com", "password": "password123",
		}).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
