package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestSessions(t *testing.T, now *time.Time) *SessionManager {
	t.Helper()
	m, err := NewSessionManager(testSecret, WithClock(func() time.Time { return *now }))
	require.NoError(t, err)
	return m
}

func TestNewSessionManager_ShortSecret(t *testing.T) {
	_, err := NewSessionManager([]byte("short"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSessionManager_IssueVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestSessions(t, &now)

	claims := Claims{
		UserID:       "u-1",
		Email:        "a@x.com",
		Role:         GlobalRoleUser,
		TenantID:     "t-1",
		TenantRole:   TenantRoleMember,
		UserMetadata: Metadata{"avatar_url": "https://img"},
	}

	token, expiresAt, err := m.Issue(claims)
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), expiresAt)

	got, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, GlobalRoleUser, got.Role)
	assert.Equal(t, "t-1", got.TenantID)
	assert.Equal(t, TenantRoleMember, got.TenantRole)
	assert.True(t, got.IsTenantScoped())
	assert.Equal(t, "https://img", got.UserMetadata["avatar_url"])
}

func TestSessionManager_Verify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestSessions(t, &now)
	token, _, err := m.Issue(Claims{UserID: "u-1", Email: "a@x.com", Role: GlobalRoleAdmin})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := now.Add(24*time.Hour + time.Second)
		expiredView := newTestSessions(t, &later)
		_, err := expiredView.Verify(token)
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("just before expiry", func(t *testing.T) {
		later := now.Add(24*time.Hour - time.Second)
		view := newTestSessions(t, &later)
		_, err := view.Verify(token)
		assert.NoError(t, err)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)
		forged, _, err := m.Issue(Claims{UserID: "u-2", Role: GlobalRoleAdmin})
		require.NoError(t, err)
		forgedParts := strings.Split(forged, ".")
		tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]
		_, err = m.Verify(tampered)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewSessionManager([]byte("ffffffffffffffffffffffffffffffff"), WithClock(func() time.Time { return now }))
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("alg none rejected", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, sessionClaims{
			User: Claims{UserID: "u-1"},
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u-1",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		})
		s, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.Verify(s)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := m.Verify("not-a-token")
		assert.ErrorIs(t, err, ErrMalformedToken)
		_, err = m.Verify("")
		assert.ErrorIs(t, err, ErrMalformedToken)
	})
}

func TestSessionManager_WithTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := NewSessionManager(testSecret, WithTTL(time.Hour), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, m.TTL())

	_, expiresAt, err := m.Issue(Claims{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expiresAt)
}

func TestSessionManager_Issuer(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := WithClock(func() time.Time { return now })
	a, err := NewSessionManager(testSecret, WithIssuer("warden-a"), clock)
	require.NoError(t, err)
	b, err := NewSessionManager(testSecret, WithIssuer("warden-b"), clock)
	require.NoError(t, err)

	token, _, err := a.Issue(Claims{UserID: "u-1"})
	require.NoError(t, err)

	_, err = a.Verify(token)
	assert.NoError(t, err)
	_, err = b.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSessionManager_IssueRequiresUser(t *testing.T) {
	now := time.Now()
	m := newTestSessions(t, &now)
	_, _, err := m.Issue(Claims{Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrValidation)
}
