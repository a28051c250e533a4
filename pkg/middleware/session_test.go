package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte(strings.Repeat("k", 32))

func claimsEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := contextkeys.Claims(r.Context()); ok {
			_, _ = w.Write([]byte(claims.UserID))
			return
		}
		_, _ = w.Write([]byte("anonymous"))
	})
}

func TestSession(t *testing.T) {
	sessions, err := auth.NewSessionManager(testSecret)
	require.NoError(t, err)
	token, _, err := sessions.Issue(auth.Claims{UserID: "user-1", Email: "a@example.com", Role: auth.GlobalRoleUser})
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	stale, err := auth.NewSessionManager(testSecret, auth.WithClock(func() time.Time { return past }))
	require.NoError(t, err)
	expired, _, err := stale.Issue(auth.Claims{UserID: "user-1"})
	require.NoError(t, err)

	handler := Session(sessions)(claimsEcho())

	tests := []struct {
		name    string
		prepare func(r *http.Request)
		want    string
	}{
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: token}) }, "user-1"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, "user-1"},
		{"none", func(r *http.Request) {}, "anonymous"},
		{"tampered", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token+"x") }, "anonymous"},
		{"expired", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) }, "anonymous"},
		{"garbage", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "abc"}) }, "anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestRequireSession(t *testing.T) {
	handler := RequireSession(claimsEcho())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req = req.WithContext(contextkeys.WithClaims(req.Context(), &auth.Claims{UserID: "u"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u", rec.Body.String())
}
