package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
)

type fakeChecker map[string]bool

func (f fakeChecker) HasPermission(_ context.Context, userID, permission string) bool {
	return f[userID+":"+permission]
}

func TestRouteGuard(t *testing.T) {
	checker := fakeChecker{"admin:admin.access": true}
	handler := RouteGuard(DefaultGuardConfig(checker, "admin.access"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		path     string
		user     string
		wantCode int
		wantLoc  string
	}{
		{"dashboard without session", "/dashboard", "", http.StatusFound, "/login"},
		{"nested dashboard without session", "/dashboard/profile", "", http.StatusFound, "/login"},
		{"tenant page without session", "/teams/acme", "", http.StatusFound, "/login"},
		{"dashboard with session", "/dashboard", "user", http.StatusOK, ""},
		{"admin without session", "/admin", "", http.StatusFound, "/login"},
		{"admin without permission", "/admin/roles", "user", http.StatusFound, "/dashboard"},
		{"admin with permission", "/admin/roles", "admin", http.StatusOK, ""},
		{"login with session", "/login", "user", http.StatusFound, "/dashboard"},
		{"reset with session", "/reset-password", "user", http.StatusFound, "/dashboard"},
		{"login without session", "/login", "", http.StatusOK, ""},
		{"api is not redirected", "/api/teams", "", http.StatusOK, ""},
		{"api admin is not redirected", "/api/admin/roles", "user", http.StatusOK, ""},
		{"lookalike prefix", "/dashboards-public", "", http.StatusOK, ""},
		{"public page", "/", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != "" {
				req = req.WithContext(contextkeys.WithClaims(req.Context(), &auth.Claims{UserID: tt.user}))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantLoc, rec.Header().Get("Location"))
		})
	}
}

func TestRouteGuard_NilChecker(t *testing.T) {
	handler := RouteGuard(DefaultGuardConfig(nil, "admin.access"))(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req = req.WithContext(contextkeys.WithClaims(req.Context(), &auth.Claims{UserID: "admin"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestRouteGuard_TenantScopedAdmin(t *testing.T) {
	checker := fakeChecker{"admin:admin.access": true}
	handler := RouteGuard(DefaultGuardConfig(checker, "admin.access"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req = req.WithContext(contextkeys.WithClaims(req.Context(), &auth.Claims{UserID: "admin", TenantID: "team-acme", TenantRole: auth.TenantRoleOwner}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}
