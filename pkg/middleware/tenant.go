package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/tenancy"
)

// TenantResolver resolves tenant contexts.
type TenantResolver interface {
	RequirePermission(ctx context.Context, slug, userID string, required auth.TenantRole) (*tenancy.Context, error)
}

// TenantContext resolves the {slug} route variable for the session user,
// requires at least minRole and stores the tenant context in the request.
// A tenant-scoped session only reaches the tenant it was issued for.
func TenantContext(resolver TenantResolver, minRole auth.TenantRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, err := resolver.RequirePermission(r.Context(), mux.Vars(r)["slug"], contextkeys.UserID(r.Context()), minRole)
			if err != nil {
				httputil.WriteAppError(w, r, err)
				return
			}
			if claims, ok := contextkeys.Claims(r.Context()); ok && claims.IsTenantScoped() && claims.TenantID != tc.TeamID {
				httputil.WriteForbidden(w, "Session is scoped to another tenant")
				return
			}
			next.ServeHTTP(w, r.WithContext(tenancy.WithContext(r.Context(), tc)))
		})
	}
}
