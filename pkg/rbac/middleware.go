package rbac

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
)

// globalClaims returns the session claims for a global permission check.
// Sessions scoped to a single tenant never carry global permissions.
func globalClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := contextkeys.Claims(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Unauthorized")
		return nil, false
	}
	if claims.IsTenantScoped() {
		httputil.WriteForbidden(w, "Tenant-scoped session cannot use global permissions")
		return nil, false
	}
	return claims, true
}

// RequirePermission creates middleware that requires a specific permission.
// It expects session claims in the request context.
func RequirePermission(checker Checker, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := globalClaims(w, r)
			if !ok {
				return
			}
			if !checker.HasPermission(r.Context(), claims.UserID, permission) {
				httputil.WriteForbidden(w, "Missing required permission: "+permission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission creates middleware that requires any of the specified permissions
func RequireAnyPermission(checker Checker, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := globalClaims(w, r)
			if !ok {
				return
			}
			if !checker.HasAnyPermission(r.Context(), claims.UserID, permissions...) {
				httputil.WriteForbidden(w, "Missing required permissions. Need one of: "+strings.Join(permissions, ", "))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAllPermissions creates middleware that requires every listed
// permission. The 403 body names the ones that are missing.
func RequireAllPermissions(checker Checker, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := globalClaims(w, r)
			if !ok {
				return
			}
			var missing []string
			for _, p := range permissions {
				if !checker.HasPermission(r.Context(), claims.UserID, p) {
					missing = append(missing, p)
				}
			}
			if len(missing) > 0 {
				httputil.WriteForbidden(w, "Missing required permissions: "+strings.Join(missing, ", "))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
