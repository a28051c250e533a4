package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

// PermissionChecker answers single permission checks.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, permission string) bool
}

// GuardConfig configures RouteGuard.
type GuardConfig struct {
	// Checker resolves the admin permission. A nil Checker denies the
	// admin area to everyone.
	Checker PermissionChecker

	// AdminPermission gates AdminPrefix.
	AdminPermission string

	LoginPath   string
	HomePath    string
	AdminPrefix string
	APIPrefix   string

	// ProtectedPrefixes require a session.
	ProtectedPrefixes []string

	// AuthPages redirect to HomePath when a session is present.
	AuthPages []string
}

// DefaultGuardConfig returns the page layout used by the web app.
func DefaultGuardConfig(checker PermissionChecker, adminPermission string) GuardConfig {
	return GuardConfig{
		Checker:           checker,
		AdminPermission:   adminPermission,
		LoginPath:         "/login",
		HomePath:          "/dashboard",
		AdminPrefix:       "/admin",
		APIPrefix:         "/api/",
		ProtectedPrefixes: []string{"/dashboard", "/teams", "/settings"},
		AuthPages:         []string{"/login", "/register", "/forgot-password", "/reset-password"},
	}
}

func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

// RouteGuard redirects page requests according to the session in the
// request context. It must run after Session. API paths pass through;
// they answer with status codes instead.
func RouteGuard(cfg GuardConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if cfg.APIPrefix != "" && hasPathPrefix(path, cfg.APIPrefix) {
				next.ServeHTTP(w, r)
				return
			}
			claims, hasSession := contextkeys.Claims(r.Context())

			if cfg.AdminPrefix != "" && hasPathPrefix(path, cfg.AdminPrefix) {
				if !hasSession {
					http.Redirect(w, r, cfg.LoginPath, http.StatusFound)
					return
				}
				if cfg.Checker == nil || claims.IsTenantScoped() ||
					!cfg.Checker.HasPermission(r.Context(), claims.UserID, cfg.AdminPermission) {
					http.Redirect(w, r, cfg.HomePath, http.StatusFound)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			for _, prefix := range cfg.ProtectedPrefixes {
				if hasPathPrefix(path, prefix) && !hasSession {
					http.Redirect(w, r, cfg.LoginPath, http.StatusFound)
					return
				}
			}

			if hasSession {
				for _, page := range cfg.AuthPages {
					if hasPathPrefix(path, page) {
						http.Redirect(w, r, cfg.HomePath, http.StatusFound)
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
