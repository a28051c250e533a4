// Package middleware provides the HTTP middleware of the service.
//
// # Sessions
//
// Session verifies the session cookie (or a bearer token) and stores the
// claims in the request context. A bad token is treated as no session, so
// handlers decide between 401 and a redirect. RequireSession answers 401
// when there are no claims.
//
// # Route guard
//
// RouteGuard implements the page redirects of the web app:
//
//	/dashboard, /teams, /settings  without a session   -> /login
//	/admin                         without admin.access -> /dashboard
//	/login, /register, ...         with a session      -> /dashboard
//
// API paths are never redirected.
//
// # Tenants
//
// TenantContext resolves the {slug} route variable through the tenancy
// resolver and rejects callers below the required tenant role:
//
//	teams.Handle("/{slug}/members", middleware.TenantContext(resolver, auth.TenantRoleViewer)(h))
//
// # Rate limiting
//
// RateLimiter keeps a golang.org/x/time/rate token bucket per client IP in
// an expiring LRU. RedisRateLimiter shares a fixed window across instances
// with INCR and EXPIRE and fails open when Redis is unavailable.
//
// # Plumbing
//
// RequestID, Logging, Recovery, Metrics and MaxBytes are composed with
// Chain in the server.
package middleware
