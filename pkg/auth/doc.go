// Package auth provides credentials, sessions and the shared vocabulary of
// the Warden authorization core.
//
// # Overview
//
// Warden never stores sessions server-side. A session is an HS256-signed
// JWT carrying a snapshot of the caller (id, email, global role and, for
// sessions minted by a cross-domain exchange, the tenant id and the
// tenant-scoped role). Possession of a valid, unexpired token is the only
// proof of authentication.
//
// # Key Components
//
// Passwords: bcrypt with cost 10
//
//	hash, err := auth.HashPassword("correct horse")
//	ok := auth.CheckPassword("correct horse", hash)
//
// Sessions: issue and verify with a pluggable clock
//
//	sessions, err := auth.NewSessionManager(secret, auth.WithTTL(24*time.Hour))
//	token, expiresAt, err := sessions.Issue(auth.Claims{UserID: u.ID, Email: u.Email, Role: u.Role})
//	claims, err := sessions.Verify(token)
//
// Cookies: the session cookie contract
//
//	auth.SetSessionCookie(w, token, expiresAt, secure)
//	auth.ClearSessionCookie(w, secure)
//
// Roles: two closed enumerations
//
//	GlobalRoleAdmin, GlobalRoleModerator, GlobalRoleUser
//	TenantRoleOwner > TenantRoleAdmin > TenantRoleMember > TenantRoleViewer > TenantRoleGuest
//
// Global roles are only an alias for a row in the roles table; permission
// decisions go through the rbac resolver, never through string comparison.
// Tenant roles are ordered, and TenantRole.AtLeast is the only comparison
// handlers use.
//
// # Staleness
//
// Role and tenant claims are resolved once at issuance. A role change takes
// effect for session claims only after the session is re-issued, so the
// session TTL bounds the staleness window. Permission-gated endpoints are not
// affected because they consult the resolver on every request.
//
// # Errors
//
// errors.go defines the error taxonomy shared by every package. Lower layers
// wrap these sentinels and the HTTP layer maps them to status codes.
package auth
