// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// every producer and consumer of a value can be found from one place.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithClaims(ctx, claims)
//	claims, ok := contextkeys.Claims(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/warden/pkg/auth"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ClaimsKey contains *auth.Claims
	// Set by: middleware.Session (pkg/middleware/session.go)
	// Required by: RequireSession, permission and tenant middleware, handlers
	ClaimsKey Key = "session_claims"

	// TenantKey contains *tenancy.Context
	// Set by: middleware.TenantContext (pkg/middleware/tenant.go)
	// Required by: tenant-scoped team handlers
	TenantKey Key = "tenant_context"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, audit trail
	RequestIDKey Key = "request_id"
)

// WithClaims stores verified session claims in the context
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// Claims returns the verified session claims, if any
func Claims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// UserID returns the authenticated user id or "".
func UserID(ctx context.Context) string {
	if claims, ok := Claims(ctx); ok {
		return claims.UserID
	}
	return ""
}

// WithTenant adds the resolved tenant context. The value is typed by the
// tenancy package, which owns the accessor.
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
