package tenancy

import (
	"context"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
)

// Context is a user's resolved authorization context inside one team.
type Context struct {
	TeamID       string          `json:"teamId"`
	Slug         string          `json:"slug"`
	Name         string          `json:"name"`
	Domain       *string         `json:"domain,omitempty"`
	ParentTeamID *string         `json:"parentTeamId,omitempty"`
	IsSuspended  bool            `json:"isSuspended"`
	UserID       string          `json:"userId"`
	Role         auth.TenantRole `json:"role"`
}

// Allows reports whether the context's role satisfies required.
func (c *Context) Allows(required auth.TenantRole) bool {
	return c != nil && c.Role.AtLeast(required)
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return contextkeys.WithTenant(ctx, tc)
}

// FromContext returns the tenant context stored by WithContext.
func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(contextkeys.TenantKey).(*Context)
	return tc, ok && tc != nil
}
