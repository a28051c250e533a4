package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
)

// MaxRoleNameLength bounds custom role names.
const MaxRoleNameLength = 64

// Admin implements role and permission administration. Every mutation
// invalidates the affected cached snapshots before it returns; when that
// fails the change stays committed and ErrInvalidationFailed is returned.
type Admin struct {
	store    *Store
	resolver *Resolver
	audit    audit.Logger
	logger   *observability.Logger
}

// NewAdmin creates an Admin. auditLogger may be nil.
func NewAdmin(store *Store, resolver *Resolver, auditLogger audit.Logger, logger *observability.Logger) *Admin {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Admin{store: store, resolver: resolver, audit: auditLogger, logger: logger}
}

// ListRoles returns every role with its permissions.
func (a *Admin) ListRoles(ctx context.Context) ([]*Role, error) {
	return a.store.ListRoles(ctx)
}

// GetRole returns one role with its permissions.
func (a *Admin) GetRole(ctx context.Context, id string) (*Role, error) {
	return a.store.GetRole(ctx, id)
}

// ListPermissions returns the catalog grouped by category.
func (a *Admin) ListPermissions(ctx context.Context) ([]Category, error) {
	perms, err := a.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	categories := []Category{}
	for _, p := range perms {
		if n := len(categories); n == 0 || categories[n-1].Name != p.Category {
			categories = append(categories, Category{Name: p.Category})
		}
		last := &categories[len(categories)-1]
		last.Permissions = append(last.Permissions, p)
	}
	return categories, nil
}

func validateRoleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", auth.NewValidationError("name", "is required")
	}
	if len(name) > MaxRoleNameLength {
		return "", auth.NewValidationError("name", fmt.Sprintf("must be at most %d characters", MaxRoleNameLength))
	}
	return name, nil
}

// CreateRole creates a custom role. Permission names that match nothing in
// the catalog are skipped and listed in the result rather than failing the
// request.
func (a *Admin) CreateRole(ctx context.Context, actorID string, in RoleInput) (*RoleResult, error) {
	name, err := validateRoleName(in.Name)
	if err != nil {
		return nil, err
	}
	in.Name = name
	in.Description = strings.TrimSpace(in.Description)

	role, skipped, err := a.store.CreateRole(ctx, in)
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, a.audit, audit.Event{
		UserID:  actorID,
		Action:  audit.ActionRoleCreate,
		Details: map[string]any{"roleId": role.ID, "name": role.Name, "permissions": role.Permissions, "skipped": skipped},
	})
	return &RoleResult{Role: role, Skipped: skipped}, nil
}

// UpdateRole renames or re-describes a custom role. System roles are
// immutable in name and description.
func (a *Admin) UpdateRole(ctx context.Context, actorID, id string, in RoleUpdate) (*Role, error) {
	role, err := a.store.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, auth.ErrSystemRoleProtected
	}

	name, description := role.Name, role.Description
	if in.Name != nil {
		if name, err = validateRoleName(*in.Name); err != nil {
			return nil, err
		}
	}
	if in.Description != nil {
		description = strings.TrimSpace(*in.Description)
	}
	if err := a.store.UpdateRole(ctx, id, name, description); err != nil {
		return nil, err
	}

	audit.Record(ctx, a.audit, audit.Event{
		UserID:  actorID,
		Action:  audit.ActionRoleUpdate,
		Details: map[string]any{"roleId": id, "name": name},
	})
	return a.store.GetRole(ctx, id)
}

// UpdateRolePermissions replaces the role's permission set. System roles
// may be edited, but the admin role always keeps admin.access so the admin
// area cannot be locked out.
func (a *Admin) UpdateRolePermissions(ctx context.Context, actorID, id string, names []string) (*RoleResult, error) {
	role, err := a.store.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem && role.Name == string(auth.GlobalRoleAdmin) && !contains(names, PermAdminAccess) {
		names = append(names, PermAdminAccess)
	}

	assigned, skipped, err := a.store.ReplaceRolePermissions(ctx, id, names)
	if err != nil {
		return nil, err
	}
	invErr := a.invalidateAll(ctx)

	audit.Record(ctx, a.audit, audit.Event{
		UserID:  actorID,
		Action:  audit.ActionRolePermissions,
		Details: map[string]any{"roleId": id, "permissions": assigned, "skipped": skipped},
	})
	role.Permissions = assigned
	return &RoleResult{Role: role, Skipped: skipped}, invErr
}

// DeleteRole removes a custom role.
func (a *Admin) DeleteRole(ctx context.Context, actorID, id string) error {
	if err := a.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	invErr := a.invalidateAll(ctx)

	audit.Record(ctx, a.audit, audit.Event{
		UserID:  actorID,
		Action:  audit.ActionRoleDelete,
		Details: map[string]any{"roleId": id},
	})
	return invErr
}

// GrantPermission records a granted override for the user.
func (a *Admin) GrantPermission(ctx context.Context, actorID, userID, permission string) error {
	return a.setOverride(ctx, actorID, userID, permission, true)
}

// RevokePermission records a denied override for the user, which wins even
// when the user's role grants the permission.
func (a *Admin) RevokePermission(ctx context.Context, actorID, userID, permission string) error {
	return a.setOverride(ctx, actorID, userID, permission, false)
}

func (a *Admin) setOverride(ctx context.Context, actorID, userID, permission string, granted bool) error {
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return auth.NewValidationError("permission", "is required")
	}
	if err := a.store.SetOverride(ctx, userID, permission, granted); err != nil {
		return err
	}
	invErr := a.invalidate(ctx, userID)

	action := audit.ActionPermissionGrant
	if !granted {
		action = audit.ActionPermissionRevoke
	}
	audit.Record(ctx, a.audit, audit.Event{
		UserID:  actorID,
		Action:  action,
		Details: map[string]any{"targetUserId": userID, "permission": permission},
	})
	return invErr
}

// RemoveOverride deletes the user's override so the role decides again.
func (a *Admin) RemoveOverride(ctx context.Context, actorID, userID, permission string) error {
	if err := a.store.RemoveOverride(ctx, userID, permission); err != nil {
		return err
	}
	invErr := a.invalidate(ctx, userID)

	audit.Record(ctx, a.audit, audit.Event{
		UserID:  actorID,
		Action:  audit.ActionOverrideRemove,
		Details: map[string]any{"targetUserId": userID, "permission": permission},
	})
	return invErr
}

// AssignRole sets the user's global role.
func (a *Admin) AssignRole(ctx context.Context, actorID, userID, roleID string) (*Role, error) {
	role, err := a.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := a.store.AssignRole(ctx, userID, role); err != nil {
		return nil, err
	}
	invErr := a.invalidate(ctx, userID)

	audit.Record(ctx, a.audit, audit.Event{
		UserID:  actorID,
		Action:  audit.ActionRoleAssign,
		Details: map[string]any{"targetUserId": userID, "roleId": role.ID, "role": role.Name},
	})
	return role, invErr
}

// UserPermissionDetail returns the user's role, overrides and effective set.
func (a *Admin) UserPermissionDetail(ctx context.Context, userID string) (*UserPermissionDetail, error) {
	role, err := a.store.UserRole(ctx, userID)
	if err != nil {
		return nil, err
	}
	overrides, err := a.store.ListOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap, err := a.resolver.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserPermissionDetail{
		UserID:    userID,
		Role:      role,
		Effective: snap.Effective(),
		Overrides: overrides,
	}, nil
}

// invalidationAttempts bounds retries of a failed cache invalidation.
const invalidationAttempts = 3

// ErrInvalidationFailed reports a committed change whose cached snapshots
// could not be invalidated. The change itself is not rolled back.
var ErrInvalidationFailed = errors.New("permission change saved but cache invalidation failed")

func (a *Admin) retryInvalidation(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= invalidationAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		a.logger.WithError(err).WithField("attempt", attempt).Warn("permission cache invalidation failed")
		if attempt < invalidationAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrInvalidationFailed, ctx.Err())
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidationFailed, err)
}

func (a *Admin) invalidate(ctx context.Context, userID string) error {
	return a.retryInvalidation(ctx, func(ctx context.Context) error {
		return a.resolver.Invalidate(ctx, userID)
	})
}

func (a *Admin) invalidateAll(ctx context.Context) error {
	return a.retryInvalidation(ctx, a.resolver.InvalidateAll)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.TrimSpace(v) == s {
			return true
		}
	}
	return false
}
