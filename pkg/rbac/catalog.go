package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/warden/pkg/auth"
)

// Permission names.
const (
	PermUsersView    = "users.view"
	PermUsersCreate  = "users.create"
	PermUsersUpdate  = "users.update"
	PermUsersDelete  = "users.delete"
	PermUsersSuspend = "users.suspend"

	PermTeamsView          = "teams.view"
	PermTeamsCreate        = "teams.create"
	PermTeamsUpdate        = "teams.update"
	PermTeamsDelete        = "teams.delete"
	PermTeamsManageMembers = "teams.manage_members"

	PermRolesView   = "roles.view"
	PermRolesCreate = "roles.create"
	PermRolesUpdate = "roles.update"
	PermRolesDelete = "roles.delete"

	PermBillingView   = "billing.view"
	PermBillingManage = "billing.manage"

	PermLogsView       = "logs.view"
	PermSettingsManage = "settings.manage"

	// PermAdminAccess gates the admin area as a whole.
	PermAdminAccess = "admin.access"
)

// DefaultPermissions is the permission catalog installed by Seed.
var DefaultPermissions = []Permission{
	{Name: PermUsersView, Description: "View user list", Category: "users"},
	{Name: PermUsersCreate, Description: "Create new users", Category: "users"},
	{Name: PermUsersUpdate, Description: "Update user information", Category: "users"},
	{Name: PermUsersDelete, Description: "Delete users", Category: "users"},
	{Name: PermUsersSuspend, Description: "Suspend/activate users", Category: "users"},
	{Name: PermTeamsView, Description: "View teams", Category: "teams"},
	{Name: PermTeamsCreate, Description: "Create teams", Category: "teams"},
	{Name: PermTeamsUpdate, Description: "Update team settings", Category: "teams"},
	{Name: PermTeamsDelete, Description: "Delete teams", Category: "teams"},
	{Name: PermTeamsManageMembers, Description: "Add/remove team members", Category: "teams"},
	{Name: PermRolesView, Description: "View roles", Category: "roles"},
	{Name: PermRolesCreate, Description: "Create custom roles", Category: "roles"},
	{Name: PermRolesUpdate, Description: "Update role permissions", Category: "roles"},
	{Name: PermRolesDelete, Description: "Delete roles", Category: "roles"},
	{Name: PermBillingView, Description: "View billing information", Category: "billing"},
	{Name: PermBillingManage, Description: "Manage billing and subscriptions", Category: "billing"},
	{Name: PermLogsView, Description: "View activity logs", Category: "system"},
	{Name: PermSettingsManage, Description: "Manage system settings", Category: "system"},
	{Name: PermAdminAccess, Description: "Access the admin area", Category: "system"},
}

// SystemRole describes a built-in role and the permissions it starts with.
// A nil Permissions list means every permission in the catalog.
type SystemRole struct {
	Name        auth.GlobalRole
	Description string
	Permissions []string
}

// SystemRoles are created by Seed, one per global role.
var SystemRoles = []SystemRole{
	{
		Name:        auth.GlobalRoleAdmin,
		Description: "System administrator with full access",
	},
	{
		Name:        auth.GlobalRoleModerator,
		Description: "Moderator with elevated permissions",
		Permissions: []string{
			PermUsersView, PermUsersUpdate, PermUsersSuspend,
			PermTeamsView, PermTeamsUpdate, PermTeamsManageMembers,
			PermLogsView,
		},
	},
	{
		Name:        auth.GlobalRoleUser,
		Description: "Standard user with basic access",
		Permissions: []string{PermUsersView, PermTeamsView},
	},
}

// Seed installs the permission catalog and the system roles. It is safe to
// run repeatedly: existing rows are left alone, except that the admin role
// is always topped up with every permission. Users whose role_id is unset
// get it resolved from their role alias.
func Seed(ctx context.Context, db *sql.DB) error {
	now := time.Now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range DefaultPermissions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO permissions (id, name, description, category, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name) DO NOTHING`,
			uuid.NewString(), p.Name, p.Description, p.Category, now,
		); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", p.Name, err)
		}
	}

	for _, sr := range SystemRoles {
		var roleID string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO roles (id, name, description, is_system, created_at, updated_at)
			VALUES ($1, $2, $3, TRUE, $4, $4)
			ON CONFLICT (name) DO NOTHING
			RETURNING id`,
			uuid.NewString(), string(sr.Name), sr.Description, now,
		).Scan(&roleID)
		created := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to seed role %s: %w", sr.Name, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE roles SET is_system = TRUE WHERE name = $1`, string(sr.Name)); err != nil {
			return fmt.Errorf("failed to mark role %s as system: %w", sr.Name, err)
		}

		switch {
		case sr.Permissions == nil:
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, permission_id)
				SELECT r.id, p.id FROM roles r, permissions p WHERE r.name = $1
				ON CONFLICT (role_id, permission_id) DO NOTHING`,
				string(sr.Name),
			); err != nil {
				return fmt.Errorf("failed to grant all permissions to %s: %w", sr.Name, err)
			}
		case created:
			for _, name := range sr.Permissions {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO role_permissions (role_id, permission_id)
					SELECT $1, id FROM permissions WHERE name = $2
					ON CONFLICT (role_id, permission_id) DO NOTHING`,
					roleID, name,
				); err != nil {
					return fmt.Errorf("failed to grant %s to %s: %w", name, sr.Name, err)
				}
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET role_id = (SELECT r.id FROM roles r WHERE r.name = users.role)
		WHERE role_id IS NULL`); err != nil {
		return fmt.Errorf("failed to backfill user roles: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}
