package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Store handles RBAC data persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

// ListPermissions returns the catalog ordered by category and name.
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, category, created_at FROM permissions ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// permissionIDs maps every catalog name to its id.
func permissionIDs(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, name FROM permissions`)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		ids[name] = id
	}
	return ids, rows.Err()
}

// ListRoles returns every role with its permission names, system roles first.
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, is_system, created_at, updated_at FROM roles ORDER BY is_system DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	var (
		roles []*Role
		byID  = make(map[string]*Role)
	)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		roles = append(roles, r)
		byID[r.ID] = r
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	permRows, err := s.db.QueryContext(ctx, `
		SELECT rp.role_id, p.name FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		ORDER BY p.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer permRows.Close()
	for permRows.Next() {
		var roleID, name string
		if err := permRows.Scan(&roleID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		if r, ok := byID[roleID]; ok {
			r.Permissions = append(r.Permissions, name)
		}
	}
	return roles, permRows.Err()
}

// GetRole returns a role with its permission names.
func (s *Store) GetRole(ctx context.Context, id string) (*Role, error) {
	return s.getRole(ctx, `WHERE id = $1`, id)
}

// GetRoleByName returns a role by its unique name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.getRole(ctx, `WHERE name = $1`, name)
}

func (s *Store) getRole(ctx context.Context, where string, arg string) (*Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_system, created_at, updated_at FROM roles `+where, arg))
	if err != nil {
		return nil, err
	}
	names, err := s.rolePermissionNames(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Permissions = names
	return r, nil
}

func (s *Store) rolePermissionNames(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateRole inserts a custom role and assigns the named permissions in one
// transaction. Unknown names are skipped and returned.
func (s *Store) CreateRole(ctx context.Context, in RoleInput) (*Role, []string, error) {
	now := s.clock()
	role := &Role{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, $4)`,
		role.ID, role.Name, role.Description, now,
	); err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: role %q already exists", auth.ErrConflict, in.Name)
		}
		return nil, nil, fmt.Errorf("failed to create role: %w", err)
	}

	assigned, skipped, err := insertRolePermissions(ctx, tx, role.ID, in.Permissions)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit role: %w", err)
	}
	role.Permissions = assigned
	return role, skipped, nil
}

// UpdateRole changes a role's name and description.
func (s *Store) UpdateRole(ctx context.Context, id, name, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE roles SET name = $1, description = $2, updated_at = $3 WHERE id = $4`,
		name, description, s.clock(), id)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return fmt.Errorf("%w: role %q already exists", auth.ErrConflict, name)
		}
		return fmt.Errorf("failed to update role: %w", err)
	}
	return requireAffected(res, "role")
}

// ReplaceRolePermissions swaps a role's permission set atomically. Readers
// see either the old set or the new one.
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID string, names []string) ([]string, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Touching the row first serialises concurrent replacements of the same role.
	res, err := tx.ExecContext(ctx, `UPDATE roles SET updated_at = $1 WHERE id = $2`, s.clock(), roleID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock role: %w", err)
	}
	if err := requireAffected(res, "role"); err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return nil, nil, fmt.Errorf("failed to clear role permissions: %w", err)
	}
	assigned, skipped, err := insertRolePermissions(ctx, tx, roleID, names)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit role permissions: %w", err)
	}
	return assigned, skipped, nil
}

func insertRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, names []string) (assigned, skipped []string, err error) {
	ids, err := permissionIDs(ctx, tx)
	if err != nil {
		return nil, nil, err
	}

	assigned, skipped = []string{}, []string{}
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		id, ok := ids[name]
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, id); err != nil {
			return nil, nil, fmt.Errorf("failed to assign permission %s: %w", name, err)
		}
		assigned = append(assigned, name)
	}
	sort.Strings(assigned)
	return assigned, skipped, nil
}

// DeleteRole removes a custom role. Users holding it fall back to the role
// named by their alias.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	var isSystem bool
	err := s.db.QueryRowContext(ctx, `SELECT is_system FROM roles WHERE id = $1`, id).Scan(&isSystem)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: role", auth.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get role: %w", err)
	}
	if isSystem {
		return auth.ErrSystemRoleProtected
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1 AND is_system = FALSE`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return requireAffected(res, "role")
}

// SetOverride upserts a user's grant or deny for a permission.
func (s *Store) SetOverride(ctx context.Context, userID, permission string, granted bool) error {
	var permissionID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM permissions WHERE name = $1`, permission).Scan(&permissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: permission %q", auth.ErrNotFound, permission)
	}
	if err != nil {
		return fmt.Errorf("failed to get permission: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, granted, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, permission_id) DO UPDATE SET granted = excluded.granted`,
		userID, permissionID, granted, s.clock(),
	); err != nil {
		if storage.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: user", auth.ErrNotFound)
		}
		return fmt.Errorf("failed to set permission override: %w", err)
	}
	return nil
}

// RemoveOverride deletes a user's override so the role decides again.
func (s *Store) RemoveOverride(ctx context.Context, userID, permission string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM user_permissions
		WHERE user_id = $1 AND permission_id = (SELECT id FROM permissions WHERE name = $2)`,
		userID, permission)
	if err != nil {
		return fmt.Errorf("failed to remove permission override: %w", err)
	}
	return requireAffected(res, "override")
}

// ListOverrides returns a user's overrides ordered by permission name.
func (s *Store) ListOverrides(ctx context.Context, userID string) ([]Override, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name, up.granted, up.created_at FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1 ORDER BY p.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	overrides := []Override{}
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.Permission, &o.Granted, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// AssignRole points a user at a role. When the role is one of the global
// system roles the user's role alias follows it.
func (s *Store) AssignRole(ctx context.Context, userID string, role *Role) error {
	var (
		res sql.Result
		err error
	)
	if alias, parseErr := auth.ParseGlobalRole(role.Name); parseErr == nil && role.IsSystem {
		res, err = s.db.ExecContext(ctx,
			`UPDATE users SET role_id = $1, role = $2, updated_at = $3 WHERE id = $4`,
			role.ID, string(alias), s.clock(), userID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE users SET role_id = $1, updated_at = $2 WHERE id = $3`,
			role.ID, s.clock(), userID)
	}
	if err != nil {
		if storage.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: role", auth.ErrNotFound)
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return requireAffected(res, "user")
}

// UserRole returns the role a user resolves to: role_id when set, else the
// role named by the alias column. It returns nil when neither matches.
func (s *Store) UserRole(ctx context.Context, userID string) (*Role, error) {
	var roleID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(u.role_id, (SELECT r.id FROM roles r WHERE r.name = u.role))
		FROM users u WHERE u.id = $1`, userID).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user", auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user role: %w", err)
	}
	if !roleID.Valid {
		return nil, nil
	}
	return s.GetRole(ctx, roleID.String)
}

// LoadSnapshot reads a user's role permissions and overrides in a single
// statement so the two halves are consistent with each other.
func (s *Store) LoadSnapshot(ctx context.Context, userID string) (*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT 'role', p.name, TRUE
		FROM users u
		JOIN role_permissions rp ON rp.role_id = COALESCE(u.role_id, (SELECT r.id FROM roles r WHERE r.name = u.role))
		JOIN permissions p ON p.id = rp.permission_id
		WHERE u.id = $1
		UNION ALL
		SELECT 'override', p.name, up.granted
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}
	defer rows.Close()

	snap := &Snapshot{
		UserID:          userID,
		RolePermissions: make(map[string]bool),
		Overrides:       make(map[string]bool),
	}
	for rows.Next() {
		var (
			source, name string
			granted      bool
		)
		if err := rows.Scan(&source, &name, &granted); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if source == "override" {
			snap.Overrides[name] = granted
		} else {
			snap.RolePermissions[name] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}
	return snap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role", auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	r.Permissions = []string{}
	return &r, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", auth.ErrNotFound, what)
	}
	return nil
}
