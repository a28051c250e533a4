package rbac

import (
	"sort"
	"time"
)

// Permission is a globally defined capability named resource.action.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Role is a global RBAC role. System roles cannot be renamed or deleted.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"isSystem"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PermissionCount is used by listings that do not need the names.
func (r *Role) PermissionCount() int {
	return len(r.Permissions)
}

// Override is a per-user grant or deny that wins over the role.
type Override struct {
	Permission string    `json:"permission"`
	Granted    bool      `json:"granted"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Category groups permissions for display.
type Category struct {
	Name        string       `json:"category"`
	Permissions []Permission `json:"permissions"`
}

// RoleResult is returned by operations that assign permissions by name.
// Skipped lists names that matched no permission and were ignored.
type RoleResult struct {
	Role    *Role    `json:"role"`
	Skipped []string `json:"skipped"`
}

// RoleInput creates a role.
type RoleInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// RoleUpdate changes a custom role's name or description. Nil fields are unchanged.
type RoleUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// UserPermissionDetail describes how a user's permission set is made up.
type UserPermissionDetail struct {
	UserID    string     `json:"userId"`
	Role      *Role      `json:"role"`
	Effective []string   `json:"effective"`
	Overrides []Override `json:"overrides"`
}

// Snapshot is everything needed to answer permission questions for one
// user: the names granted by their role and their overrides. Snapshots
// are shared through caches and must not be mutated after construction.
type Snapshot struct {
	UserID          string          `json:"userId"`
	RolePermissions map[string]bool `json:"rolePermissions"`
	Overrides       map[string]bool `json:"overrides"`
}

// Has reports whether name is granted. An override is authoritative when
// present; otherwise the role decides.
func (s *Snapshot) Has(name string) bool {
	if s == nil {
		return false
	}
	if granted, ok := s.Overrides[name]; ok {
		return granted
	}
	return s.RolePermissions[name]
}

// Effective returns the sorted permission set: role permissions, then each
// override applied on top (added if granted, removed if not).
func (s *Snapshot) Effective() []string {
	if s == nil {
		return []string{}
	}
	set := make(map[string]struct{}, len(s.RolePermissions)+len(s.Overrides))
	for name := range s.RolePermissions {
		set[name] = struct{}{}
	}
	for name, granted := range s.Overrides {
		if granted {
			set[name] = struct{}{}
		} else {
			delete(set, name)
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
