package auth

import (
	"fmt"
	"time"
)

// PlaceholderPassword is stored as the credential of users created by a
// team invitation until they accept it and choose a password.
const PlaceholderPassword = "placeholder"

// Metadata is a free-form JSON object attached to a user.
type Metadata map[string]any

// User is an account. PasswordHash is empty for social-only accounts.
type User struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"`
	Name               string     `json:"name,omitempty"`
	Image              string     `json:"image,omitempty"`
	Role               GlobalRole `json:"role"`
	RoleID             *string    `json:"role_id,omitempty"`
	UserMetadata       Metadata   `json:"user_metadata"`
	AppMetadata        Metadata   `json:"app_metadata"`
	EmailVerified      bool       `json:"email_verified"`
	IsActive           bool       `json:"is_active"`
	IsTwoFactorEnabled bool       `json:"is_two_factor_enabled"`
	TermsAcceptedAt    *time.Time `json:"terms_accepted_at,omitempty"`
	PrivacyAcceptedAt  *time.Time `json:"privacy_accepted_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasPassword reports whether the user can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != "" && u.PasswordHash != PlaceholderPassword
}

// IsPlaceholder reports whether the user was created by an invitation that
// has not been accepted yet.
func (u *User) IsPlaceholder() bool {
	return u.PasswordHash == PlaceholderPassword
}

// Claims returns the session claims for a global (non-tenant) session.
func (u *User) Claims() Claims {
	return Claims{
		UserID:       u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		UserMetadata: u.UserMetadata,
		AppMetadata:  u.AppMetadata,
	}
}

// Identity links an external provider account to a user.
type Identity struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	ProviderID  string    `json:"provider_id"`
	ProfileData Metadata  `json:"profile_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GlobalRole is the application-wide role label of a user. It is an alias
// for a system row in the roles table and is never branched on directly.
type GlobalRole string

const (
	GlobalRoleAdmin     GlobalRole = "admin"
	GlobalRoleModerator GlobalRole = "moderator"
	GlobalRoleUser      GlobalRole = "user"
)

// GlobalRoles lists every global role.
var GlobalRoles = []GlobalRole{GlobalRoleAdmin, GlobalRoleModerator, GlobalRoleUser}

// ParseGlobalRole converts s to a GlobalRole.
func ParseGlobalRole(s string) (GlobalRole, error) {
	r := GlobalRole(s)
	if !r.Valid() {
		return "", NewValidationError("role", fmt.Sprintf("unknown role %q", s))
	}
	return r, nil
}

// Valid reports whether r is one of the known global roles.
func (r GlobalRole) Valid() bool {
	for _, known := range GlobalRoles {
		if r == known {
			return true
		}
	}
	return false
}

func (r GlobalRole) String() string {
	return string(r)
}

// TenantRole is the role of a member inside a team. Besides the built-in
// roles, a team may define custom role labels; those rank as viewer.
type TenantRole string

const (
	TenantRoleOwner  TenantRole = "owner"
	TenantRoleAdmin  TenantRole = "admin"
	TenantRoleMember TenantRole = "member"
	TenantRoleViewer TenantRole = "viewer"
	// TenantRoleGuest is given to a non-member admitted by an auth-code
	// exchange. It ranks below every member role.
	TenantRoleGuest TenantRole = "guest"
)

// tenantRoleOrder is most privileged first.
var tenantRoleOrder = []TenantRole{TenantRoleOwner, TenantRoleAdmin, TenantRoleMember, TenantRoleViewer}

// BuiltinTenantRoles returns the built-in member roles, most privileged first.
func BuiltinTenantRoles() []TenantRole {
	out := make([]TenantRole, len(tenantRoleOrder))
	copy(out, tenantRoleOrder)
	return out
}

// IsBuiltin reports whether r is one of owner, admin, member or viewer.
func (r TenantRole) IsBuiltin() bool {
	for _, known := range tenantRoleOrder {
		if r == known {
			return true
		}
	}
	return false
}

// Rank returns the position of r in the role ordering (0 is owner).
func (r TenantRole) Rank() int {
	for i, known := range tenantRoleOrder {
		if r == known {
			return i
		}
	}
	if r == "" || r == TenantRoleGuest {
		return len(tenantRoleOrder)
	}
	return TenantRoleViewer.Rank()
}

// AtLeast reports whether r is at least as privileged as required.
func (r TenantRole) AtLeast(required TenantRole) bool {
	return r.Rank() <= required.Rank()
}

func (r TenantRole) String() string {
	return string(r)
}
