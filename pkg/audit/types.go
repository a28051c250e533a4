package audit

import "time"

// Action names stored in activity_logs.action.
const (
	ActionRegister         = "user.register"
	ActionLogin            = "user.login"
	ActionLoginFailed      = "user.login_failed"
	ActionLogout           = "user.logout"
	ActionEmailVerified    = "user.email_verified"
	ActionPasswordReset    = "user.password_reset"
	ActionSettingsUpdate   = "user.settings_update"
	ActionMetadataUpdate   = "user.metadata_update"
	ActionSocialLogin      = "user.social_login"
	ActionIdentityLink     = "user.identity_link"
	ActionAuthCodeExchange = "auth.code_exchange"
	ActionUserActive       = "user.active"

	ActionTeamCreate       = "team.create"
	ActionTeamUpdate       = "team.update"
	ActionTeamDelete       = "team.delete"
	ActionTeamInvite       = "team.invite"
	ActionTeamJoin         = "team.join"
	ActionTeamMemberRemove = "team.member_remove"
	ActionTeamMemberRole   = "team.member_role"
	ActionTeamRoleCreate   = "team.role_create"
	ActionTenantSuspend    = "tenant.suspend"
	ActionTenantResume     = "tenant.resume"

	ActionRoleCreate       = "role.create"
	ActionRoleUpdate       = "role.update"
	ActionRoleDelete       = "role.delete"
	ActionRolePermissions  = "role.permissions"
	ActionPermissionGrant  = "user.permission_grant"
	ActionPermissionRevoke = "user.permission_revoke"
	ActionOverrideRemove   = "user.override_remove"
	ActionRoleAssign       = "user.role_assign"
)

// Event is one activity log row. Empty UserID and TenantID are stored as NULL.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	TenantID  string         `json:"tenantId,omitempty"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Filter narrows List.
type Filter struct {
	Limit    int
	Offset   int
	TenantID string
	UserID   string
	Action   string
}

// DefaultListLimit applies when Filter.Limit is not positive.
const DefaultListLimit = 50

// MaxListLimit caps Filter.Limit.
const MaxListLimit = 500
