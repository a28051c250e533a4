package teams

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
)

// DefaultThemeColor is applied when a team has no theme color.
const DefaultThemeColor = "#000000"

// MaxParentDepth bounds the parent walk of the cycle check.
const MaxParentDepth = 64

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9-]+$`)
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// MemberStatus is the lifecycle state of a membership.
type MemberStatus string

const (
	MemberStatusInvited MemberStatus = "invited"
	MemberStatusActive  MemberStatus = "active"
)

// Team is a tenant.
type Team struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Domain       *string   `json:"domain,omitempty"`
	ParentTeamID *string   `json:"parentTeamId,omitempty"`
	IsSuspended  bool      `json:"isSuspended"`
	ThemeColor   string    `json:"themeColor"`
	LogoURL      string    `json:"logoUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Membership is a team as seen by one of its active members.
type Membership struct {
	Team
	Role auth.TenantRole `json:"role"`
}

// Member is a user's membership in a team.
type Member struct {
	TeamID    string          `json:"teamId"`
	UserID    string          `json:"userId"`
	Email     string          `json:"email"`
	Name      string          `json:"name,omitempty"`
	Role      auth.TenantRole `json:"role"`
	Status    MemberStatus    `json:"status"`
	InvitedBy *string         `json:"invitedBy,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// TeamRole is a custom role label defined by a team.
type TeamRole struct {
	ID          string    `json:"id"`
	TeamID      string    `json:"teamId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreateTeamInput holds the fields of a new team.
type CreateTeamInput struct {
	Name         string  `json:"name"`
	Slug         string  `json:"slug"`
	Domain       string  `json:"domain,omitempty"`
	ParentTeamID *string `json:"parentTeamId,omitempty"`
}

// UpdateTeamInput changes a team. Nil fields are left alone. An empty
// Domain or ParentTeamID clears the value.
type UpdateTeamInput struct {
	Name         *string `json:"name,omitempty"`
	Slug         *string `json:"slug,omitempty"`
	Domain       *string `json:"domain,omitempty"`
	ThemeColor   *string `json:"themeColor,omitempty"`
	LogoURL      *string `json:"logoUrl,omitempty"`
	ParentTeamID *string `json:"parentTeamId,omitempty"`
}

// Invitation is the result of inviting an email address to a team. Token
// is the plaintext invitation token; only its hash is stored.
type Invitation struct {
	Team        *Team           `json:"team"`
	UserID      string          `json:"userId"`
	Email       string          `json:"email"`
	Role        auth.TenantRole `json:"role"`
	Token       string          `json:"-"`
	NewAccount  bool            `json:"newAccount"`
	InvitedByID string          `json:"invitedBy"`
}

// ValidateSlug checks the slug format.
func ValidateSlug(slug string) error {
	if slug == "" {
		return auth.NewValidationError("slug", "is required")
	}
	if !slugPattern.MatchString(slug) {
		return auth.NewValidationError("slug", "must contain only lowercase letters, numbers and hyphens")
	}
	return nil
}

// NormalizeDomain reduces a URL or bare host to a lower-cased host name
// without port. It returns "" when nothing usable remains.
func NormalizeDomain(urlOrDomain string) string {
	s := strings.TrimSpace(urlOrDomain)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}
