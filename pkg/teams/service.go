package teams

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/users"
)

const teamColumns = `id, name, slug, domain, parent_team_id, is_suspended, theme_color, logo_url, created_at, updated_at`

// Service implements team persistence on database/sql.
type Service struct {
	db    *sql.DB
	users *users.Store
	audit audit.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAudit records team changes in the activity log.
func WithAudit(logger audit.Logger) Option {
	return func(s *Service) {
		s.audit = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a team service.
func NewService(db *sql.DB, userStore *users.Store, opts ...Option) *Service {
	s := &Service{db: db, users: userStore, audit: audit.NoOpLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Create creates a team and makes creatorID its owner in one transaction.
func (s *Service) Create(ctx context.Context, creatorID string, in CreateTeamInput) (*Team, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, auth.NewValidationError("name", "is required")
	}
	slug := strings.TrimSpace(in.Slug)
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	now := s.clock()
	team := &Team{
		ID:           uuid.NewString(),
		Name:         name,
		Slug:         slug,
		Domain:       optionalDomain(in.Domain),
		ParentTeamID: optionalID(in.ParentTeamID),
		ThemeColor:   DefaultThemeColor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO teams (id, name, slug, domain, parent_team_id, is_suspended, theme_color, logo_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, '', $7, $7)`,
		team.ID, team.Name, team.Slug, team.Domain, team.ParentTeamID, team.ThemeColor, now)
	if err != nil {
		return nil, mapTeamWriteError(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		team.ID, creatorID, string(auth.TenantRoleOwner), string(MemberStatusActive), now)
	if err != nil {
		if storage.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: user", auth.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to add team owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit team: %w", err)
	}

	audit.Record(ctx, s.audit, audit.Event{
		UserID:   creatorID,
		TenantID: team.ID,
		Action:   audit.ActionTeamCreate,
		Details:  map[string]any{"name": team.Name, "slug": team.Slug},
	})
	return team, nil
}

// GetByID returns a team or auth.ErrNotFound.
func (s *Service) GetByID(ctx context.Context, id string) (*Team, error) {
	return scanTeam(s.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
}

// GetBySlug returns a team or auth.ErrNotFound.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Team, error) {
	return scanTeam(s.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE slug = $1`, slug))
}

// GetByDomain returns the team bound to a custom domain. urlOrDomain may be
// a full URL.
func (s *Service) GetByDomain(ctx context.Context, urlOrDomain string) (*Team, error) {
	domain := NormalizeDomain(urlOrDomain)
	if domain == "" {
		return nil, fmt.Errorf("%w: team", auth.ErrNotFound)
	}
	return scanTeam(s.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE domain = $1`, domain))
}

// ListForUser returns the teams where userID is an active member, with the
// member's role.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.slug, t.domain, t.parent_team_id, t.is_suspended, t.theme_color, t.logo_url,
		       t.created_at, t.updated_at, tm.role
		FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = $1 AND tm.status = $2
		ORDER BY t.name`, userID, string(MemberStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	memberships := []*Membership{}
	for rows.Next() {
		var (
			m    Membership
			role string
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Slug, &m.Domain, &m.ParentTeamID, &m.IsSuspended,
			&m.ThemeColor, &m.LogoURL, &m.CreatedAt, &m.UpdatedAt, &role); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		m.Role = auth.TenantRole(role)
		memberships = append(memberships, &m)
	}
	return memberships, rows.Err()
}

// Children returns the direct sub-teams of teamID.
func (s *Service) Children(ctx context.Context, teamID string) ([]*Team, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE parent_team_id = $1 ORDER BY name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child teams: %w", err)
	}
	defer rows.Close()

	children := []*Team{}
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, t)
	}
	return children, rows.Err()
}

// Update applies in to the team. A parent change is rejected when it would
// make the team its own ancestor.
func (s *Service) Update(ctx context.Context, actorID, teamID string, in UpdateTeamInput) (*Team, error) {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1
	set := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, auth.NewValidationError("name", "is required")
		}
		set("name", name)
	}
	if in.Slug != nil {
		slug := strings.TrimSpace(*in.Slug)
		if err := ValidateSlug(slug); err != nil {
			return nil, err
		}
		set("slug", slug)
	}
	if in.Domain != nil {
		set("domain", optionalDomain(*in.Domain))
	}
	if in.ThemeColor != nil {
		color := strings.TrimSpace(*in.ThemeColor)
		if color == "" {
			color = DefaultThemeColor
		}
		if !colorPattern.MatchString(color) {
			return nil, auth.NewValidationError("themeColor", "must be a #rrggbb color")
		}
		set("theme_color", color)
	}
	if in.LogoURL != nil {
		set("logo_url", strings.TrimSpace(*in.LogoURL))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if in.ParentTeamID != nil {
		parentID := optionalID(in.ParentTeamID)
		if parentID != nil {
			if err := checkAncestry(ctx, tx, teamID, *parentID); err != nil {
				return nil, err
			}
		}
		set("parent_team_id", parentID)
	}

	set("updated_at", s.clock())
	args = append(args, teamID)
	query := fmt.Sprintf("UPDATE teams SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapTeamWriteError(err)
	}
	if err := requireAffected(result, "team"); err != nil {
		return nil, err
	}

	team, err := scanTeam(tx.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, teamID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit team update: %w", err)
	}

	audit.Record(ctx, s.audit, audit.Event{
		UserID:   actorID,
		TenantID: teamID,
		Action:   audit.ActionTeamUpdate,
		Details:  map[string]any{"name": team.Name, "slug": team.Slug},
	})
	return team, nil
}

// checkAncestry walks up from parentID and fails if teamID is reached. A
// missing parent is reported as not found.
func checkAncestry(ctx context.Context, q users.Querier, teamID, parentID string) error {
	current := parentID
	for depth := 0; depth < MaxParentDepth; depth++ {
		if current == teamID {
			return auth.NewValidationError("parentTeamId", "would create a cycle")
		}
		var next sql.NullString
		err := q.QueryRowContext(ctx, `SELECT parent_team_id FROM teams WHERE id = $1`, current).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			if current == parentID {
				return fmt.Errorf("%w: parent team", auth.ErrNotFound)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to walk team ancestry: %w", err)
		}
		if !next.Valid {
			return nil
		}
		current = next.String
	}
	return auth.NewValidationError("parentTeamId", fmt.Sprintf("team hierarchy deeper than %d levels", MaxParentDepth))
}

// Delete removes a team. Memberships and team roles cascade; child teams
// become top-level.
func (s *Service) Delete(ctx context.Context, actorID, teamID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
	}
	if err := requireAffected(result, "team"); err != nil {
		return err
	}

	audit.Record(ctx, s.audit, audit.Event{
		UserID:   actorID,
		TenantID: teamID,
		Action:   audit.ActionTeamDelete,
	})
	return nil
}

// SetSuspended sets or clears the team's suspension flag.
func (s *Service) SetSuspended(ctx context.Context, actorID, teamID string, suspended bool) (*Team, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE teams SET is_suspended = $1, updated_at = $2 WHERE id = $3`, suspended, s.clock(), teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to update team suspension: %w", err)
	}
	if err := requireAffected(result, "team"); err != nil {
		return nil, err
	}

	action := audit.ActionTenantResume
	if suspended {
		action = audit.ActionTenantSuspend
	}
	audit.Record(ctx, s.audit, audit.Event{UserID: actorID, TenantID: teamID, Action: action})
	return s.GetByID(ctx, teamID)
}

func optionalDomain(raw string) *string {
	domain := NormalizeDomain(raw)
	if domain == "" {
		return nil
	}
	return &domain
}

func optionalID(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// mapTeamWriteError turns constraint violations on the teams table into the
// error taxonomy.
func mapTeamWriteError(err error) error {
	switch {
	case storage.IsUniqueViolation(err):
		return fmt.Errorf("%w: slug or domain already taken", auth.ErrConflict)
	case storage.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: parent team", auth.ErrNotFound)
	default:
		return fmt.Errorf("failed to write team: %w", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner) (*Team, error) {
	var t Team
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Domain, &t.ParentTeamID, &t.IsSuspended,
		&t.ThemeColor, &t.LogoURL, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: team", auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan team: %w", err)
	}
	return &t, nil
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", auth.ErrNotFound, what)
	}
	return nil
}
