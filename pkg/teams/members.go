package teams

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/users"
)

// ListMembers retrieves all members of a team, invited ones included
func (s *Service) ListMembers(ctx context.Context, teamID string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tm.team_id, tm.user_id, u.email, u.name, tm.role, tm.status, tm.invited_by, tm.created_at
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY tm.created_at ASC, u.email ASC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*Member{}
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// GetMember retrieves a specific membership
func (s *Service) GetMember(ctx context.Context, teamID, userID string) (*Member, error) {
	return scanMember(s.db.QueryRowContext(ctx, `
		SELECT tm.team_id, tm.user_id, u.email, u.name, tm.role, tm.status, tm.invited_by, tm.created_at
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1 AND tm.user_id = $2`, teamID, userID))
}

// validateAssignableRole accepts admin, member, viewer or a custom role
// defined by the team. Owner is only assignable when allowOwner is set.
func (s *Service) validateAssignableRole(ctx context.Context, q users.Querier, teamID string, role auth.TenantRole, allowOwner bool) error {
	if role == "" {
		return auth.NewValidationError("role", "is required")
	}
	if role == auth.TenantRoleOwner {
		if allowOwner {
			return nil
		}
		return auth.NewValidationError("role", "cannot invite as owner")
	}
	if role.IsBuiltin() {
		return nil
	}
	if role == auth.TenantRoleGuest {
		return auth.NewValidationError("role", "guest is not a member role")
	}

	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM team_roles WHERE team_id = $1 AND name = $2)`, teamID, string(role)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check team role: %w", err)
	}
	if !exists {
		return auth.NewValidationError("role", fmt.Sprintf("unknown role %q", role))
	}
	return nil
}

// Invite adds email to the team as an invited member. Unknown addresses get
// a placeholder account. The returned invitation carries the plaintext
// token, which is not stored.
func (s *Service) Invite(ctx context.Context, teamID, inviterID, email string, role auth.TenantRole) (*Invitation, error) {
	email = users.NormalizeEmail(email)
	if err := users.ValidateEmail(email); err != nil {
		return nil, err
	}

	team, err := s.GetByID(ctx, teamID)
	if err != nil {
		return nil, err
	}

	token, err := auth.NewTokenGenerator().GenerateHex()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.validateAssignableRole(ctx, tx, teamID, role, false); err != nil {
		return nil, err
	}

	newAccount := false
	user, err := s.users.GetByEmailWith(ctx, tx, email)
	if errors.Is(err, auth.ErrNotFound) {
		user = &auth.User{
			Email:        email,
			PasswordHash: auth.PlaceholderPassword,
			Role:         auth.GlobalRoleUser,
			IsActive:     false,
		}
		if err := s.users.CreateWith(ctx, tx, user); err != nil {
			return nil, err
		}
		newAccount = true
	} else if err != nil {
		return nil, err
	}

	now := s.clock()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role, status, invitation_token, invited_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		teamID, user.ID, string(role), string(MemberStatusInvited), auth.HashToken(token), inviterID, now)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user is already a member of this team", auth.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation: %w", err)
	}

	audit.Record(ctx, s.audit, audit.Event{
		UserID:   inviterID,
		TenantID: teamID,
		Action:   audit.ActionTeamInvite,
		Details:  map[string]any{"email": email, "role": string(role), "invitedUserId": user.ID},
	})
	return &Invitation{
		Team:        team,
		UserID:      user.ID,
		Email:       email,
		Role:        role,
		Token:       token,
		NewAccount:  newAccount,
		InvitedByID: inviterID,
	}, nil
}

// AcceptInvitation activates the membership identified by token. A
// placeholder account must supply a password, which replaces the
// placeholder credential and activates the account. The membership flip is
// a conditional update, so a token can be accepted once.
func (s *Service) AcceptInvitation(ctx context.Context, token, password, name string) (*auth.User, *Team, error) {
	if token == "" {
		return nil, nil, fmt.Errorf("%w: invitation", auth.ErrNotFound)
	}
	if password != "" {
		if err := auth.ValidatePassword(password); err != nil {
			return nil, nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var teamID, userID string
	err = tx.QueryRowContext(ctx, `
		UPDATE team_members SET status = $1, invitation_token = NULL, updated_at = $2
		WHERE invitation_token = $3 AND status = $4
		RETURNING team_id, user_id`,
		string(MemberStatusActive), s.clock(), auth.HashToken(token), string(MemberStatusInvited),
	).Scan(&teamID, &userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: invitation", auth.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	user, err := s.users.GetByIDWith(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user.IsPlaceholder() {
		if password == "" {
			return nil, nil, auth.NewValidationError("password", "is required")
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return nil, nil, err
		}
		if err := s.users.ActivateWith(ctx, tx, userID, hash, strings.TrimSpace(name)); err != nil {
			return nil, nil, err
		}
		if user, err = s.users.GetByIDWith(ctx, tx, userID); err != nil {
			return nil, nil, err
		}
	}

	team, err := scanTeam(tx.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, teamID))
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit invitation: %w", err)
	}

	audit.Record(ctx, s.audit, audit.Event{
		UserID:   userID,
		TenantID: teamID,
		Action:   audit.ActionTeamJoin,
	})
	return user, team, nil
}

// RemoveMember removes a user from a team. Only an owner may remove
// another owner, owners cannot remove themselves and the last active owner
// cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, actorID string, actorRole auth.TenantRole, teamID, userID string) error {
	member, err := s.GetMember(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if member.Role == auth.TenantRoleOwner {
		if userID == actorID {
			return auth.NewValidationError("userId", "owners cannot remove themselves")
		}
		if actorRole != auth.TenantRoleOwner {
			return fmt.Errorf("%w: only owners can remove an owner", auth.ErrForbidden)
		}
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM team_members
		WHERE team_id = $1 AND user_id = $2
		  AND (role <> $3 OR (SELECT COUNT(*) FROM team_members o
		                      WHERE o.team_id = $1 AND o.role = $3 AND o.status = $4) > 1)`,
		teamID, userID, string(auth.TenantRoleOwner), string(MemberStatusActive))
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return s.explainMemberMiss(ctx, teamID, userID, "cannot remove the last owner")
	}

	audit.Record(ctx, s.audit, audit.Event{
		UserID:   actorID,
		TenantID: teamID,
		Action:   audit.ActionTeamMemberRemove,
		Details:  map[string]any{"removedUserId": userID},
	})
	return nil
}

// UpdateMemberRole changes a member's role. Only an owner may grant or take
// away the owner role, and the last active owner cannot be demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, actorID string, actorRole auth.TenantRole, teamID, userID string, role auth.TenantRole) (*Member, error) {
	member, err := s.GetMember(ctx, teamID, userID)
	if err != nil {
		return nil, err
	}
	if (role == auth.TenantRoleOwner || member.Role == auth.TenantRoleOwner) && actorRole != auth.TenantRoleOwner {
		return nil, fmt.Errorf("%w: only owners can change the owner role", auth.ErrForbidden)
	}
	if err := s.validateAssignableRole(ctx, s.db, teamID, role, true); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE team_members SET role = $1, updated_at = $2
		WHERE team_id = $3 AND user_id = $4
		  AND (role <> $5 OR $1 = $5 OR (SELECT COUNT(*) FROM team_members o
		                                 WHERE o.team_id = $3 AND o.role = $5 AND o.status = $6) > 1)`,
		string(role), s.clock(), teamID, userID, string(auth.TenantRoleOwner), string(MemberStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to update member role: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return nil, s.explainMemberMiss(ctx, teamID, userID, "cannot demote the last owner")
	}

	audit.Record(ctx, s.audit, audit.Event{
		UserID:   actorID,
		TenantID: teamID,
		Action:   audit.ActionTeamMemberRole,
		Details:  map[string]any{"targetUserId": userID, "from": string(member.Role), "to": string(role)},
	})
	member.Role = role
	return member, nil
}

// explainMemberMiss classifies a conditional write that matched no row.
func (s *Service) explainMemberMiss(ctx context.Context, teamID, userID, lastOwner string) error {
	if _, err := s.GetMember(ctx, teamID, userID); err != nil {
		return err
	}
	return auth.NewValidationError("userId", lastOwner)
}

// ListTeamRoles returns the custom roles of a team, newest first.
func (s *Service) ListTeamRoles(ctx context.Context, teamID string) ([]*TeamRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, name, description, created_at FROM team_roles
		WHERE team_id = $1 ORDER BY created_at DESC, name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team roles: %w", err)
	}
	defer rows.Close()

	roles := []*TeamRole{}
	for rows.Next() {
		var r TeamRole
		if err := rows.Scan(&r.ID, &r.TeamID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team role: %w", err)
		}
		roles = append(roles, &r)
	}
	return roles, rows.Err()
}

// CreateTeamRole defines a custom role label for the team. Built-in role
// names are reserved.
func (s *Service) CreateTeamRole(ctx context.Context, actorID, teamID, name, description string) (*TeamRole, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, auth.NewValidationError("name", "is required")
	}
	if r := auth.TenantRole(name); r.IsBuiltin() || r == auth.TenantRoleGuest {
		return nil, fmt.Errorf("%w: %q is a built-in role", auth.ErrConflict, name)
	}

	role := &TeamRole{
		ID:          uuid.NewString(),
		TeamID:      teamID,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.clock(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_roles (id, team_id, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		role.ID, role.TeamID, role.Name, role.Description, role.CreatedAt)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: role %q already exists", auth.ErrConflict, name)
		}
		if storage.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: team", auth.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create team role: %w", err)
	}

	audit.Record(ctx, s.audit, audit.Event{
		UserID:   actorID,
		TenantID: teamID,
		Action:   audit.ActionTeamRoleCreate,
		Details:  map[string]any{"name": name},
	})
	return role, nil
}

func scanMember(row rowScanner) (*Member, error) {
	var (
		m            Member
		role, status string
	)
	err := row.Scan(&m.TeamID, &m.UserID, &m.Email, &m.Name, &role, &status, &m.InvitedBy, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: member", auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan member: %w", err)
	}
	m.Role = auth.TenantRole(role)
	m.Status = MemberStatus(status)
	return &m, nil
}
