package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/users"
)

// Linker maps provider profiles to local users.
type Linker struct {
	db    *sql.DB
	users *users.Store
	audit audit.Logger
	now   func() time.Time
}

// LinkerOption configures a Linker.
type LinkerOption func(*Linker)

// WithAudit records registrations and links.
func WithAudit(logger audit.Logger) LinkerOption {
	return func(l *Linker) {
		l.audit = logger
	}
}

// NewLinker creates a Linker.
func NewLinker(db *sql.DB, userStore *users.Store, opts ...LinkerOption) *Linker {
	l := &Linker{
		db:    db,
		users: userStore,
		audit: audit.NoOpLogger{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// maxLinkAttempts bounds retries after losing a user-creation race.
const maxLinkAttempts = 3

// LinkOrRegister returns the user owning the profile's identity, linking
// it to an existing user with the same email or registering a new user
// when needed. It is idempotent.
func (l *Linker) LinkOrRegister(ctx context.Context, profile Profile) (*auth.User, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	profile.Email = users.NormalizeEmail(profile.Email)

	for attempt := 0; attempt < maxLinkAttempts; attempt++ {
		ownerID, err := l.identityOwner(ctx, profile.Provider, profile.ProviderID)
		if err == nil {
			return l.users.GetByID(ctx, ownerID)
		}
		if !errors.Is(err, auth.ErrNotFound) {
			return nil, err
		}

		user, err := l.link(ctx, profile)
		if errors.Is(err, errLostRace) {
			observability.FromContext(ctx).WithFields(map[string]interface{}{
				"provider": profile.Provider,
				"attempt":  attempt + 1,
			}).Debug("Identity link raced, retrying")
			continue
		}
		return user, err
	}
	return nil, fmt.Errorf("%w: could not link %s identity", auth.ErrConflict, profile.Provider)
}

var errLostRace = errors.New("lost link race")

func (l *Linker) link(ctx context.Context, profile Profile) (*auth.User, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	created := false
	user, err := l.users.GetByEmailWith(ctx, tx, profile.Email)
	if errors.Is(err, auth.ErrNotFound) {
		user = &auth.User{
			Email:         profile.Email,
			Name:          profile.Name,
			Image:         profile.AvatarURL,
			Role:          auth.GlobalRoleUser,
			EmailVerified: true,
			IsActive:      true,
		}
		if profile.AvatarURL != "" {
			user.UserMetadata = auth.Metadata{"avatar_url": profile.AvatarURL}
		}
		err = l.users.CreateWith(ctx, tx, user)
		if errors.Is(err, auth.ErrConflict) {
			return nil, errLostRace
		}
		created = true
	}
	if err != nil {
		return nil, err
	}

	profileData, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}

	var identityID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO identities (id, user_id, provider, provider_id, profile_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, provider_id) DO NOTHING
		RETURNING id`,
		uuid.NewString(), user.ID, profile.Provider, profile.ProviderID, string(profileData), l.now().UTC(),
	).Scan(&identityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errLostRace
	}
	if err != nil {
		return nil, fmt.Errorf("failed to link identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit identity link: %w", err)
	}

	action := audit.ActionIdentityLink
	if created {
		action = audit.ActionRegister
	}
	audit.Record(ctx, l.audit, audit.Event{
		UserID:  user.ID,
		Action:  action,
		Details: map[string]any{"provider": profile.Provider},
	})
	return user, nil
}

func (l *Linker) identityOwner(ctx context.Context, provider, providerID string) (string, error) {
	var userID string
	err := l.db.QueryRowContext(ctx,
		`SELECT user_id FROM identities WHERE provider = $1 AND provider_id = $2`,
		provider, providerID,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up identity: %w", err)
	}
	return userID, nil
}

// Identities returns the identities linked to a user.
func (l *Linker) Identities(ctx context.Context, userID string) ([]*auth.Identity, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, provider, provider_id, profile_data, created_at
		FROM identities WHERE user_id = $1 ORDER BY created_at, provider`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []*auth.Identity
	for rows.Next() {
		var ident auth.Identity
		var data string
		if err := rows.Scan(&ident.ID, &ident.UserID, &ident.Provider, &ident.ProviderID, &data, &ident.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &ident.ProfileData); err != nil {
				return nil, fmt.Errorf("failed to decode profile data: %w", err)
			}
		}
		identities = append(identities, &ident)
	}
	return identities, rows.Err()
}
