package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const userColumns = `id, email, password_hash, name, image, role, role_id, user_metadata, app_metadata,
	email_verified, is_active, is_two_factor_enabled, terms_accepted_at, privacy_accepted_at, created_at, updated_at`

// Store provides user persistence.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a user store.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail performs a minimal syntactic check.
func ValidateEmail(email string) error {
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return auth.NewValidationError("email", "is not a valid email address")
	}
	return nil
}

// Create inserts u.
func (s *Store) Create(ctx context.Context, u *auth.User) error {
	return s.CreateWith(ctx, s.db, u)
}

// CreateWith inserts u using q, so that callers can create users inside
// their own transaction. ID, timestamps and RoleID are filled in.
func (s *Store) CreateWith(ctx context.Context, q Querier, u *auth.User) error {
	u.Email = NormalizeEmail(u.Email)
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if u.Role == "" {
		u.Role = auth.GlobalRoleUser
	}
	if !u.Role.Valid() {
		return auth.NewValidationError("role", fmt.Sprintf("unknown role %q", u.Role))
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.clock()
	u.CreatedAt = now
	u.UpdatedAt = now

	userMeta, err := encodeMetadata(u.UserMetadata)
	if err != nil {
		return err
	}
	appMeta, err := encodeMetadata(u.AppMetadata)
	if err != nil {
		return err
	}

	var roleID sql.NullString
	err = q.QueryRowContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, image, role, role_id, user_metadata, app_metadata,
			email_verified, is_active, is_two_factor_enabled, terms_accepted_at, privacy_accepted_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, (SELECT id FROM roles WHERE name = $6), $7, $8, $9, $10, $11, $12, $13, $14, $14)
		 RETURNING role_id`,
		u.ID, u.Email, nullString(u.PasswordHash), u.Name, u.Image, string(u.Role), userMeta, appMeta,
		u.EmailVerified, u.IsActive, u.IsTwoFactorEnabled, nullTime(u.TermsAcceptedAt), nullTime(u.PrivacyAcceptedAt), now,
	).Scan(&roleID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return fmt.Errorf("%w: user already exists", auth.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	if roleID.Valid {
		u.RoleID = &roleID.String
	}
	return nil
}

// GetByID returns a user or auth.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*auth.User, error) {
	return s.GetByIDWith(ctx, s.db, id)
}

// GetByIDWith reads a user through q.
func (s *Store) GetByIDWith(ctx context.Context, q Querier, id string) (*auth.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns a user or auth.ErrNotFound.
func (s *Store) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.GetByEmailWith(ctx, s.db, email)
}

// GetByEmailWith reads a user by email through q.
func (s *Store) GetByEmailWith(ctx context.Context, q Querier, email string) (*auth.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email))
	return scanUser(row)
}

// List returns users newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*auth.User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetPassword replaces the password credential.
func (s *Store) SetPassword(ctx context.Context, id, passwordHash string) error {
	return s.exec(ctx, s.db, `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		passwordHash, s.clock(), id)
}

// MarkEmailVerified sets email_verified.
func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	return s.exec(ctx, s.db, `UPDATE users SET email_verified = TRUE, updated_at = $1 WHERE id = $2`, s.clock(), id)
}

// SetActive activates or deactivates a user. Users are never hard-deleted.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx, s.db, `UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`, active, s.clock(), id)
}

// ActivateWith replaces a placeholder credential and activates the user
// inside the caller's transaction. An empty name keeps the current one.
func (s *Store) ActivateWith(ctx context.Context, q Querier, id, passwordHash, name string) error {
	return s.exec(ctx, q,
		`UPDATE users SET password_hash = $1, name = CASE WHEN $2 = '' THEN name ELSE $2 END,
			is_active = TRUE, email_verified = TRUE, updated_at = $3 WHERE id = $4`,
		passwordHash, name, s.clock(), id)
}

// SetGlobalRole updates the role alias and resolves it into role_id.
func (s *Store) SetGlobalRole(ctx context.Context, id string, role auth.GlobalRole) error {
	if !role.Valid() {
		return auth.NewValidationError("role", fmt.Sprintf("unknown role %q", role))
	}
	return s.exec(ctx, s.db,
		`UPDATE users SET role = $1, role_id = (SELECT id FROM roles WHERE name = $1), updated_at = $2 WHERE id = $3`,
		string(role), s.clock(), id)
}

// Settings are the user-editable account settings. Nil fields are unchanged.
type Settings struct {
	Name               *string `json:"name,omitempty"`
	Image              *string `json:"image,omitempty"`
	IsTwoFactorEnabled *bool   `json:"isTwoFactorEnabled,omitempty"`
}

// UpdateSettings applies settings and returns the updated user.
func (s *Store) UpdateSettings(ctx context.Context, id string, in Settings) (*auth.User, error) {
	if in.Name != nil && len(strings.TrimSpace(*in.Name)) == 0 {
		return nil, auth.NewValidationError("name", "must not be empty")
	}
	if err := s.exec(ctx, s.db,
		`UPDATE users SET name = COALESCE($1, name), image = COALESCE($2, image),
			is_two_factor_enabled = COALESCE($3, is_two_factor_enabled), updated_at = $4
		 WHERE id = $5`,
		in.Name, in.Image, in.IsTwoFactorEnabled, s.clock(), id,
	); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

const maxMetadataRetries = 5

// MergeUserMetadata shallow-merges patch into the user's metadata and
// returns the result. Concurrent merges are serialised with a
// compare-and-swap on the stored document.
func (s *Store) MergeUserMetadata(ctx context.Context, id string, patch auth.Metadata) (auth.Metadata, error) {
	for attempt := 0; attempt < maxMetadataRetries; attempt++ {
		var current string
		err := s.db.QueryRowContext(ctx, `SELECT user_metadata FROM users WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata: %w", err)
		}

		merged, err := decodeMetadata(current)
		if err != nil {
			return nil, err
		}
		for k, v := range patch {
			merged[k] = v
		}
		encoded, err := encodeMetadata(merged)
		if err != nil {
			return nil, err
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE users SET user_metadata = $1, updated_at = $2 WHERE id = $3 AND user_metadata = $4`,
			encoded, s.clock(), id, current)
		if err != nil {
			return nil, fmt.Errorf("failed to update metadata: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return merged, nil
		}
	}
	return nil, fmt.Errorf("%w: metadata changed concurrently", auth.ErrConflict)
}

func (s *Store) exec(ctx context.Context, q Querier, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u                  auth.User
		passwordHash       sql.NullString
		role               string
		roleID             sql.NullString
		userMeta, appMeta  string
		termsAt, privacyAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &passwordHash, &u.Name, &u.Image, &role, &roleID, &userMeta, &appMeta,
		&u.EmailVerified, &u.IsActive, &u.IsTwoFactorEnabled, &termsAt, &privacyAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	u.PasswordHash = passwordHash.String
	u.Role = auth.GlobalRole(role)
	if !u.Role.Valid() {
		u.Role = auth.GlobalRoleUser
	}
	if roleID.Valid {
		u.RoleID = &roleID.String
	}
	if termsAt.Valid {
		u.TermsAcceptedAt = &termsAt.Time
	}
	if privacyAt.Valid {
		u.PrivacyAcceptedAt = &privacyAt.Time
	}
	if u.UserMetadata, err = decodeMetadata(userMeta); err != nil {
		return nil, err
	}
	if u.AppMetadata, err = decodeMetadata(appMeta); err != nil {
		return nil, err
	}
	return &u, nil
}

func encodeMetadata(m auth.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (auth.Metadata, error) {
	m := auth.Metadata{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
