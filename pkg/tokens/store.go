package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/warden/pkg/auth"
)

// Kind identifies the purpose of a token.
type Kind string

const (
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
	KindTwoFactor     Kind = "two_factor"
	KindAuthCode      Kind = "auth_code"
)

// TwoFactorDigits is the length of a two-factor code.
const TwoFactorDigits = 6

// TTL returns the lifetime of tokens of kind k.
func (k Kind) TTL() time.Duration {
	if k == KindAuthCode {
		return 5 * time.Minute
	}
	return time.Hour
}

// markUsed reports whether tokens of kind k are flagged instead of deleted.
func (k Kind) markUsed() bool {
	return k == KindAuthCode
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindVerification, KindPasswordReset, KindTwoFactor, KindAuthCode:
		return true
	}
	return false
}

// Token is a stored token record. Value is only set on issue.
type Token struct {
	Value     string
	Kind      Kind
	Subject   string
	ExpiresAt time.Time
}

// Store persists tokens in the auth_tokens table.
type Store struct {
	db        *sql.DB
	generator *auth.TokenGenerator
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a token store.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:        db,
		generator: auth.NewTokenGenerator(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

// tokenHash returns the storage key. Two-factor codes are short, so they
// are keyed together with their subject.
func tokenHash(kind Kind, subject, value string) string {
	if kind == KindTwoFactor {
		return auth.HashToken(subject + ":" + value)
	}
	return auth.HashToken(value)
}

func (s *Store) newValue(kind Kind) (string, error) {
	if kind == KindTwoFactor {
		return s.generator.GenerateDigits(TwoFactorDigits)
	}
	return uuid.NewString(), nil
}

// Issue creates a token of kind for subject, replacing any unconsumed
// token of the same kind for the same subject.
func (s *Store) Issue(ctx context.Context, kind Kind, subject string) (*Token, error) {
	if !kind.Valid() {
		return nil, auth.NewValidationError("kind", fmt.Sprintf("unknown token kind %q", kind))
	}
	if subject == "" {
		return nil, auth.NewValidationError("subject", "is required")
	}

	value, err := s.newValue(kind)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	expiresAt := now.Add(kind.TTL())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM auth_tokens WHERE kind = $1 AND subject = $2 AND used_at IS NULL`,
		string(kind), subject,
	); err != nil {
		return nil, fmt.Errorf("failed to delete previous tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO auth_tokens (token_hash, kind, subject, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
		tokenHash(kind, subject, value), string(kind), subject, expiresAt, now,
	); err != nil {
		return nil, fmt.Errorf("failed to insert token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit token: %w", err)
	}

	return &Token{Value: value, Kind: kind, Subject: subject, ExpiresAt: expiresAt}, nil
}

// Consume validates and invalidates a token, returning its subject. It
// fails with auth.ErrNotFound, auth.ErrExpired or auth.ErrAlreadyUsed.
func (s *Store) Consume(ctx context.Context, kind Kind, value string) (string, error) {
	if value == "" {
		return "", auth.ErrNotFound
	}
	if kind == KindTwoFactor {
		return "", auth.NewValidationError("kind", "two-factor codes are verified with VerifyTwoFactor")
	}
	if kind.markUsed() {
		return s.consumeMarked(ctx, kind, auth.HashToken(value))
	}
	return s.consumeDeleted(ctx, kind, auth.HashToken(value))
}

func (s *Store) consumeDeleted(ctx context.Context, kind Kind, hash string) (string, error) {
	var subject string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM auth_tokens WHERE token_hash = $1 AND kind = $2 RETURNING subject, expires_at`,
		hash, string(kind),
	).Scan(&subject, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume token: %w", err)
	}

	if !s.clock().Before(expiresAt) {
		return "", auth.ErrExpired
	}
	return subject, nil
}

func (s *Store) consumeMarked(ctx context.Context, kind Kind, hash string) (string, error) {
	var subject string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`UPDATE auth_tokens SET used_at = $1
		 WHERE token_hash = $2 AND kind = $3 AND used_at IS NULL
		 RETURNING subject, expires_at`,
		s.clock(), hash, string(kind),
	).Scan(&subject, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", s.classifyMissing(ctx, kind, hash)
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume token: %w", err)
	}

	if !s.clock().Before(expiresAt) {
		return "", auth.ErrExpired
	}
	return subject, nil
}

func (s *Store) classifyMissing(ctx context.Context, kind Kind, hash string) error {
	var usedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT used_at FROM auth_tokens WHERE token_hash = $1 AND kind = $2`,
		hash, string(kind),
	).Scan(&usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up token: %w", err)
	}
	if usedAt.Valid {
		return auth.ErrAlreadyUsed
	}
	return auth.ErrNotFound
}

// Lookup returns a live token's subject without consuming it.
func (s *Store) Lookup(ctx context.Context, kind Kind, value string) (*Token, error) {
	var t Token
	var usedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT subject, expires_at, used_at FROM auth_tokens WHERE token_hash = $1 AND kind = $2`,
		auth.HashToken(value), string(kind),
	).Scan(&t.Subject, &t.ExpiresAt, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	if usedAt.Valid {
		return nil, auth.ErrAlreadyUsed
	}
	if !s.clock().Before(t.ExpiresAt) {
		return nil, auth.ErrExpired
	}
	t.Kind = kind
	return &t, nil
}

// VerifyTwoFactor consumes subject's two-factor code if it equals code.
// A wrong code leaves the stored code in place.
func (s *Store) VerifyTwoFactor(ctx context.Context, subject, code string) error {
	if len(code) != TwoFactorDigits {
		return auth.ErrNotFound
	}

	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM auth_tokens WHERE token_hash = $1 AND kind = $2 AND subject = $3 RETURNING expires_at`,
		tokenHash(KindTwoFactor, subject, code), string(KindTwoFactor), subject,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to verify two-factor code: %w", err)
	}
	if !s.clock().Before(expiresAt) {
		return auth.ErrExpired
	}
	return nil
}

// PurgeExpired deletes expired tokens and consumed auth codes whose expiry
// has passed. It returns the number of rows removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE expires_at < $1`, s.clock())
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	return res.RowsAffected()
}
