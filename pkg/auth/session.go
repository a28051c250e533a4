package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionTTL is the absolute lifetime of a session.
	DefaultSessionTTL = 24 * time.Hour
	// MinSecretLength is the shortest accepted signing secret.
	MinSecretLength = 32
)

// Claims is the user snapshot carried by a session.
type Claims struct {
	UserID       string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name,omitempty"`
	Role         GlobalRole `json:"role"`
	TenantID     string     `json:"teamId,omitempty"`
	TenantRole   TenantRole `json:"tenantRole,omitempty"`
	UserMetadata Metadata   `json:"user_metadata,omitempty"`
	AppMetadata  Metadata   `json:"app_metadata,omitempty"`
}

// IsTenantScoped reports whether the session was issued for a single tenant.
func (c *Claims) IsTenantScoped() bool {
	return c.TenantID != ""
}

type sessionClaims struct {
	User Claims `json:"user"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies session tokens. Verification is pure:
// it performs no I/O.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIssuer sets and enforces the iss claim.
func WithIssuer(issuer string) SessionOption {
	return func(m *SessionManager) {
		m.issuer = issuer
	}
}

// NewSessionManager creates a SessionManager signing with secret (HS256).
func NewSessionManager(secret []byte, opts ...SessionOption) (*SessionManager, error) {
	if len(secret) < MinSecretLength {
		return nil, NewValidationError("secret", fmt.Sprintf("must be at least %d bytes", MinSecretLength))
	}
	m := &SessionManager{
		secret: secret,
		ttl:    DefaultSessionTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs claims into a token that expires TTL from now.
func (m *SessionManager) Issue(claims Claims) (string, time.Time, error) {
	if claims.UserID == "" {
		return "", time.Time{}, NewValidationError("id", "is required")
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.ttl).Truncate(time.Second)

	sc := sessionClaims{
		User: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sc).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}
	return token, expiresAt, nil
}

// Verify parses token and returns its claims. It fails with
// ErrSessionExpired, ErrInvalidSignature or ErrMalformedToken.
func (m *SessionManager) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMalformedToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var sc sessionClaims
	_, err := jwt.ParseWithClaims(token, &sc, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrSessionExpired
		default:
			return nil, ErrInvalidSignature
		}
	}

	if sc.User.UserID == "" || sc.User.UserID != sc.Subject {
		return nil, ErrMalformedToken
	}
	return &sc.User, nil
}
