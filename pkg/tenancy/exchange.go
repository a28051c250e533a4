package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/tokens"
	"github.com/platinummonkey/warden/pkg/users"
)

// ExchangeResult is a session issued for an exchanged auth code.
type ExchangeResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      auth.Claims `json:"user"`
}

// Exchanger hands sessions across domains with one-time auth codes.
type Exchanger struct {
	tokens   *tokens.Store
	users    *users.Store
	resolver *Resolver
	sessions *auth.SessionManager
	audit    audit.Logger
	metrics  *observability.Metrics
}

// NewExchanger creates an Exchanger. auditLogger and metrics may be nil.
func NewExchanger(tokenStore *tokens.Store, userStore *users.Store, resolver *Resolver, sessions *auth.SessionManager, auditLogger audit.Logger, metrics *observability.Metrics) *Exchanger {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Exchanger{
		tokens:   tokenStore,
		users:    userStore,
		resolver: resolver,
		sessions: sessions,
		audit:    auditLogger,
		metrics:  metrics,
	}
}

// IssueCode creates a five-minute, single-use code for userID. Issuing a
// new code invalidates the user's previous unused one.
func (e *Exchanger) IssueCode(ctx context.Context, userID string) (*tokens.Token, error) {
	tok, err := e.tokens.Issue(ctx, tokens.KindAuthCode, userID)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordTokenIssued(string(tokens.KindAuthCode))
	return tok, nil
}

// Exchange consumes code and issues a session for its user. When
// callbackURL names a team's custom domain, the session is scoped to that
// team: members get their team role, non-members get the guest role, and
// the global role is replaced with user. Unknown domains produce a global
// session.
func (e *Exchanger) Exchange(ctx context.Context, code, callbackURL string) (*ExchangeResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, auth.NewValidationError("code", "is required")
	}

	userID, err := e.tokens.Consume(ctx, tokens.KindAuthCode, code)
	if err != nil {
		e.metrics.RecordTokenConsumed(string(tokens.KindAuthCode), observability.ResultFailure)
		return nil, err
	}
	e.metrics.RecordTokenConsumed(string(tokens.KindAuthCode), observability.ResultSuccess)

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account is inactive", auth.ErrUnauthenticated)
	}

	claims := user.Claims()
	if callbackURL != "" {
		team, err := e.resolver.TeamByDomain(ctx, callbackURL)
		switch {
		case errors.Is(err, auth.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			if team.IsSuspended {
				return nil, auth.ErrTenantSuspended
			}
			role, err := e.resolver.MemberRole(ctx, team.ID, user.ID)
			if err != nil {
				return nil, err
			}
			if role == "" {
				role = auth.TenantRoleGuest
			}
			claims.Role = auth.GlobalRoleUser
			claims.TenantID = team.ID
			claims.TenantRole = role
		}
	}

	token, expiresAt, err := e.sessions.Issue(claims)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordSessionIssued("exchange")

	audit.Record(ctx, e.audit, audit.Event{
		UserID:   user.ID,
		TenantID: claims.TenantID,
		Action:   audit.ActionAuthCodeExchange,
		Details:  map[string]any{"tenantRole": string(claims.TenantRole)},
	})
	return &ExchangeResult{Token: token, ExpiresAt: expiresAt, User: claims}, nil
}
