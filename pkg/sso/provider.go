package sso

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"golang.org/x/oauth2"
)

// Provider names.
const (
	ProviderGitHub = "github"
	ProviderGoogle = "google"
)

// Profile is the provider's view of the signed-in account.
type Profile struct {
	Provider   string `json:"provider"`
	ProviderID string `json:"providerId"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
}

// Validate checks the fields required for linking.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Provider) == "" {
		return auth.NewValidationError("provider", "is required")
	}
	if strings.TrimSpace(p.ProviderID) == "" {
		return auth.NewValidationError("providerId", "is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return auth.NewValidationError("email", "is required")
	}
	return nil
}

// Provider is an OAuth sign-in provider.
type Provider interface {
	// Name returns the provider name used in routes and identity rows.
	Name() string

	// AuthCodeURL returns the provider consent URL carrying state.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for the account profile.
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// Config holds OAuth client credentials.
type Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether credentials are configured.
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	return nil
}

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a Registry from providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider with the given name or auth.ErrNotFound.
func (r *Registry) Get(name string) (Provider, error) {
	if r != nil {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: provider %q", auth.ErrNotFound, name)
}

// Names returns the configured provider names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func httpClientContext(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}
