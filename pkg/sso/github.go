package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const defaultGitHubAPIURL = "https://api.github.com"

// GitHubProvider signs users in with GitHub.
type GitHubProvider struct {
	oauth2Config *oauth2.Config
	apiURL       string
	client       *http.Client
}

// GitHubOption configures a GitHubProvider.
type GitHubOption func(*GitHubProvider)

// WithGitHubEndpoint overrides the OAuth endpoint (GitHub Enterprise).
func WithGitHubEndpoint(endpoint oauth2.Endpoint) GitHubOption {
	return func(p *GitHubProvider) {
		p.oauth2Config.Endpoint = endpoint
	}
}

// WithGitHubAPIURL overrides the REST API base URL.
func WithGitHubAPIURL(apiURL string) GitHubOption {
	return func(p *GitHubProvider) {
		p.apiURL = strings.TrimRight(apiURL, "/")
	}
}

// WithGitHubHTTPClient sets the client used for token and API calls.
func WithGitHubHTTPClient(client *http.Client) GitHubOption {
	return func(p *GitHubProvider) {
		p.client = client
	}
}

// NewGitHubProvider creates a GitHub provider.
func NewGitHubProvider(cfg Config, opts ...GitHubOption) (*GitHubProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user", "user:email"}
	}

	p := &GitHubProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		apiURL: defaultGitHubAPIURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns "github".
func (p *GitHubProvider) Name() string {
	return ProviderGitHub
}

// AuthCodeURL returns the GitHub consent URL.
func (p *GitHubProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange trades code for a token and fetches the GitHub profile.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	ctx = httpClientContext(ctx, p.client)
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	client := p.oauth2Config.Client(ctx, token)

	var user githubUser
	if err := p.getJSON(ctx, client, "/user", &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("missing user id in github response")
	}

	email := user.Email
	if email == "" {
		var emails []githubEmail
		if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}
	if email == "" {
		return nil, fmt.Errorf("github account has no verified primary email")
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}
	return &Profile{
		Provider:   ProviderGitHub,
		ProviderID: strconv.FormatInt(user.ID, 10),
		Email:      email,
		Name:       name,
		AvatarURL:  user.AvatarURL,
	}, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github %s failed with status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
