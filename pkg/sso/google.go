package sso

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const googleIssuer = "https://accounts.google.com"

// GoogleProvider signs users in with Google using OpenID Connect.
type GoogleProvider struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	client       *http.Client
}

// NewGoogleProvider discovers Google's OIDC configuration and creates a
// provider. Discovery performs a network call.
func NewGoogleProvider(ctx context.Context, cfg Config) (*GoogleProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return newGoogleProvider(cfg, provider.Endpoint(), verifier, nil), nil
}

func newGoogleProvider(cfg Config, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier, client *http.Client) *GoogleProvider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &GoogleProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier: verifier,
		client:   client,
	}
}

// Name returns "google".
func (p *GoogleProvider) Name() string {
	return ProviderGoogle
}

// AuthCodeURL returns the Google consent URL.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

type googleClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange trades code for tokens and verifies the ID token.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	ctx = httpClientContext(ctx, p.client)
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("missing id_token in response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" || !claims.EmailVerified {
		return nil, fmt.Errorf("google account has no verified email")
	}

	return &Profile{
		Provider:   ProviderGoogle,
		ProviderID: claims.Subject,
		Email:      claims.Email,
		Name:       claims.Name,
		AvatarURL:  claims.Picture,
	}, nil
}
