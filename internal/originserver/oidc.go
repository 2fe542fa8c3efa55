// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"
)

// OIDCConfig describes one tenant-configurable OpenID Connect identity
// provider (Google, a corporate Okta tenant, a self-hosted Keycloak,
// ...). Deployments register one of these per entry in the provider map
// New takes.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TierClaim, if set, names an ID-token claim holding a []string (or
	// single string) of subscription tiers to carry into
	// ExternalIdentity.Tiers, for tier-gated visibility.
	TierClaim string
}

type oidcDiscovery struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	Issuer                string `json:"issuer"`
}

// OIDCProvider implements IdentityProvider against a standard OpenID
// Connect authorization-code flow: it exchanges the code for tokens via
// golang.org/x/oauth2, then verifies and decodes the returned ID token's
// claims via the issuer's published JWKS using lestrrat-go/jwx, the JOSE
// toolkit already pulled in by the example corpus for JWT handling.
type OIDCProvider struct {
	name      string
	issuer    string
	tierClaim string
	oauth     oauth2.Config
	keySet    jwk.Set
	keyRefAt  time.Time
	http      *http.Client
}

// NewOIDCProvider fetches cfg.IssuerURL's OIDC discovery document and its
// JWKS, and returns a ready-to-use provider registered under name (the
// path segment used in /auth/{name}/callback).
func NewOIDCProvider(ctx context.Context, name string, cfg OIDCConfig) (*OIDCProvider, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	disc, err := fetchDiscovery(ctx, httpClient, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("fetching OIDC discovery document for %q: %w", name, err)
	}

	keySet, err := jwk.Fetch(ctx, disc.JWKSURI, jwk.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS for %q: %w", name, err)
	}

	return &OIDCProvider{
		name:      name,
		issuer:    disc.Issuer,
		tierClaim: cfg.TierClaim,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  disc.AuthorizationEndpoint,
				TokenURL: disc.TokenEndpoint,
			},
			Scopes: []string{"openid", "profile", "email"},
		},
		keySet: keySet,
		http:   httpClient,
	}, nil
}

func fetchDiscovery(ctx context.Context, client *http.Client, issuerURL string) (oidcDiscovery, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuerURL+"/.well-known/openid-configuration", nil)
	if err != nil {
		return oidcDiscovery{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return oidcDiscovery{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return oidcDiscovery{}, fmt.Errorf("discovery endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return oidcDiscovery{}, err
	}
	var disc oidcDiscovery
	if err := json.Unmarshal(body, &disc); err != nil {
		return oidcDiscovery{}, fmt.Errorf("decoding discovery document: %w", err)
	}
	return disc, nil
}

// AuthCodeURL builds the URL a browser is redirected to in order to begin
// this provider's login flow, keyed by an opaque anti-CSRF state value.
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange implements IdentityProvider.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (ExternalIdentity, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("exchanging authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return ExternalIdentity{}, fmt.Errorf("token response missing id_token")
	}

	parsed, err := jwt.Parse([]byte(rawIDToken), jwt.WithKeySet(p.keySet), jwt.WithValidate(true), jwt.WithIssuer(p.issuer))
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("verifying id_token: %w", err)
	}

	identity := ExternalIdentity{
		Subject:      parsed.Subject(),
		RefreshToken: []byte(token.RefreshToken),
		ExpiresAt:    token.Expiry,
	}
	if name, ok := parsed.Get("name"); ok {
		if s, ok := name.(string); ok {
			identity.DisplayName = s
		}
	}
	if identity.DisplayName == "" {
		identity.DisplayName = identity.Subject
	}
	if p.tierClaim != "" {
		if v, ok := parsed.Get(p.tierClaim); ok {
			identity.Tiers = coerceTiers(v)
		}
	}
	return identity, nil
}

func coerceTiers(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
