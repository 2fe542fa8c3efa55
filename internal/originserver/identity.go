// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/session"
)

// sessionCookieName is the visitor session cookie, distinct from the
// scs-backed admin cookie NewAdminSessionManager sets: this one carries
// a stateless session.Claims token, never touches the
// server-side session store.
const sessionCookieName = "home_session"

// ExternalIdentity is what an IdentityProvider resolves an OAuth-style
// authorization code to.
type ExternalIdentity struct {
	Subject      string
	DisplayName  string
	Tiers        []string
	RefreshToken []byte
	ExpiresAt    time.Time
}

// IdentityProvider exchanges an authorization code for an
// ExternalIdentity. Each enabled provider (Google, GitHub, a tenant's own
// OIDC issuer, ...) gets one implementation, registered in Server.providers
// under the name that appears in its callback URL.
type IdentityProvider interface {
	Exchange(ctx context.Context, code string) (ExternalIdentity, error)
}

// ExchangeCallback handles GET /auth/{provider}/callback: the redirect
// target an identity provider sends the browser back to after the user
// authorizes: exchange code → external identity →
// credential record → session cookie.
func (s *Server) ExchangeCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	tenant := tenantFromRoute(r)
	if tenant == "" {
		tenant = r.URL.Query().Get("tenant")
	}

	provider, ok := s.providers[providerName]
	if !ok {
		writeDeployJSONError(w, http.StatusNotFound, "unknown identity provider")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeDeployJSONError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	identity, err := provider.Exchange(r.Context(), code)
	if err != nil {
		writeDeployJSONError(w, http.StatusBadGateway, "identity provider exchange failed: "+err.Error())
		return
	}

	credential := model.Credential{
		Tenant:       tenant,
		Provider:     providerName,
		Subject:      identity.Subject,
		DisplayName:  identity.DisplayName,
		Tiers:        identity.Tiers,
		RefreshToken: identity.RefreshToken,
		ExpiresAt:    identity.ExpiresAt,
	}
	if err := s.credentials.Upsert(r.Context(), credential); err != nil {
		writeDeployJSONError(w, http.StatusInternalServerError, "recording credential: "+err.Error())
		return
	}

	key, err := s.keyDeriver.DeriveKey(tenant)
	if err != nil {
		writeDeployJSONError(w, http.StatusInternalServerError, "deriving session key: "+err.Error())
		return
	}
	token := session.Issue(key, session.Claims{
		Tenant:   tenant,
		Subject:  identity.Subject,
		Provider: providerName,
		IssuedAt: time.Now(),
	})

	http.SetCookie(w, &http.Cookie{
		Name:     s.sessionCookieName(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   !s.cfg.DevMode,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(session.TTL.Seconds()),
	})

	redirect := s.cfg.PostLoginRedirect
	if redirect == "" {
		redirect = "/"
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// sessionCookieName returns the visitor session cookie's name, using the
// __Host- prefix in production for the usual same-origin/Secure/Path=/
// cookie-fixation hardening, matching the teacher's admin cookie naming.
func (s *Server) sessionCookieName() string {
	if s.cfg.DevMode {
		return sessionCookieName
	}
	return "__Host-" + sessionCookieName
}
