// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/store"
)

// DeployKeyResolver looks up a deploy key by its hash. Satisfied by
// *store.DeployKeyStore.
type DeployKeyResolver interface {
	ByHash(ctx context.Context, keyHash string) (model.DeployKey, error)
}

// deployError is the JSON error body returned by deploy-ingest auth
// failures, mirroring the teacher's APIError shape for its own API key
// middleware.
type deployError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeDeployError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := deployError{}
	body.Error.Code = code
	body.Error.Message = message
	_ = json.NewEncoder(w).Encode(body)
}

// DeployKeyAuth authenticates deploy-ingest calls with a
// `Bearer <key>` Authorization header, hashed and matched against the
// tenant's own deploy keys. The resolved tenant (set by TenantByHost, or
// by the path tenant the caller is deploying to) must match the key's
// tenant, so a leaked key for one tenant cannot deploy into another.
func DeployKeyAuth(resolver DeployKeyResolver, tenantOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				writeDeployError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header")
				return
			}

			key, err := resolver.ByHash(r.Context(), model.HashDeployKey(parts[1]))
			if err != nil {
				if errkind.Is(err, errkind.NotFound) {
					writeDeployError(w, http.StatusUnauthorized, "unauthorized", "invalid deploy key")
					return
				}
				writeDeployError(w, http.StatusInternalServerError, "internal_error", "failed to validate deploy key")
				return
			}

			if key.Revoked {
				writeDeployError(w, http.StatusUnauthorized, "unauthorized", "deploy key has been revoked")
				return
			}
			if key.Expired(time.Now()) {
				writeDeployError(w, http.StatusUnauthorized, "unauthorized", "deploy key has expired")
				return
			}
			if tenant := tenantOf(r); tenant != "" && tenant != key.Tenant {
				writeDeployError(w, http.StatusForbidden, "forbidden", "deploy key does not belong to this tenant")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyDeployKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DeployKeyFromContext retrieves the key authenticated by DeployKeyAuth.
func DeployKeyFromContext(ctx context.Context) (model.DeployKey, bool) {
	k, ok := ctx.Value(ContextKeyDeployKey).(model.DeployKey)
	return k, ok
}

var _ DeployKeyResolver = (*store.DeployKeyStore)(nil)
