// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package middleware provides HTTP middleware shared by cmd/mom (origin)
// and cmd/cub (edge): tenant resolution, deploy-key authentication and
// security headers. Request IDs and panic recovery are wired directly
// from github.com/go-chi/chi/v5/middleware in each binary's main, the
// same way the teacher's cmd/ocms/main.go does it — this package only
// holds the middleware that is specific to the platform's own domain.
package middleware

// ContextKey is the type used for all values this package stores on a
// request context, so they never collide with keys set by other
// packages or by net/http itself.
type ContextKey string

const (
	// ContextKeyTenant holds the resolved model.Tenant for the request.
	ContextKeyTenant ContextKey = "tenant"
	// ContextKeyDeployKey holds the authenticated model.DeployKey.
	ContextKeyDeployKey ContextKey = "deploy_key"
)
