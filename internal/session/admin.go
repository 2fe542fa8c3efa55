// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
)

// NewAdminSessionManager builds the origin's own server-side browser
// session manager, used only for the deploy/admin surface (never for
// visitor tokens — those are the stateless Claims above). Grounded on
// the teacher's internal/session.New almost verbatim: same store, same
// cookie hardening, since that concern (an operator's browser session
// over the admin UI) is unchanged by this module's domain.
func NewAdminSessionManager(db *sql.DB, isDev bool) *scs.SessionManager {
	sm := scs.New()
	sm.Store = sqlite3store.New(db)
	sm.Lifetime = 24 * time.Hour
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = !isDev
	sm.Cookie.Path = "/"
	if !isDev {
		sm.Cookie.Name = "__Host-session"
	}
	return sm
}
