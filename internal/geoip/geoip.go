// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package geoip enriches edge access log entries with a requester's
// country and device class. It is purely observational: a missing or
// unreadable database degrades to empty fields rather than failing a
// request — ambient observability, not a gating dependency.
package geoip

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/mileusna/useragent"
	"github.com/oschwald/maxminddb-golang"

	"github.com/home-cms/home/internal/util"
)

// Lookup resolves IP addresses to country codes using a MaxMind
// GeoLite2-Country database, reloadable at runtime.
type Lookup struct {
	db          *maxminddb.Reader
	dbPath      string
	dbModTime   time.Time
	initialized bool
	enabled     bool
	mu          sync.RWMutex
}

// geoRecord matches the GeoLite2-Country database structure.
type geoRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// NewLookup creates an uninitialized GeoIP lookup; call Init before use.
func NewLookup() *Lookup {
	return &Lookup{}
}

// Init opens the database at dbPath. An empty path disables lookups
// without error, since an edge may legitimately run without the
// GeoLite2 file installed.
func (g *Lookup) Init(dbPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.initialized = true
	g.dbPath = dbPath

	if dbPath == "" {
		g.enabled = false
		return nil
	}
	return g.loadDatabase()
}

// loadDatabase loads or reloads the MaxMind database. Caller must hold
// g.mu for writing.
func (g *Lookup) loadDatabase() error {
	info, err := os.Stat(g.dbPath)
	if err != nil {
		g.enabled = false
		if os.IsNotExist(err) {
			return fmt.Errorf("GeoIP database not found: %s", g.dbPath)
		}
		return fmt.Errorf("GeoIP database stat error: %w", err)
	}

	if g.db != nil && info.ModTime().Equal(g.dbModTime) {
		return nil
	}

	if g.db != nil {
		_ = g.db.Close()
		g.db = nil
	}

	db, err := maxminddb.Open(g.dbPath)
	if err != nil {
		g.enabled = false
		return fmt.Errorf("failed to open GeoIP database: %w", err)
	}

	g.db = db
	g.dbModTime = info.ModTime()
	g.enabled = true
	return nil
}

// Reload re-checks the database file's mtime and reloads it if changed.
// Safe to call periodically, e.g. from internal/scheduler.
func (g *Lookup) Reload() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dbPath == "" {
		return nil
	}
	return g.loadDatabase()
}

// LookupCountry returns the 2-letter ISO country code for an IP address,
// "LOCAL" for private/loopback addresses, or "" if it cannot be
// determined.
func (g *Lookup) LookupCountry(ip net.IP) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.initialized || ip == nil {
		return ""
	}
	if util.IsPrivateIP(ip) || ip.IsLoopback() {
		return "LOCAL"
	}
	if !g.enabled || g.db == nil {
		return ""
	}

	var record geoRecord
	if err := g.db.Lookup(ip, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// IsEnabled reports whether a database is currently loaded.
func (g *Lookup) IsEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// Close releases the underlying database file.
func (g *Lookup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db != nil {
		err := g.db.Close()
		g.db = nil
		g.enabled = false
		return err
	}
	return nil
}

// DeviceClass classifies a User-Agent header into a coarse bucket for
// access log enrichment: "bot", "mobile", "tablet", "desktop", or
// "unknown".
func DeviceClass(userAgent string) string {
	ua := useragent.Parse(userAgent)
	switch {
	case ua.Bot:
		return "bot"
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Desktop:
		return "desktop"
	default:
		return "unknown"
	}
}
