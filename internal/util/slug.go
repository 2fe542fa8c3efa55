// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package util provides general-purpose helpers shared across the origin
// and edge: route/slug validation, path-traversal-safe joins for bundle
// asset paths, and SSRF-safe network dialing for outbound identity-
// provider calls. Grounded on the teacher's internal/util package;
// nulltypes.go (sql.NullInt64 form-parsing helpers for the CMS's HTML
// admin forms) has no equivalent here since this module has no HTML
// form surface, and is not carried over.
package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugRegex       = regexp.MustCompile(`[^a-z0-9-]+`)
	multipleHyphens = regexp.MustCompile(`-{2,}`)
)

// Slugify converts s into a URL-friendly slug: lowercased, accents
// stripped, spaces turned to hyphens, everything else that isn't
// alphanumeric-or-hyphen removed.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)

	result = strings.ToLower(result)
	result = strings.ReplaceAll(result, " ", "-")
	result = slugRegex.ReplaceAllString(result, "")
	result = multipleHyphens.ReplaceAllString(result, "-")
	result = strings.Trim(result, "-")

	return result
}

// IsValidSlug reports whether s is a single valid route segment: lowercase
// alphanumerics and hyphens only, no leading/trailing/consecutive hyphens.
func IsValidSlug(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return false
		}
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	return !strings.Contains(s, "--")
}

// IsValidRoute reports whether route is a valid page route: a leading
// slash followed by zero or more valid slugs separated by slashes ("/" is
// the root route and is always valid).
func IsValidRoute(route string) bool {
	if route == "/" {
		return true
	}
	if !strings.HasPrefix(route, "/") || strings.HasSuffix(route, "/") {
		return false
	}
	for _, segment := range strings.Split(strings.TrimPrefix(route, "/"), "/") {
		if !IsValidSlug(segment) {
			return false
		}
	}
	return true
}
