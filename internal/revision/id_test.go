// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package revision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDShape(t *testing.T) {
	id, err := NewID()
	require.NoError(t, err)
	assert.Len(t, id.String(), 26)

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestNewIDSortsByCreationTime(t *testing.T) {
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	a, err := newIDAt(earlier)
	require.NoError(t, err)
	b, err := newIDAt(later)
	require.NoError(t, err)

	assert.Less(t, a.String(), b.String())
}

func TestParseIDRejectsWrongLength(t *testing.T) {
	_, err := ParseID("too-short")
	require.Error(t, err)
}

func TestParseIDRejectsInvalidCharacters(t *testing.T) {
	// 26 characters but contains 'I', which is excluded from the
	// Crockford alphabet to avoid confusion with '1'.
	_, err := ParseID("IIIIIIIIIIIIIIIIIIIIIIIIII")
	require.Error(t, err)
}
