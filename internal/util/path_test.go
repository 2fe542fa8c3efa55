// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	safe, err := SanitizeFilename("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "passwd", safe)

	_, err = SanitizeFilename("..")
	assert.Error(t, err)

	_, err = SanitizeFilename("")
	assert.Error(t, err)
}

func TestSafeJoinPathRejectsTraversal(t *testing.T) {
	_, err := SafeJoinPath("/srv/bundles", "../../etc/passwd")
	assert.Error(t, err)

	joined, err := SafeJoinPath("/srv/bundles", "assets", "logo.png")
	require.NoError(t, err)
	assert.Equal(t, "/srv/bundles/assets/logo.png", joined)
}

func TestContainsPathTraversal(t *testing.T) {
	assert.True(t, ContainsPathTraversal("../secrets"))
	assert.True(t, ContainsPathTraversal("assets/../../secrets"))
	assert.False(t, ContainsPathTraversal("assets/logo.png"))
}
