// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderConvertsMarkdownToHTML(t *testing.T) {
	r := NewMarkdownRenderer()
	result, err := r.Render("# Title\n\nSome **bold** text.")
	require.NoError(t, err)
	assert.Contains(t, result.HTML, "<h1")
	assert.Contains(t, result.HTML, "<strong>bold</strong>")
}

func TestRenderSanitizesScriptTags(t *testing.T) {
	r := NewMarkdownRenderer()
	result, err := r.Render("hello <script>alert(1)</script> world")
	require.NoError(t, err)
	assert.NotContains(t, result.HTML, "<script>")
}

func TestRenderExtractsPlainTextWithoutMarkup(t *testing.T) {
	r := NewMarkdownRenderer()
	result, err := r.Render("# Title\n\nSome **bold** text here.")
	require.NoError(t, err)
	assert.NotContains(t, result.PlainText, "#")
	assert.NotContains(t, result.PlainText, "**")
	assert.Contains(t, result.PlainText, "bold")
}

func TestRenderBuildsTOCFromHeadings(t *testing.T) {
	r := NewMarkdownRenderer()
	result, err := r.Render("# Intro\n\nbody\n\n## Getting Started\n\nmore body\n\n## Getting Started\n\ndup body")
	require.NoError(t, err)
	require.Len(t, result.TOC, 3)
	assert.Equal(t, 1, result.TOC[0].Level)
	assert.Equal(t, "intro", result.TOC[0].Slug)
	assert.Equal(t, "getting-started", result.TOC[1].Slug)
	assert.Equal(t, "getting-started-1", result.TOC[2].Slug, "duplicate heading slugs must be disambiguated")
}

func TestRenderEstimatesReadingTime(t *testing.T) {
	r := NewMarkdownRenderer()
	body := strings.Repeat("word ", 450)
	result, err := r.Render(body)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ReadingTimeMinutes)
}

func TestRenderEmptyBodyHasZeroReadingTime(t *testing.T) {
	r := NewMarkdownRenderer()
	result, err := r.Render("")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ReadingTimeMinutes)
	assert.Empty(t, result.TOC)
}
