// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/model"
)

func validBundle() Bundle {
	return Bundle{
		Pages: []model.Page{
			{ContentPath: "home.md", Route: "/", Body: `<a href="/about.md">about</a>`},
			{ContentPath: "about.md", Route: "/about"},
			{ContentPath: "draft.md", Route: "/about", Draft: true},
		},
		Assets: []model.Asset{
			{ContentPath: "logo.png", SHA256: "abc123"},
		},
		TemplateNames: []string{"default"},
	}
}

func TestLoadBuildsRouteAndPathIndices(t *testing.T) {
	lr, err := Load("acme", model.RevisionID("01ARZ3NDEKTSV4RRFFQ69G5FAV"), validBundle())
	require.NoError(t, err)

	home, ok := lr.ResolveRoute("/")
	require.True(t, ok)
	assert.Equal(t, "home.md", home.ContentPath)

	about, ok := lr.ResolvePath("about.md")
	require.True(t, ok)
	assert.Equal(t, "/about", about.Route)
}

func TestLoadExcludesDraftsFromRouting(t *testing.T) {
	bundle := Bundle{
		Pages: []model.Page{
			{ContentPath: "published.md", Route: "/shared"},
			{ContentPath: "draft.md", Route: "/draft-only", Draft: true},
		},
	}
	lr, err := Load("acme", model.RevisionID("01ARZ3NDEKTSV4RRFFQ69G5FAV"), bundle)
	require.NoError(t, err)

	_, ok := lr.ResolveRoute("/draft-only")
	assert.False(t, ok, "a draft's route must not be publicly resolvable")

	_, ok = lr.ResolvePath("draft.md")
	assert.True(t, ok, "a draft must still resolve by content-path for preview")
}

func TestLoadRejectsDuplicateRoutes(t *testing.T) {
	bundle := Bundle{
		Pages: []model.Page{
			{ContentPath: "a.md", Route: "/dup"},
			{ContentPath: "b.md", Route: "/dup"},
		},
	}
	_, err := Load("acme", model.RevisionID("01ARZ3NDEKTSV4RRFFQ69G5FAV"), bundle)
	require.Error(t, err)
}

func TestLoadRejectsUnresolvedInternalLink(t *testing.T) {
	bundle := Bundle{
		Pages: []model.Page{
			{ContentPath: "a.md", Route: "/a", Body: `<a href="/missing.md">gone</a>`},
		},
	}
	_, err := Load("acme", model.RevisionID("01ARZ3NDEKTSV4RRFFQ69G5FAV"), bundle)
	require.Error(t, err)
}

func TestLoadRejectsChildReferencingMissingPath(t *testing.T) {
	bundle := Bundle{
		Pages: []model.Page{
			{ContentPath: "a.md", Route: "/a", ChildPaths: []string{"nonexistent.md"}},
		},
	}
	_, err := Load("acme", model.RevisionID("01ARZ3NDEKTSV4RRFFQ69G5FAV"), bundle)
	require.Error(t, err)
}

func TestLoadIsPureAndDeterministic(t *testing.T) {
	bundle := validBundle()
	id := model.RevisionID("01ARZ3NDEKTSV4RRFFQ69G5FAV")

	lr1, err := Load("acme", id, bundle)
	require.NoError(t, err)
	lr2, err := Load("acme", id, bundle)
	require.NoError(t, err)

	assert.Equal(t, lr1.Pages, lr2.Pages)
	assert.Equal(t, len(lr1.ByRoute), len(lr2.ByRoute))
}
