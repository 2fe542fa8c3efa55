// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package revision

import (
	"fmt"
	"sort"
	"strings"

	"github.com/home-cms/home/internal/model"
)

// LoadedRevision is the in-memory structure a Loader produces from a
// Bundle's bytes: route and content-path indices over the page graph,
// ready for read-only concurrent access by request handlers. Loading is
// a pure function of the bundle bytes — the same bundle always produces
// byte-identical structures.
type LoadedRevision struct {
	ID          model.RevisionID
	Tenant      string
	Pages       []model.Page
	ByRoute     map[string]*model.Page
	ByPath      map[string]*model.Page
	Assets      map[string]model.Asset // content-path -> asset
	Derivations map[model.ManifestKey]model.Derivation
	Templates   map[string]bool
}

// Load validates the bundle's structural invariants and builds the
// in-memory page graph. It is a pure function: it performs no I/O and
// the same bundle always yields byte-identical output.
func Load(tenant string, id model.RevisionID, bundle Bundle) (*LoadedRevision, error) {
	if err := validateBundleStructure(bundle); err != nil {
		return nil, err
	}

	lr := &LoadedRevision{
		ID:          id,
		Tenant:      tenant,
		Pages:       bundle.Pages,
		ByRoute:     make(map[string]*model.Page, len(bundle.Pages)),
		ByPath:      make(map[string]*model.Page, len(bundle.Pages)),
		Assets:      make(map[string]model.Asset, len(bundle.Assets)),
		Derivations: bundle.Derivations,
		Templates:   make(map[string]bool, len(bundle.TemplateNames)),
	}
	for i := range lr.Pages {
		p := &lr.Pages[i]
		lr.ByPath[p.ContentPath] = p
		if !p.Draft {
			lr.ByRoute[p.Route] = p
		}
	}
	for _, a := range bundle.Assets {
		lr.Assets[a.ContentPath] = a
	}
	for _, name := range bundle.TemplateNames {
		lr.Templates[name] = true
	}
	return lr, nil
}

// ResolveRoute returns the public (non-draft) page serving route, or
// false if no page publishes that route.
func (lr *LoadedRevision) ResolveRoute(route string) (*model.Page, bool) {
	p, ok := lr.ByRoute[route]
	return p, ok
}

// ResolvePath returns a page by content-path regardless of draft status,
// used for authenticated preview of unpublished content.
func (lr *LoadedRevision) ResolvePath(path string) (*model.Page, bool) {
	p, ok := lr.ByPath[path]
	return p, ok
}

// validateBundleStructure checks the invariants a bundle must satisfy
// before it can become a servable revision: internal links resolve,
// referenced templates exist, referenced assets exist, and no two pages
// share a route (draft pages excluded from the route-uniqueness check,
// since they aren't publicly routed).
func validateBundleStructure(bundle Bundle) error {
	paths := make(map[string]bool, len(bundle.Pages))
	for _, p := range bundle.Pages {
		paths[p.ContentPath] = true
	}
	assetPaths := make(map[string]bool, len(bundle.Assets))
	for _, a := range bundle.Assets {
		assetPaths[a.ContentPath] = true
	}
	templates := make(map[string]bool, len(bundle.TemplateNames))
	for _, name := range bundle.TemplateNames {
		templates[name] = true
	}

	routes := make(map[string]string) // route -> first content-path claiming it
	for _, p := range bundle.Pages {
		if !p.Draft {
			if owner, exists := routes[p.Route]; exists {
				return fmt.Errorf("route %q claimed by both %q and %q", p.Route, owner, p.ContentPath)
			}
			routes[p.Route] = p.ContentPath
		}

		for _, child := range p.ChildPaths {
			if !paths[child] {
				return fmt.Errorf("page %q references nonexistent child %q", p.ContentPath, child)
			}
		}

		for _, link := range extractInternalLinks(p.Body) {
			if !paths[link] && !assetPaths[link] {
				return fmt.Errorf("page %q contains unresolved internal link %q", p.ContentPath, link)
			}
		}

		if p.Template != "" && !templates[p.Template] {
			return fmt.Errorf("page %q references nonexistent template %q", p.ContentPath, p.Template)
		}
	}

	for key := range bundle.Derivations {
		if !assetPaths[key.ContentPath] && !paths[key.ContentPath] {
			return fmt.Errorf("derivation manifest references nonexistent content-path %q", key.ContentPath)
		}
	}

	return nil
}

// extractInternalLinks scans rendered HTML body for href/src attributes
// pointing at an internal (non-absolute) content-path. This is a narrow
// slice of what a full link-extraction pass would do — the HTML/markdown
// rendering pipeline itself is internal/render's concern, not the
// loader's; here we only need the set of paths a page's body references.
func extractInternalLinks(body string) []string {
	var links []string
	for _, attr := range []string{`href="`, `src="`} {
		idx := 0
		for {
			pos := strings.Index(body[idx:], attr)
			if pos < 0 {
				break
			}
			start := idx + pos + len(attr)
			end := strings.IndexByte(body[start:], '"')
			if end < 0 {
				break
			}
			link := body[start : start+end]
			idx = start + end
			if isInternalContentLink(link) {
				links = append(links, strings.TrimPrefix(link, "/"))
			}
		}
	}
	sort.Strings(links)
	return links
}

func isInternalContentLink(link string) bool {
	if link == "" || strings.HasPrefix(link, "#") {
		return false
	}
	if strings.Contains(link, "://") || strings.HasPrefix(link, "//") {
		return false
	}
	return strings.HasPrefix(link, "/")
}
