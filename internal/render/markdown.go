// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package render

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/home-cms/home/internal/util"
)

const wordsPerMinute = 200

// MarkdownRenderer is the default Renderer: goldmark converts Markdown to
// HTML, bluemonday's UGCPolicy sanitizes it (grounded on the teacher's
// internal/service/widget.go htmlSanitizer, reused here since revision
// content is tenant-authored, not operator-trusted, and goldmark.Convert
// alone — as used bare in the teacher's internal/handler/docs.go for its
// own trusted local docs files — is not enough for untrusted input).
type MarkdownRenderer struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// NewMarkdownRenderer constructs the default Renderer.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		md:        goldmark.New(),
		sanitizer: bluemonday.UGCPolicy(),
	}
}

func (r *MarkdownRenderer) Render(body string) (Result, error) {
	source := []byte(body)
	doc := r.md.Parser().Parse(text.NewReader(source))

	var htmlBuf bytes.Buffer
	if err := r.md.Renderer().Render(&htmlBuf, source, doc); err != nil {
		return Result{}, err
	}
	safeHTML := r.sanitizer.Sanitize(htmlBuf.String())

	plain := extractPlainText(doc, source)
	toc := extractTOC(doc, source)

	return Result{
		HTML:               safeHTML,
		PlainText:          plain,
		ReadingTimeMinutes: readingTime(plain),
		TOC:                toc,
	}, nil
}

func readingTime(plain string) int {
	words := len(strings.Fields(plain))
	if words == 0 {
		return 0
	}
	minutes := words / wordsPerMinute
	if words%wordsPerMinute != 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func extractPlainText(doc ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

func extractTOC(doc ast.Node, source []byte) []TOCEntry {
	var entries []TOCEntry
	seen := map[string]int{}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		h := n.(*ast.Heading)
		text := headingText(h, source)
		slug := util.Slugify(text)
		if slug == "" {
			slug = "section"
		}
		if n, dup := seen[slug]; dup {
			seen[slug] = n + 1
			slug = slug + "-" + strconv.Itoa(n+1)
		} else {
			seen[slug] = 0
		}
		entries = append(entries, TOCEntry{Level: h.Level, Text: text, Slug: slug})
		return ast.WalkContinue, nil
	})
	return entries
}

func headingText(h *ast.Heading, source []byte) string {
	var b strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
	}
	return b.String()
}
