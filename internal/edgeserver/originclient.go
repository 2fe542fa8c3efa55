// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package edgeserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/revision"
)

// OriginClient is the edge's HTTP client for the origin endpoints it
// depends on: the subscription stream, fetching a
// promoted revision's bundle, and the derivation proxy fallback.
type OriginClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewOriginClient builds a client against baseURL (e.g.
// "https://origin.internal:8090"), with no default per-tenant
// credential — callers pass the tenant's own deploy key to each method.
func NewOriginClient(baseURL string, logger *slog.Logger) *OriginClient {
	return &OriginClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 0}, // subscribe is long-lived; per-call context deadlines apply elsewhere
		logger:  logger,
	}
}

func (c *OriginClient) newRequest(ctx context.Context, method, path, apiKey string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// bundleWire mirrors originserver's bundleWire JSON shape exactly (same
// field names and tags), since Bundle.Derivations is keyed by a struct
// and can't round-trip through encoding/json as a map directly.
type bundleWire struct {
	Pages         []model.Page        `json:"pages"`
	Assets        []model.Asset       `json:"assets"`
	TemplateNames []string            `json:"template_names"`
	Derivations   []manifestEntryWire `json:"derivations"`
}

type manifestEntryWire struct {
	Key        model.ManifestKey `json:"key"`
	Derivation model.Derivation  `json:"derivation"`
}

func (w bundleWire) toBundle() revision.Bundle {
	derivations := make(map[model.ManifestKey]model.Derivation, len(w.Derivations))
	for _, e := range w.Derivations {
		derivations[e.Key] = e.Derivation
	}
	return revision.Bundle{
		Pages:         w.Pages,
		Assets:        w.Assets,
		TemplateNames: w.TemplateNames,
		Derivations:   derivations,
	}
}

// FetchRevision retrieves the full bundle for a promoted revision, the
// get(tenant, revid) operation exposed over HTTP.
func (c *OriginClient) FetchRevision(ctx context.Context, tenant, apiKey string, id model.RevisionID) (revision.Bundle, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/tenants/%s/revisions/%s", tenant, id), apiKey)
	if err != nil {
		return revision.Bundle{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return revision.Bundle{}, errkind.Wrap(errkind.Transient, "fetching revision from origin", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return revision.Bundle{}, statusToErr(resp)
	}

	var wire bundleWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return revision.Bundle{}, fmt.Errorf("decoding revision bundle: %w", err)
	}
	return wire.toBundle(), nil
}

// FetchDerivation implements derivation.Fetcher: it is what an edge's
// EdgeCache calls on a miss. It carries no tenant credential — fingerprints are a global,
// content-addressed namespace and the derivation proxy route is
// deliberately unauthenticated: fingerprints never encode
// tenant identity, only transform+params+input hashes.
func (c *OriginClient) FetchDerivation(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/derive/"+string(fp), "")
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", errkind.Wrap(errkind.Transient, "fetching derivation from origin", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", statusToErr(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errkind.Wrap(errkind.Transient, "reading derivation body", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

type subscribeLine struct {
	RevID string `json:"revid"`
}

// Subscribe returns a channel of revision promotions for tenant,
// reconnecting to the origin's subscription stream with backoff if the
// connection drops, and closing the channel only when ctx is done.
func (c *OriginClient) Subscribe(ctx context.Context, tenant, apiKey string) <-chan model.RevisionID {
	out := make(chan model.RevisionID)
	go func() {
		defer close(out)
		backoff := time.Second
		for ctx.Err() == nil {
			if err := c.subscribeOnce(ctx, tenant, apiKey, out); err != nil && ctx.Err() == nil {
				c.logger.Warn("origin subscription dropped, reconnecting", "tenant", tenant, "error", err, "backoff", backoff)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
		}
	}()
	return out
}

func (c *OriginClient) subscribeOnce(ctx context.Context, tenant, apiKey string, out chan<- model.RevisionID) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/tenants/"+tenant+"/subscribe", apiKey)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusToErr(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		var line subscribeLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.RevID == "" {
			continue
		}
		select {
		case out <- model.RevisionID(line.RevID):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func statusToErr(resp *http.Response) error {
	kind := errkind.Internal
	switch resp.StatusCode {
	case http.StatusBadRequest:
		kind = errkind.Input
	case http.StatusNotFound:
		kind = errkind.NotFound
	case http.StatusConflict:
		kind = errkind.Conflict
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = errkind.Input
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		kind = errkind.Transient
	}
	return errkind.New(kind, fmt.Sprintf("origin responded %d", resp.StatusCode))
}
