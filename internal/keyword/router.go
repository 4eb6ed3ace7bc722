// ABOUTME: Keyword router mapping normalized text to candidate sectors
// ABOUTME: Substring matching over accent-folded phrases in configuration order

// Package keyword routes free text to sectors by configured phrases.
package keyword

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/triage-gateway/internal/config"
	"github.com/2389/triage-gateway/internal/store"
	"github.com/2389/triage-gateway/internal/textnorm"
)

// SectorLookup resolves a slug to a sector.
type SectorLookup interface {
	GetSectorBySlug(ctx context.Context, slug string) (*store.Sector, error)
}

type route struct {
	slug    string
	phrases []string // folded
}

// Router holds the keyword table folded once at construction. It is immutable
// and safe for concurrent use.
type Router struct {
	routes []route
	norm   *textnorm.Normalizer
}

// New builds a Router from the ordered routes.
func New(routes config.KeywordRoutes, norm *textnorm.Normalizer) *Router {
	r := &Router{norm: norm}
	for _, cfgRoute := range routes {
		rt := route{slug: cfgRoute.SectorSlug}
		for _, p := range cfgRoute.Phrases {
			if folded := norm.Fold(p); folded != "" {
				rt.phrases = append(rt.phrases, folded)
			}
		}
		if len(rt.phrases) > 0 {
			r.routes = append(r.routes, rt)
		}
	}
	return r
}

// MatchSlugs returns the slugs whose phrases occur in text, in configuration order.
func (r *Router) MatchSlugs(text string) []string {
	folded := r.norm.Fold(text)
	if folded == "" {
		return nil
	}

	var slugs []string
	for _, rt := range r.routes {
		for _, p := range rt.phrases {
			if strings.Contains(folded, p) {
				slugs = append(slugs, rt.slug)
				break
			}
		}
	}
	return slugs
}

// Match returns the active sectors matched by text, deduplicated, in configuration order.
func (r *Router) Match(ctx context.Context, q SectorLookup, text string) ([]*store.Sector, error) {
	slugs := r.MatchSlugs(text)
	if len(slugs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(slugs))
	var sectors []*store.Sector
	for _, slug := range slugs {
		sector, err := q.GetSectorBySlug(ctx, slug)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving sector %q: %w", slug, err)
		}
		if !sector.Active || seen[sector.ID] {
			continue
		}
		seen[sector.ID] = true
		sectors = append(sectors, sector)
	}
	return sectors, nil
}
