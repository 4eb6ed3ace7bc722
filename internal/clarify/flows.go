// ABOUTME: Clarification flow engine: ambiguous trigger terms, numbered questions and reply parsing
// ABOUTME: Builds the ClarificationContext stored on a conversation and interprets the next reply

// Package clarify asks disambiguating questions when a message could belong to several sectors.
package clarify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/triage-gateway/internal/config"
	"github.com/2389/triage-gateway/internal/store"
	"github.com/2389/triage-gateway/internal/textnorm"
)

// KeywordMatchKey is the question key used when several keyword routes match.
const KeywordMatchKey = "keyword_match"

// maxReplyDigits bounds what counts as a numeric reply.
const maxReplyDigits = 3

// SectorLookup resolves a slug to a sector.
type SectorLookup interface {
	GetSectorBySlug(ctx context.Context, slug string) (*store.Sector, error)
}

// Flow is one configured trigger with its question.
type Flow struct {
	Trigger  string
	Question string
	Options  []store.ClarificationOption

	folded string
}

// Engine matches trigger terms. It is immutable after New and safe for concurrent use.
type Engine struct {
	flows []*Flow
	norm  *textnorm.Normalizer
}

// New builds an Engine from configured flows, keeping their order.
func New(flows config.ClarificationFlows, norm *textnorm.Normalizer) *Engine {
	e := &Engine{norm: norm}
	for _, cf := range flows {
		folded := norm.Fold(cf.Trigger)
		if folded == "" {
			continue
		}
		f := &Flow{
			Trigger:  cf.Trigger,
			Question: cf.Question,
			folded:   folded,
		}
		for _, opt := range cf.Options {
			f.Options = append(f.Options, store.ClarificationOption{SectorSlug: opt.SectorSlug, Label: opt.Label})
		}
		e.flows = append(e.flows, f)
	}
	return e
}

// Matches returns every flow whose trigger occurs in text, in configuration order.
func (e *Engine) Matches(text string) []*Flow {
	folded := e.norm.Fold(text)
	if folded == "" {
		return nil
	}
	var out []*Flow
	for _, f := range e.flows {
		if strings.Contains(folded, f.folded) {
			out = append(out, f)
		}
	}
	return out
}

// Resolve builds the pending context for f, dropping options whose sector is
// missing or inactive. The returned sectors line up with the context options.
// A flow with no usable options returns a nil context.
func (f *Flow) Resolve(ctx context.Context, q SectorLookup) (*store.ClarificationContext, []*store.Sector, error) {
	cc := &store.ClarificationContext{QuestionKey: f.Trigger, Question: f.Question}
	var sectors []*store.Sector
	for _, opt := range f.Options {
		sector, err := q.GetSectorBySlug(ctx, opt.SectorSlug)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("resolving option %q: %w", opt.SectorSlug, err)
		}
		if !sector.Active {
			continue
		}
		cc.Options = append(cc.Options, opt)
		sectors = append(sectors, sector)
	}
	if len(cc.Options) == 0 {
		return nil, nil, nil
	}
	return cc, sectors, nil
}

// FromSectors builds an ad hoc clarification listing the given sectors.
func FromSectors(sectors []*store.Sector) *store.ClarificationContext {
	cc := &store.ClarificationContext{
		QuestionKey: KeywordMatchKey,
		Question:    "Entendi sua dúvida, mas preciso confirmar o setor. Escolha uma opção digitando o número:",
	}
	for _, s := range sectors {
		cc.Options = append(cc.Options, store.ClarificationOption{SectorSlug: s.Slug, Label: s.Name})
	}
	return cc
}

// Interpret reads a normalized reply as a 1-based option index.
func Interpret(cc *store.ClarificationContext, reply string) (store.ClarificationOption, bool) {
	if cc == nil || !textnorm.IsMenuCode(reply, maxReplyDigits) {
		return store.ClarificationOption{}, false
	}
	n, err := strconv.Atoi(reply)
	if err != nil || n < 1 || n > len(cc.Options) {
		return store.ClarificationOption{}, false
	}
	return cc.Options[n-1], true
}

// Render formats the question with its numbered options.
func Render(cc *store.ClarificationContext) string {
	var b strings.Builder
	b.WriteString(cc.Question)
	b.WriteString("\n\n")
	for i, opt := range cc.Options {
		fmt.Fprintf(&b, "%d – %s\n", i+1, opt.Label)
	}
	b.WriteString("\nOu digite *menu* para ver todas as opções.")
	return b.String()
}
