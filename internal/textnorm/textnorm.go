// ABOUTME: Text normalization shared by command, keyword and clarification matching
// ABOUTME: Locale-aware lower-casing plus accent folding built on golang.org/x/text

// Package textnorm normalizes inbound chat text for matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultLanguage is used when a Normalizer is created without one.
var DefaultLanguage = language.BrazilianPortuguese

// Normalizer lower-cases with the casing rules of a language and folds accents.
// It is safe for concurrent use.
type Normalizer struct {
	tag language.Tag
}

// New returns a Normalizer for tag.
func New(tag language.Tag) *Normalizer {
	return &Normalizer{tag: tag}
}

// Default returns a Normalizer for DefaultLanguage.
func Default() *Normalizer {
	return New(DefaultLanguage)
}

// Normalize trims, collapses internal whitespace to single spaces and lower-cases.
// Accents are preserved.
func (n *Normalizer) Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	// cases.Caser carries state, so one is built per call.
	return norm.NFC.String(cases.Lower(n.tag).String(s))
}

// Fold normalizes s and strips combining marks, so "Início" and "inicio" compare equal.
func (n *Normalizer) Fold(s string) string {
	s = n.Normalize(s)
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// IsMenuCode reports whether s is a non-empty run of at most maxDigits ASCII digits.
func IsMenuCode(s string, maxDigits int) bool {
	if s == "" || len(s) > maxDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
