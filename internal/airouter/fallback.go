// ABOUTME: AI routing fallback: throttled, validated calls to an external sector classifier
// ABOUTME: Never fails the caller; bad or missing answers become an empty Decision

// Package airouter consults an external text classifier when keyword routing is inconclusive.
package airouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultTimeout bounds a single classifier call.
const DefaultTimeout = 15 * time.Second

// SectorInfo is what the classifier is told about each active sector.
type SectorInfo struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	MenuCode string `json:"menu_code"`
}

// Classification is the classifier's raw answer after JSON decoding.
type Classification struct {
	SectorSlug         *string  `json:"sector_slug"`
	Confidence         *float64 `json:"confidence"`
	ClarifyingQuestion *string  `json:"clarifying_question"`
}

// Classifier is an external text classifier.
type Classifier interface {
	Classify(ctx context.Context, text string, sectors []SectorInfo) (*Classification, error)
}

// Decision is the validated outcome. Both fields empty means "no decision".
type Decision struct {
	SectorSlug string
	Confidence float64
	Question   string
}

// Empty reports whether the decision carries nothing actionable.
func (d Decision) Empty() bool {
	return d.SectorSlug == "" && d.Question == ""
}

// Fallback wraps a Classifier with a timeout and contract validation.
type Fallback struct {
	classifier    Classifier
	minConfidence float64
	timeout       time.Duration
	logger        *slog.Logger
}

// NewFallback creates a Fallback. A zero timeout uses DefaultTimeout.
func NewFallback(classifier Classifier, minConfidence float64, timeout time.Duration, logger *slog.Logger) *Fallback {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		classifier:    classifier,
		minConfidence: minConfidence,
		timeout:       timeout,
		logger:        logger.With("component", "airouter"),
	}
}

// Decide asks the classifier about text. On any failure (timeout, transport
// error, malformed answer) it returns an empty Decision; the triage flow must
// not depend on the classifier being available.
func (f *Fallback) Decide(ctx context.Context, text string, sectors []SectorInfo) Decision {
	if strings.TrimSpace(text) == "" || len(sectors) == 0 {
		return Decision{}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	result, err := f.classifier.Classify(ctx, text, sectors)
	if err != nil {
		f.logger.Warn("classifier call failed", "error", err)
		return Decision{}
	}
	if result == nil {
		return Decision{}
	}

	return f.validate(result, sectors)
}

// validate coerces anything outside the contract to "no decision" for the sector.
func (f *Fallback) validate(c *Classification, sectors []SectorInfo) Decision {
	var d Decision
	if c.ClarifyingQuestion != nil {
		d.Question = strings.TrimSpace(*c.ClarifyingQuestion)
	}

	if c.SectorSlug == nil || strings.TrimSpace(*c.SectorSlug) == "" {
		return d
	}
	slug := strings.TrimSpace(*c.SectorSlug)

	known := false
	for _, s := range sectors {
		if s.Slug == slug {
			known = true
			break
		}
	}
	if !known {
		f.logger.Warn("classifier returned unknown sector", "sector_slug", slug)
		return d
	}

	if c.Confidence != nil {
		conf := *c.Confidence
		if conf < 0 || conf > 1 {
			f.logger.Warn("classifier returned out-of-range confidence", "confidence", conf)
			return d
		}
		if conf < f.minConfidence {
			f.logger.Debug("classifier below minimum confidence", "sector_slug", slug, "confidence", conf)
			return d
		}
		d.Confidence = conf
	}

	d.SectorSlug = slug
	return d
}

// ErrEmptyResponse is returned by classifiers when the model produced no content.
var ErrEmptyResponse = errors.New("classifier returned no content")

// parseClassification decodes a classifier JSON object. Models sometimes wrap
// the object in a markdown fence, which is stripped first.
func parseClassification(raw string) (*Classification, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyResponse
	}

	var c Classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decoding classification: %w", err)
	}
	return &c, nil
}
