// ABOUTME: Builds the configured AI routing fallback
// ABOUTME: Returns nil when AI routing is disabled

package airouter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/triage-gateway/internal/config"
)

// New returns the Fallback described by cfg, or nil when it is disabled.
func New(ctx context.Context, cfg config.AIRoutingConfig, logger *slog.Logger) (*Fallback, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var classifier Classifier
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		classifier = NewOpenAIClassifier(cfg.BaseURL, cfg.APIKey, cfg.Model, &http.Client{})
	case config.ProviderGemini:
		g, err := NewGeminiClassifier(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		classifier = g
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}

	return NewFallback(classifier, cfg.MinConfidence, cfg.Timeout, logger), nil
}
