// ABOUTME: Classifier backed by the Gemini API through the genai SDK
// ABOUTME: Constrains the response to a JSON object with a schema

package airouter

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClassifier calls Models.GenerateContent.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

// NewGeminiClassifier creates a genai client for the Gemini API backend.
func NewGeminiClassifier(ctx context.Context, apiKey, model string) (*GeminiClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiClassifier{client: client, model: model}, nil
}

var classificationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"sector_slug":         {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		"confidence":          {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
		"clarifying_question": {Type: genai.TypeString, Nullable: genai.Ptr(true)},
	},
}

// Classify implements Classifier.
func (g *GeminiClassifier) Classify(ctx context.Context, text string, sectors []SectorInfo) (*Classification, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(buildUserPrompt(text, sectors)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    classificationSchema,
		})
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	return parseClassification(resp.Text())
}
