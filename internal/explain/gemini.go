package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini explains through the Google Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini explainer. An empty model selects
// DefaultGeminiModel.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	return newGemini(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}, model)
}

func newGemini(ctx context.Context, cc *genai.ClientConfig, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{client: client, model: model}, nil
}

func geminiContents(transcript string) []*genai.Content {
	return []*genai.Content{
		{Parts: []*genai.Part{{Text: Prompt(transcript)}}, Role: "user"},
	}
}

func (g *Gemini) Explain(ctx context.Context, transcript string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, geminiContents(transcript), nil)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	// A reply with no candidate has no text at all; an empty one is returned
	// as is.
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("genai generate: no candidates")
	}
	return geminiText(resp), nil
}

func (g *Gemini) ExplainStream(ctx context.Context, transcript string, emit func(string) error) error {
	for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.model, geminiContents(transcript), nil) {
		if err != nil {
			return fmt.Errorf("genai stream: %w", err)
		}
		if text := geminiText(chunk); text != "" {
			if err := emit(text); err != nil {
				return err
			}
		}
	}
	return nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
