// Package explain asks an external generative language model for a
// free-text truthfulness analysis of a transcript.
package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Brownie44l1/deception-api/internal/config"
)

// ErrNotConfigured is returned by New when the selected provider has no
// credentials.
var ErrNotConfigured = errors.New("explain: provider not configured")

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// Explainer returns the model's analysis of a transcript verbatim.
type Explainer interface {
	Explain(ctx context.Context, transcript string) (string, error)
}

// Streamer is implemented by explainers that can deliver the analysis
// incrementally. emit is called once per text fragment, in order; a non-nil
// error from emit aborts the stream.
type Streamer interface {
	ExplainStream(ctx context.Context, transcript string, emit func(chunk string) error) error
}

// New builds the explainer selected by cfg.Provider.
func New(ctx context.Context, cfg config.ExplainConfig) (Explainer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		if cfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("%w: GOOGLE_API_KEY is empty", ErrNotConfigured)
		}
		g, err := NewGemini(ctx, cfg.GoogleAPIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is empty", ErrNotConfigured)
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("explain: unknown provider %q", cfg.Provider)
	}
}
