package explain

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI explains through any OpenAI-compatible chat completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI explainer. baseURL may be empty for the
// official endpoint; an empty model selects DefaultOpenAIModel.
func NewOpenAI(apiKey, baseURL, model string, extra ...option.RequestOption) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

func (o *OpenAI) params(transcript string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(Prompt(transcript)),
		},
	}
}

func (o *OpenAI) Explain(ctx context.Context, transcript string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(transcript))
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) ExplainStream(ctx context.Context, transcript string, emit func(string) error) error {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(transcript))
	defer stream.Close()
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := emit(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("openai stream: %w", err)
	}
	return nil
}
