package explain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/Brownie44l1/deception-api/internal/config"
)

func TestPromptKeepsTranscriptVerbatim(t *testing.T) {
	transcript := "I was at work all day.\n  'Honestly'  {{x}}"
	p := Prompt(transcript)
	if !strings.Contains(p, "'''"+transcript+"'''") {
		t.Fatalf("transcript not embedded verbatim:\n%s", p)
	}
	if !strings.Contains(p, "bullet points") || !strings.Contains(p, "overall assessment") {
		t.Fatalf("prompt lost its instructions:\n%s", p)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	ctx := context.Background()
	for _, provider := range []string{"", "gemini", "openai", "OpenAI"} {
		if _, err := New(ctx, config.ExplainConfig{Provider: provider}); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("provider %q: expected ErrNotConfigured, got %v", provider, err)
		}
	}
	if _, err := New(ctx, config.ExplainConfig{Provider: "claude", GoogleAPIKey: "k"}); err == nil || errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected unknown provider error, got %v", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	e, err := New(context.Background(), config.ExplainConfig{Provider: "openai", OpenAIAPIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	o, ok := e.(*OpenAI)
	if !ok {
		t.Fatalf("got %T", e)
	}
	if o.model != DefaultOpenAIModel {
		t.Fatalf("model = %q", o.model)
	}

	e, err = New(context.Background(), config.ExplainConfig{GoogleAPIKey: "k", Model: "gemini-x"})
	if err != nil {
		t.Fatal(err)
	}
	if g, ok := e.(*Gemini); !ok || g.model != "gemini-x" {
		t.Fatalf("got %T %+v", e, e)
	}
}

func chatServer(t *testing.T, gotPrompt *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) == 1 {
			*gotPrompt = req.Messages[0].Content
		}

		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":0,"model":"m",
				"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"- vague details\nOverall: deceptive"}}]}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"- vague", " details"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":0,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOpenAIExplain(t *testing.T) {
	var prompt string
	srv := chatServer(t, &prompt)
	defer srv.Close()

	o := NewOpenAI("test-key", srv.URL+"/", "", option.WithMaxRetries(0))
	got, err := o.Explain(context.Background(), "I never lie")
	if err != nil {
		t.Fatal(err)
	}
	if got != "- vague details\nOverall: deceptive" {
		t.Fatalf("explanation = %q", got)
	}
	if prompt != Prompt("I never lie") {
		t.Fatalf("prompt sent = %q", prompt)
	}
}

func TestOpenAIExplainStream(t *testing.T) {
	var prompt string
	srv := chatServer(t, &prompt)
	defer srv.Close()

	o := NewOpenAI("test-key", srv.URL+"/", "m", option.WithMaxRetries(0))
	var chunks []string
	err := o.ExplainStream(context.Background(), "I never lie", func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(chunks, "") != "- vague details" || len(chunks) != 2 {
		t.Fatalf("chunks = %q", chunks)
	}
}

// geminiWith returns a Gemini explainer whose generateContent calls answer
// with reply.
func geminiWith(t *testing.T, reply string) *Gemini {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-test:generateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(srv.Close)

	g, err := newGemini(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL + "/"},
	}, "gemini-test")
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGeminiExplain(t *testing.T) {
	g := geminiWith(t, `{"candidates":[{"content":{"role":"model","parts":[{"text":"1. Hedging. "},{"text":"Overall: truthful"}]}}]}`)
	got, err := g.Explain(context.Background(), "I was home")
	if err != nil {
		t.Fatal(err)
	}
	if got != "1. Hedging. Overall: truthful" {
		t.Fatalf("explanation = %q", got)
	}
}

func TestGeminiExplainEmptyReply(t *testing.T) {
	g := geminiWith(t, `{"candidates":[{"content":{"role":"model","parts":[{"text":""}]}}]}`)
	got, err := g.Explain(context.Background(), "I was home")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("explanation = %q, want empty", got)
	}

	g = geminiWith(t, `{"candidates":[]}`)
	if _, err := g.Explain(context.Background(), "I was home"); err == nil {
		t.Fatal("expected error without candidates")
	}
}

// openAIWith returns an OpenAI explainer whose chat completions answer with
// reply.
func openAIWith(t *testing.T, reply string) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(srv.Close)
	return NewOpenAI("test-key", srv.URL+"/", "m", option.WithMaxRetries(0))
}

func TestOpenAIExplainEmptyReply(t *testing.T) {
	o := openAIWith(t, `{"id":"c1","object":"chat.completion","created":0,"model":"m",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":""}}]}`)
	got, err := o.Explain(context.Background(), "I never lie")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("explanation = %q, want empty", got)
	}

	o = openAIWith(t, `{"id":"c1","object":"chat.completion","created":0,"model":"m","choices":[]}`)
	if _, err := o.Explain(context.Background(), "I never lie"); err == nil {
		t.Fatal("expected error without choices")
	}
}
