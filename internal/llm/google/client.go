// Package google wraps google.golang.org/genai as an llm.Provider,
// completing the three-provider roster the compaction engine can pick
// from, grounded on the same trimmed-to-Chat-only shape as the
// anthropic and openai sibling packages.
package google

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"memoryengine/internal/llm"
)

// Client is an llm.Provider backed by the Gemini generateContent API.
type Client struct {
	sdk *genai.Client
}

// New constructs a Client. apiKey may be empty to rely on the SDK's
// GEMINI_API_KEY/GOOGLE_API_KEY environment lookup. httpClient, when
// non-nil, replaces the SDK's default transport (callers pass an
// otelhttp-instrumented client to trace outbound provider calls).
func New(ctx context.Context, apiKey string, httpClient *http.Client) (*Client, error) {
	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if apiKey != "" {
		cc.APIKey = apiKey
	}
	if httpClient != nil {
		cc.HTTPClient = httpClient
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Client{sdk: c}, nil
}

// Chat sends messages to model and returns the assistant's reply. The
// last system-role message, if any, becomes the request's system
// instruction; user and assistant messages become ordered user/model
// turns, and other roles are dropped.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	var system string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}

	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		}
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return llm.Message{}, fmt.Errorf("genai chat: %w", err)
	}
	text := resp.Text()
	if text == "" && len(resp.Candidates) == 0 {
		return llm.Message{}, fmt.Errorf("genai chat: empty candidates")
	}

	var finish string
	if len(resp.Candidates) > 0 {
		finish = string(resp.Candidates[0].FinishReason)
	}
	return llm.Message{Role: "assistant", Content: text, FinishReason: finish}, nil
}

var _ llm.Provider = (*Client)(nil)
