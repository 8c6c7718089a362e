// Package openai wraps github.com/openai/openai-go/v2 as an llm.Provider,
// grounded on the teacher's internal/llm/openai client but trimmed to the
// single non-streaming Chat.Completions call the compaction engine needs
// — no image generation, no self-hosted SSE transport wrapper, no
// provider-specific raw-HTTP fallback.
package openai

import (
	"context"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"memoryengine/internal/llm"
)

// Client is an llm.Provider backed by the OpenAI Chat Completions API.
type Client struct {
	sdk sdk.Client
}

// New constructs a Client. apiKey may be empty to rely on the SDK's
// OPENAI_API_KEY environment lookup. baseURL overrides the default
// endpoint for self-hosted/compatible deployments when non-empty.
// httpClient, when non-nil, replaces the SDK's default transport
// (callers pass an otelhttp-instrumented client to trace outbound
// provider calls).
func New(apiKey, baseURL string, httpClient *http.Client) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Client{sdk: sdk.NewClient(opts...)}
}

// Chat sends messages to model and returns the assistant's reply.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	var turns []sdk.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case "system":
			turns = append(turns, sdk.SystemMessage(m.Content))
		case "user":
			turns = append(turns, sdk.UserMessage(m.Content))
		case "assistant":
			turns = append(turns, sdk.AssistantMessage(m.Content))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: turns,
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Message{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Message{}, fmt.Errorf("openai chat: empty choices")
	}
	choice := resp.Choices[0]
	return llm.Message{
		Role:         "assistant",
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}, nil
}

var _ llm.Provider = (*Client)(nil)
