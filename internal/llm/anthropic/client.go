// Package anthropic wraps github.com/anthropics/anthropic-sdk-go as an
// llm.Provider, grounded on the teacher's internal/llm/anthropic client
// but trimmed to the single non-streaming Chat call the compaction
// engine needs.
package anthropic

import (
	"context"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"memoryengine/internal/llm"
)

// Client is an llm.Provider backed by the Anthropic Messages API.
type Client struct {
	sdk sdk.Client
}

// New constructs a Client. apiKey may be empty to rely on the SDK's
// ANTHROPIC_API_KEY environment lookup. httpClient, when non-nil, replaces
// the SDK's default transport (callers pass an otelhttp-instrumented
// client to trace outbound provider calls).
func New(apiKey string, httpClient *http.Client) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Client{sdk: sdk.NewClient(opts...)}
}

// Chat sends messages to model and returns the assistant's reply.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	var system string
	var turns []sdk.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			turns = append(turns, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			turns = append(turns, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: 4096,
		Messages:  turns,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return llm.Message{}, fmt.Errorf("anthropic chat: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return llm.Message{Role: "assistant", Content: text, FinishReason: string(resp.StopReason)}, nil
}

var _ llm.Provider = (*Client)(nil)
