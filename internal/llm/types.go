// Package llm provides a uniform chat/stream/summarize contract over
// heterogeneous provider wire protocols, so the Turn Engine never branches
// on which backend is configured.
package llm

import (
	"context"
	"fmt"
)

// Message is the provider-agnostic message schema the Turn Engine builds
// and every adapter translates to its own wire format.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one invocation the assistant asked for.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON, parsed by the tool dispatcher
}

// ToolSchema describes a tool the provider may call, in JSON-Schema form.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatResult is what a non-streaming Chat call returns: either assistant
// text, a batch of tool calls, or both (some providers emit narration
// alongside a tool call).
type ChatResult struct {
	Content   string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// TokenUsage mirrors the spec's audit/accounting needs.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider is the uniform contract every backend (OpenAI-compatible,
// Anthropic, local/dummy) implements. model is threaded through every
// call rather than fixed at construction time, so one provider instance
// can serve every model family it recognizes.
type Provider interface {
	// Chat performs one request/response round.
	Chat(ctx context.Context, messages []Message, tools []ToolSchema, model string) (ChatResult, error)
	// ChatStream performs one request/response round, emitting incremental
	// chunks as they arrive. Providers without native streaming support
	// wrap Chat into a single final chunk.
	ChatStream(ctx context.Context, messages []Message, tools []ToolSchema, model string) (*Stream, error)
	// Summarize asks the provider to condense text, used by compaction.
	Summarize(ctx context.Context, text string, model string) (string, error)
	// SupportsModel reports whether this provider can serve model.
	SupportsModel(model string) bool
}

// Config selects and authenticates a provider.
type Config struct {
	Model   string
	APIKey  string
	BaseURL string
}

// Client routes Chat/ChatStream/Summarize calls to whichever registered
// provider claims the configured model.
type Client struct {
	model     string
	providers []Provider
}

// NewClient registers the standard provider set (OpenAI-compatible,
// Anthropic) plus any extra providers supplied by the caller (e.g. a
// dummy provider in tests), in priority order.
func NewClient(cfg Config, extra ...Provider) *Client {
	c := &Client{model: cfg.Model}
	c.providers = append(c.providers, extra...)
	c.providers = append(c.providers,
		NewOpenAIProvider(cfg.APIKey, cfg.BaseURL),
		NewAnthropicProvider(cfg.APIKey),
	)
	return c
}

func (c *Client) resolve() (Provider, error) {
	for _, p := range c.providers {
		if p.SupportsModel(c.model) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no provider registered for model %q", c.model)
}

func (c *Client) Chat(ctx context.Context, messages []Message, tools []ToolSchema) (ChatResult, error) {
	p, err := c.resolve()
	if err != nil {
		return ChatResult{}, err
	}
	return p.Chat(ctx, messages, tools, c.model)
}

func (c *Client) ChatStream(ctx context.Context, messages []Message, tools []ToolSchema) (*Stream, error) {
	p, err := c.resolve()
	if err != nil {
		return nil, err
	}
	return p.ChatStream(ctx, messages, tools, c.model)
}

func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	p, err := c.resolve()
	if err != nil {
		return "", err
	}
	return p.Summarize(ctx, text, c.model)
}
