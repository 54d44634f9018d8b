package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AnthropicProvider implements Provider against the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey string
	client *http.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *AnthropicProvider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// toAnthropicRequest moves every system message, wherever it appears, into
// the top-level System field joined by blank lines (Anthropic takes system
// prompt as a top-level field, not a message role) and translates
// tool-call/tool-result messages to content blocks.
func toAnthropicRequest(model string, maxTokens int, messages []Message, tools []ToolSchema) anthropicRequest {
	req := anthropicRequest{Model: model, MaxTokens: maxTokens}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	for _, m := range messages {
		if m.Role == "system" {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
			continue
		}
		if m.Role == "tool" {
			req.Messages = append(req.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
			continue
		}
		am := anthropicMessage{Role: m.Role}
		if m.Content != "" {
			am.Content = append(am.Content, anthropicContentBlock{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			am.Content = append(am.Content, anthropicContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: json.RawMessage(tc.Arguments),
			})
		}
		req.Messages = append(req.Messages, am)
	}
	return req
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, tools []ToolSchema, model string) (ChatResult, error) {
	reqBody := toAnthropicRequest(model, 4096, messages, tools)
	body, err := json.Marshal(reqBody)
	if err != nil {
		return ChatResult{}, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return ChatResult{}, fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResult{}, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResult{}, fmt.Errorf("read anthropic response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ChatResult{}, fmt.Errorf("decode anthropic response: %w", err)
	}
	if parsed.Error != nil {
		return ChatResult{}, fmt.Errorf("anthropic error: %s", parsed.Error.Message)
	}

	result := ChatResult{
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	return result, nil
}

// ChatStream falls back to a single final chunk: the adapter does not
// (yet) parse Anthropic's server-sent-event delta stream.
func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolSchema, model string) (*Stream, error) {
	result, err := p.Chat(ctx, messages, tools, model)
	return singleChunkStream(ctx, result, err), nil
}

func (p *AnthropicProvider) Summarize(ctx context.Context, text string, model string) (string, error) {
	result, err := p.Chat(ctx, []Message{
		{Role: "user", Content: "Summarize the following conversation, preserving durable facts and decisions. Be concise.\n\n" + text},
	}, nil, model)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
