package llm

import (
	"context"
	"strings"
	"time"
)

// DummyProvider is a deterministic, network-free Provider used by tests
// and by NewTestProvider. It recognizes a handful of literal prompts that
// exercise the tool-dispatch path and otherwise echoes a canned reply.
type DummyProvider struct {
	delay time.Duration
}

// NewDummyProvider builds a dummy provider that sleeps delay before
// replying, to exercise timeout/cancellation paths deterministically.
func NewDummyProvider(delay time.Duration) *DummyProvider {
	return &DummyProvider{delay: delay}
}

// NewTestProvider returns a near-instant dummy provider for unit tests.
func NewTestProvider() *DummyProvider {
	return NewDummyProvider(time.Millisecond)
}

func (d *DummyProvider) SupportsModel(model string) bool {
	return true
}

func (d *DummyProvider) Chat(ctx context.Context, messages []Message, tools []ToolSchema, model string) (ChatResult, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return ChatResult{}, ctx.Err()
		}
	}

	var lastUser string
	var sawToolResult bool
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "tool" {
			sawToolResult = true
		}
		if lastUser == "" && messages[i].Role == "user" {
			lastUser = strings.ToLower(strings.TrimSpace(messages[i].Content))
		}
	}

	switch {
	case sawToolResult:
		// A tool call already ran this turn; reply with the finish text
		// instead of issuing the same tool call again.
		return ChatResult{Content: "The command finished successfully."}, nil
	case lastUser == "tool" || strings.Contains(lastUser, "list files"):
		return ChatResult{
			Content: "Running a sample command.",
			ToolCalls: []ToolCall{
				{ID: "call_1", Name: "bash", Arguments: `{"command":"echo hello"}`},
			},
		}, nil
	case strings.Contains(lastUser, "no_reply"):
		return ChatResult{Content: "NO_REPLY"}, nil
	case lastUser == "":
		return ChatResult{Content: "Hello! How can I help?"}, nil
	default:
		return ChatResult{Content: "Dummy response to: " + lastUser}, nil
	}
}

func (d *DummyProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolSchema, model string) (*Stream, error) {
	result, err := d.Chat(ctx, messages, tools, model)
	return singleChunkStream(ctx, result, err), nil
}

func (d *DummyProvider) Summarize(ctx context.Context, text string, model string) (string, error) {
	if len(text) > 200 {
		text = text[:200]
	}
	return "Summary: " + text, nil
}
