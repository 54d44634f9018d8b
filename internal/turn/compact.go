package turn

import (
	"context"
	"strings"

	"github.com/ehrlich-b/localgpt/internal/llm"
	"github.com/ehrlich-b/localgpt/internal/session"
)

// keepLastMessages is how many of the most recent messages survive
// compaction verbatim; everything older is folded into one summary.
const keepLastMessages = 4

// approxCharsPerToken is a rough, provider-agnostic token estimate —
// good enough to decide when to compact, not meant to match any
// specific tokenizer.
const approxCharsPerToken = 4

// estimateTokens approximates the token cost of the system prompt plus
// every session message.
func estimateTokens(systemPrompt string, messages []session.Message) int {
	chars := len(systemPrompt)
	for _, m := range messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Arguments)
		}
	}
	return chars / approxCharsPerToken
}

// needsCompaction reports whether the session has grown past the
// configured context budget.
func needsCompaction(systemPrompt string, messages []session.Message, contextWindow, reserveTokens int) bool {
	return estimateTokens(systemPrompt, messages) > contextWindow-reserveTokens
}

// compact asks the provider to flush durable memories, then summarizes
// every message but the last keepLastMessages into one system-role
// summary message, bumping the session's compaction counter.
func (e *Engine) compact(ctx context.Context, sess *session.Session, endingBlock string, events chan<- Event) error {
	emit(events, EventCompaction, "context pressure: flushing memories and summarizing history")

	flushMessages := toLLMMessages(sess.SystemContext, sess.Messages)
	flushMessages = append(flushMessages, llm.Message{
		Role:    "user",
		Content: "Context is about to be compacted. Store any durable memories now (write them via write_file/edit_file to MEMORY.md or today's daily log). Reply NO_REPLY if there is nothing to store.",
	})
	flushMessages = withEndingBlock(flushMessages, endingBlock)
	if _, err := e.LLM.Chat(ctx, flushMessages, ToolSchemas()); err != nil {
		return err
	}

	if len(sess.Messages) <= keepLastMessages {
		sess.Header.CompactionCount++
		return nil
	}

	cut := len(sess.Messages) - keepLastMessages
	older, kept := sess.Messages[:cut], sess.Messages[cut:]

	var b strings.Builder
	for _, m := range older {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	summary, err := e.LLM.Summarize(ctx, b.String())
	if err != nil {
		return err
	}

	sess.Messages = append([]session.Message{{
		Type:    "message",
		Role:    "system",
		Content: "Summary of earlier conversation: " + summary,
	}}, kept...)
	sess.Header.CompactionCount++
	return nil
}
