// Package turn implements the per-turn agent loop: lock the workspace,
// verify the security policy, assemble context, stream a provider call,
// dispatch tool calls, compact on context pressure, and save the session.
package turn

// EventType names the events a Run emits on its Events channel, the same
// plan/run_tool/observation/final/error shape the teacher's orchestrator
// emits, generalized with a policy event for the integrity check and a
// compaction event for context-pressure handling.
type EventType string

const (
	EventPolicy      EventType = "policy"
	EventPlan        EventType = "plan"
	EventContentStep EventType = "content"
	EventRunTool     EventType = "run_tool"
	EventObservation EventType = "observation"
	EventCompaction  EventType = "compaction"
	EventFinal       EventType = "final"
	EventError       EventType = "error"
)

// Event is one step of a turn's progress, forwarded to the CLI or daemon
// transport for display.
type Event struct {
	Type    EventType
	Content string
}

func emit(events chan<- Event, typ EventType, content string) {
	if events == nil {
		return
	}
	events <- Event{Type: typ, Content: content}
}
