package agent

import (
	"context"

	"github.com/harun/rlm/pkg/outcome"
	"github.com/harun/rlm/pkg/toolexecutor"
)

// EventType identifies a loop event
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventOutcome    EventType = "outcome"
)

// Event reports progress of a loop to an observer
type Event struct {
	Type       EventType                `json:"type"`
	Depth      int                      `json:"depth"`
	Round      int                      `json:"round"`
	Text       string                   `json:"text,omitempty"`
	ToolCall   *toolexecutor.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *toolexecutor.ToolResult `json:"tool_result,omitempty"`
	Outcome    *outcome.Outcome         `json:"outcome,omitempty"`
}

// EventHandler receives loop events synchronously
type EventHandler func(Event)

// Recorder receives every turn appended to a conversation and the final
// outcome. Errors are logged and do not stop the loop.
type Recorder interface {
	RecordTurn(ctx context.Context, turn Turn) error
	RecordOutcome(ctx context.Context, o outcome.Outcome) error
}
