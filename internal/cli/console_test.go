package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/rlm/pkg/agent"
	"github.com/harun/rlm/pkg/outcome"
	"github.com/harun/rlm/pkg/subagent"
	"github.com/harun/rlm/pkg/toolexecutor"
)

func TestConsolePrinter(t *testing.T) {
	completed := outcome.Completed(55)

	tests := []struct {
		name  string
		event agent.Event
		want  string
	}{
		{
			name:  "thinking",
			event: agent.Event{Type: agent.EventThinking, Text: "Multiply."},
			want:  "Thinking:\nMultiply.\n\n",
		},
		{
			name:  "text",
			event: agent.Event{Type: agent.EventText, Text: "Let me compute."},
			want:  "Text:\nLet me compute.\n\n",
		},
		{
			name: "tool call shows code",
			event: agent.Event{Type: agent.EventToolCall, ToolCall: &toolexecutor.ToolCall{
				ID: "toolu_1", Name: "run_python", Input: json.RawMessage(`{"code":"print(500*100)\n"}`),
			}},
			want: "Tool: run_python\nprint(500*100)\n\n",
		},
		{
			name: "tool call without code",
			event: agent.Event{Type: agent.EventToolCall, ToolCall: &toolexecutor.ToolCall{
				ID: "toolu_1", Name: "run_python", Input: json.RawMessage(`{"script":1}`),
			}},
			want: "Tool: run_python\n{\"script\":1}\n\n",
		},
		{
			name: "tool result",
			event: agent.Event{Type: agent.EventToolResult, ToolResult: &toolexecutor.ToolResult{
				ToolUseID: "toolu_1", Content: `{"stdout":"50000\n","stderr":""}`,
			}},
			want: "Tool Result:\n{\"stdout\":\"50000\\n\",\"stderr\":\"\"}\n\n",
		},
		{
			name: "tool error",
			event: agent.Event{Type: agent.EventToolResult, ToolResult: &toolexecutor.ToolResult{
				ToolUseID: "toolu_1", Content: "invalid input", IsError: true,
			}},
			want: "Tool Error:\ninvalid input\n\n",
		},
		{
			name:  "nested events are labeled",
			event: agent.Event{Type: agent.EventText, Depth: 2, Text: "child"},
			want:  "[depth 2] Text:\nchild\n\n",
		},
		{
			name:  "root outcome is not printed",
			event: agent.Event{Type: agent.EventOutcome, Outcome: &completed},
			want:  "",
		},
		{
			name:  "sub-agent outcome is left to the coordinator",
			event: agent.Event{Type: agent.EventOutcome, Depth: 1, Outcome: &completed},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			newConsolePrinter(out).handle(tt.event)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestConsolePrinterRunEvents(t *testing.T) {
	tests := []struct {
		name  string
		event subagent.RunEvent
		want  string
	}{
		{
			name:  "root runs are not printed",
			event: subagent.RunEvent{Type: subagent.EventRegistered, Run: subagent.RunRecord{Task: "root", Status: subagent.StatusPending}},
			want:  "",
		},
		{
			name:  "sub-agent started",
			event: subagent.RunEvent{Type: subagent.EventRegistered, Run: subagent.RunRecord{Task: "sum 1..10", Depth: 1, Status: subagent.StatusPending}},
			want:  "[depth 1] Sub-agent started: sum 1..10\n\n",
		},
		{
			name:  "running is not printed",
			event: subagent.RunEvent{Type: subagent.EventStatusChanged, Run: subagent.RunRecord{Depth: 1, Status: subagent.StatusRunning}},
			want:  "",
		},
		{
			name:  "sub-agent completed",
			event: subagent.RunEvent{Type: subagent.EventStatusChanged, Run: subagent.RunRecord{Depth: 2, Status: subagent.StatusCompleted, Result: 55}},
			want:  "[depth 2] Sub-agent completed: 55\n\n",
		},
		{
			name:  "sub-agent failed",
			event: subagent.RunEvent{Type: subagent.EventStatusChanged, Run: subagent.RunRecord{Depth: 1, Status: subagent.StatusFailed, Error: "no tool call and no FINAL"}},
			want:  "[depth 1] Sub-agent failed: no tool call and no FINAL\n\n",
		},
		{
			name:  "sub-agent aborted",
			event: subagent.RunEvent{Type: subagent.EventStatusChanged, Run: subagent.RunRecord{Depth: 1, Status: subagent.StatusAborted, Error: "provider down"}},
			want:  "[depth 1] Sub-agent aborted: provider down\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			newConsolePrinter(out).runEvent(tt.event)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestConsolePrinterFollowsCoordinator(t *testing.T) {
	out := &bytes.Buffer{}
	coordinator := subagent.NewCoordinator(zerolog.Nop())
	coordinator.Subscribe(newConsolePrinter(out).runEvent)

	root, err := coordinator.Register(subagent.RunParams{Task: "root"})
	require.NoError(t, err)
	child, err := coordinator.Register(subagent.RunParams{ParentRunID: root, Task: "child", Depth: 1})
	require.NoError(t, err)
	require.NoError(t, coordinator.MarkRunning(child))
	require.NoError(t, coordinator.Finish(child, outcome.Completed("done")))
	require.NoError(t, coordinator.Finish(root, outcome.Completed("done")))

	assert.Equal(t, "[depth 1] Sub-agent started: child\n\n[depth 1] Sub-agent completed: done\n\n", out.String())
}
