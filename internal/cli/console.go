package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/harun/rlm/pkg/agent"
	"github.com/harun/rlm/pkg/outcome"
	"github.com/harun/rlm/pkg/subagent"
)

// consolePrinter writes loop events for an operator watching a run
type consolePrinter struct {
	out io.Writer
	mu  sync.Mutex
}

func newConsolePrinter(out io.Writer) *consolePrinter {
	return &consolePrinter{out: out}
}

func (p *consolePrinter) handle(event agent.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := depthPrefix(event.Depth)

	switch event.Type {
	case agent.EventThinking:
		fmt.Fprintf(p.out, "%sThinking:\n%s\n\n", prefix, event.Text)
	case agent.EventText:
		fmt.Fprintf(p.out, "%sText:\n%s\n\n", prefix, event.Text)
	case agent.EventToolCall:
		if event.ToolCall == nil {
			return
		}
		fmt.Fprintf(p.out, "%sTool: %s\n%s\n\n", prefix, event.ToolCall.Name, toolCode(event.ToolCall.Input))
	case agent.EventToolResult:
		if event.ToolResult == nil {
			return
		}
		label := "Tool Result"
		if event.ToolResult.IsError {
			label = "Tool Error"
		}
		fmt.Fprintf(p.out, "%s%s:\n%s\n\n", prefix, label, event.ToolResult.Content)
	}
}

// runEvent prints sub-agent start and finish lines from the run coordinator.
// The root run is reported by the command itself.
func (p *consolePrinter) runEvent(e subagent.RunEvent) {
	rec := e.Run
	if rec.Depth == 0 {
		return
	}

	var line string
	switch {
	case e.Type == subagent.EventRegistered:
		line = "started: " + rec.Task
	case rec.Status == subagent.StatusCompleted:
		line = "completed: " + outcome.Completed(rec.Result).Display()
	case rec.Status == subagent.StatusFailed, rec.Status == subagent.StatusAborted:
		line = string(rec.Status) + ": " + rec.Error
	default:
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%sSub-agent %s\n\n", depthPrefix(rec.Depth), line)
}

func depthPrefix(depth int) string {
	if depth == 0 {
		return ""
	}
	return fmt.Sprintf("[depth %d] ", depth)
}

// toolCode extracts the code argument for display, falling back to the raw input
func toolCode(input json.RawMessage) string {
	var args struct {
		Code *string `json:"code"`
	}
	if err := json.Unmarshal(input, &args); err != nil || args.Code == nil {
		return strings.TrimSpace(string(input))
	}
	return strings.TrimRight(*args.Code, "\n")
}
