package repl

import (
	"github.com/harun/rlm/pkg/outcome"
)

// Messages exchanged with bootstrap.py, one JSON document per line. Requests
// travel on the child's fd 3, replies on its fd 4; fds 1 and 2 stay free for
// whatever the executed code writes.
const (
	msgInit        = "init"
	msgReady       = "ready"
	msgExec        = "exec"
	msgResult      = "result"
	msgAgent       = "agent"
	msgAgentResult = "agent_result"
	msgShutdown    = "shutdown"
)

type request struct {
	Type    string                 `json:"type"`
	Code    string                 `json:"code,omitempty"`
	Globals map[string]interface{} `json:"globals,omitempty"`
}

type reply struct {
	Type    string                 `json:"type"`
	Stdout  string                 `json:"stdout"`
	Stderr  string                 `json:"stderr"`
	Final   *finalValue            `json:"final,omitempty"`
	Task    string                 `json:"task,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
	Version string                 `json:"version,omitempty"`
}

type finalValue struct {
	Value interface{} `json:"value"`
}

// agentReply answers an AGENT call. Fault is set when the delegation itself
// broke (model service failure) and becomes a RuntimeError in the caller.
type agentReply struct {
	Type        string         `json:"type"`
	Status      outcome.Status `json:"status,omitempty"`
	FinalAnswer interface{}    `json:"final_answer"`
	Error       string         `json:"error,omitempty"`
	Fault       string         `json:"fault,omitempty"`
}

func newAgentReply(o outcome.Outcome) agentReply {
	return agentReply{
		Type:        msgAgentResult,
		Status:      o.Status,
		FinalAnswer: o.Value,
		Error:       o.Reason,
	}
}
