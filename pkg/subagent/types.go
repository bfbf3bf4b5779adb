package subagent

import "time"

// RunParams describes an agent run about to start. ID is normally the run ID
// from the tracing context; an empty ID gets a generated one.
type RunParams struct {
	ID          string
	ParentRunID string
	Task        string
	Depth       int
	Context     map[string]interface{}
}

// RunRecord is the coordinator's view of one agent run, root or nested
type RunRecord struct {
	ID          string                 `json:"id"`
	ParentRunID string                 `json:"parent_run_id,omitempty"`
	Task        string                 `json:"task"`
	Depth       int                    `json:"depth"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Status      RunStatus              `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Result      interface{}            `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// RunStatus is the lifecycle state of a run.
// pending -> running -> completed | failed | aborted
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAborted   RunStatus = "aborted"
)

func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Stats summarizes the runs a coordinator currently holds
type Stats struct {
	TotalRuns     int `json:"total_runs"`
	ActiveRuns    int `json:"active_runs"`
	CompletedRuns int `json:"completed_runs"`
	FailedRuns    int `json:"failed_runs"`
	AbortedRuns   int `json:"aborted_runs"`
	MaxDepth      int `json:"max_depth"`
}

type EventType string

const (
	EventRegistered    EventType = "registered"
	EventStatusChanged EventType = "status_changed"
)

// RunEvent carries a snapshot of the run at the time of the change
type RunEvent struct {
	Type EventType
	Run  RunRecord
}
