// Package outcome defines the terminal result of an agent loop run.
package outcome

import (
	"encoding/json"
	"fmt"
)

// Status is the terminal status of an agent run
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Outcome is produced once per agent loop run, root or nested.
type Outcome struct {
	Status Status      `json:"status"`
	Value  interface{} `json:"final_answer,omitempty"`
	Reason string      `json:"error,omitempty"`
}

// Completed returns a successful outcome carrying value
func Completed(value interface{}) Outcome {
	return Outcome{Status: StatusCompleted, Value: value}
}

// Failed returns a failed outcome carrying reason
func Failed(reason string) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason}
}

// IsCompleted reports whether the run recorded a final value
func (o Outcome) IsCompleted() bool {
	return o.Status == StatusCompleted
}

// Display renders the outcome for an operator: the value for completed runs
// (strings verbatim, everything else as JSON) and the reason for failed ones.
func (o Outcome) Display() string {
	if !o.IsCompleted() {
		return o.Reason
	}
	if s, ok := o.Value.(string); ok {
		return s
	}
	data, err := json.Marshal(o.Value)
	if err != nil {
		return fmt.Sprintf("%v", o.Value)
	}
	return string(data)
}
