// Package engine executes task documents: steps in declared order, actions
// in declared order within each step, with per-action state tracking,
// cooperative suspension for interactive actions, and dynamic decomposition
// of oversized steps. Every execution is persisted as a JSON record so a
// suspended run can be resumed by a later process.
package engine

import (
	"fmt"
	"time"

	"stagehand/pkg/task"
)

// Status is the lifecycle state of an execution, step, or action.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusAwaitingInput Status = "awaiting_input"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusSkipped       Status = "skipped"
)

// Validate checks that the status is one of the defined values.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusRunning, StatusAwaitingInput, StatusCompleted, StatusFailed, StatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// ActionRecord tracks one action's outcome.
type ActionRecord struct {
	Description string `json:"description"`
	Operation   string `json:"operation,omitempty"`
	Status      Status `json:"status"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StepRecord tracks one step's outcome. SubTasks is populated when the step
// was decomposed because its action count exceeded the threshold.
type StepRecord struct {
	Name     string         `json:"name"`
	Status   Status         `json:"status"`
	Actions  []ActionRecord `json:"actions"`
	SubTasks []string       `json:"sub_tasks,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// SuspensionPoint marks where an execution stopped to await input.
type SuspensionPoint struct {
	StepIndex   int    `json:"step_index"`
	ActionIndex int    `json:"action_index"`
	Prompt      string `json:"prompt"`
}

// Execution is the persisted record of one task run. The task definition is
// embedded so a resumed run does not depend on the original document still
// being readable.
type Execution struct {
	ID              string              `json:"id"`
	Task            task.TaskDefinition `json:"task"`
	Status          Status              `json:"status"`
	Context         map[string]any      `json:"context"`
	Steps           []StepRecord        `json:"steps"`
	ResumptionToken string              `json:"resumption_token,omitempty"`
	Suspended       *SuspensionPoint    `json:"suspended,omitempty"`
	Error           string              `json:"error,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// ExecutionError identifies exactly which action of which step failed.
type ExecutionError struct {
	TaskID      string
	StepName    string
	ActionIndex int // 1-based position within the step
	Description string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task '%s': step '%s': action %d (%s): %v",
		e.TaskID, e.StepName, e.ActionIndex, e.Description, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
