package engine

import (
	"fmt"
	"time"

	"uipilot/internal/diag"
	"uipilot/internal/flow"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepSucceeded    StepStatus = "succeeded"
	StepNotFound     StepStatus = "not_found"
	StepTimedOut     StepStatus = "timed_out"
	StepActionFailed StepStatus = "action_failed"
)

// Transient reports whether a step with this status may be retried.
func (s StepStatus) Transient() bool {
	return s == StepNotFound || s == StepTimedOut
}

// StepResult records how one step ended.
type StepResult struct {
	Index    int           `json:"index"` // 1-indexed
	Name     string        `json:"name"`
	Action   flow.Action   `json:"action"`
	Status   StepStatus    `json:"status"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
	Matched  string        `json:"matched,omitempty"`
	Artifact string        `json:"artifact,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// RunStatus is the aggregate outcome of a run.
type RunStatus string

const (
	RunCompleted    RunStatus = "completed"
	RunFailedAtStep RunStatus = "failed_at_step"
	RunTimedOut     RunStatus = "timed_out"
)

// RunResult is returned for every run, successful or not.
type RunResult struct {
	RunID  string       `json:"run_id"`
	Flow   string       `json:"flow"`
	Status RunStatus    `json:"status"`
	Steps  []StepResult `json:"steps"`
	// FailedStep is the 1-indexed failing step for RunFailedAtStep; 0 means
	// the session failed before the first step.
	FailedStep int    `json:"failed_step,omitempty"`
	Artifact   string `json:"artifact,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`

	Diagnostic  *diag.Diagnostic  `json:"diagnostic,omitempty"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the wall-clock length of the run.
func (r *RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome renders the status the way operators read it, e.g. FailedAtStep(2).
func (r *RunResult) Outcome() string {
	switch r.Status {
	case RunCompleted:
		return "Completed"
	case RunFailedAtStep:
		return fmt.Sprintf("FailedAtStep(%d)", r.FailedStep)
	case RunTimedOut:
		return "TimedOut"
	default:
		return string(r.Status)
	}
}
