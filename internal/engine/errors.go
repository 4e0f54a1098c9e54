package engine

import (
	"errors"
	"fmt"
)

// Kind classifies run failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionLaunch
	KindNavigation
	KindStepNotFound
	KindStepActionFailed
	KindRunTimedOut
	KindArtifactNotDetected
	KindSessionBusy
)

func (k Kind) String() string {
	switch k {
	case KindSessionLaunch:
		return "SessionLaunchError"
	case KindNavigation:
		return "NavigationError"
	case KindStepNotFound:
		return "StepNotFound"
	case KindStepActionFailed:
		return "StepActionFailed"
	case KindRunTimedOut:
		return "RunTimedOut"
	case KindArtifactNotDetected:
		return "ArtifactNotDetected"
	case KindSessionBusy:
		return "SessionBusy"
	default:
		return "Unknown"
	}
}

// Error is the typed failure returned by a run.
type Error struct {
	Kind Kind
	// Step is the 1-indexed step the failure belongs to, 0 before the first step.
	Step     int
	StepName string
	Err      error
}

func (e *Error) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("%s at step %d (%s): %v", e.Kind, e.Step, e.StepName, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Exit codes for command-line wrappers.
const (
	ExitCompleted     = 0
	ExitUsage         = 1
	ExitFailedAtStep  = 2
	ExitTimedOut      = 3
	ExitSessionLaunch = 4
	ExitNavigation    = 5
)

// ExitCode maps a run error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitCompleted
	}
	switch KindOf(err) {
	case KindSessionLaunch, KindSessionBusy:
		return ExitSessionLaunch
	case KindNavigation:
		return ExitNavigation
	case KindRunTimedOut:
		return ExitTimedOut
	case KindStepNotFound, KindStepActionFailed, KindArtifactNotDetected:
		return ExitFailedAtStep
	default:
		return ExitUsage
	}
}
