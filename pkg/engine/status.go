package engine

import (
	"encoding/json"
	"fmt"
)

// Process exit codes.
const (
	ExitAllowed       = 0
	ExitBlocked       = 1
	ExitPipelineError = 2
	ExitBreakGlass    = 42
)

// DecisionStatus is the state of a gate decision.
type DecisionStatus string

const (
	// DecisionPending means the evaluation has not finished.
	DecisionPending DecisionStatus = "PENDING"

	// DecisionEvaluated means all signals were combined but no outcome was chosen.
	DecisionEvaluated DecisionStatus = "EVALUATED"

	// DecisionBlocked means the apply must not proceed.
	DecisionBlocked DecisionStatus = "BLOCKED"

	// DecisionAllowed means the apply may proceed.
	DecisionAllowed DecisionStatus = "ALLOWED"

	// DecisionOverridden means an operator forced the apply through break-glass.
	DecisionOverridden DecisionStatus = "OVERRIDDEN"
)

// IsTerminal returns true if the status is a final outcome.
func (s DecisionStatus) IsTerminal() bool {
	return s == DecisionBlocked || s == DecisionAllowed || s == DecisionOverridden
}

// Validate checks if the decision status is valid.
func (s DecisionStatus) Validate() error {
	switch s {
	case DecisionPending, DecisionEvaluated, DecisionBlocked,
		DecisionAllowed, DecisionOverridden:
		return nil
	default:
		return fmt.Errorf("invalid decision status: %s", s)
	}
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s DecisionStatus) CanTransitionTo(next DecisionStatus) bool {
	switch s {
	case DecisionPending:
		return next == DecisionEvaluated
	case DecisionEvaluated:
		return next.IsTerminal()
	default:
		return false
	}
}

// ExitCode maps a terminal status to a process exit code.
// Non-terminal statuses map to ExitPipelineError.
func (s DecisionStatus) ExitCode() int {
	switch s {
	case DecisionAllowed:
		return ExitAllowed
	case DecisionBlocked:
		return ExitBlocked
	case DecisionOverridden:
		return ExitBreakGlass
	default:
		return ExitPipelineError
	}
}

// UnmarshalJSON validates the status while decoding.
func (s *DecisionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := DecisionStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// Validate checks if the override mode is valid.
func (m OverrideMode) Validate() error {
	switch m {
	case OverrideNone, OverrideBreakGlass, OverrideShadow:
		return nil
	default:
		return fmt.Errorf("invalid override mode: %s", m)
	}
}

// Mode returns the override mode selected by the operator input.
// Break-glass takes precedence over shadow mode.
func (o Override) Mode() OverrideMode {
	switch {
	case o.IncidentID != "":
		return OverrideBreakGlass
	case o.Shadow:
		return OverrideShadow
	default:
		return OverrideNone
	}
}
