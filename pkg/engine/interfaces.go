package engine

import (
	"context"
	"time"
)

// PolicyRequest carries everything the policy phase needs for one evaluation.
type PolicyRequest struct {
	// Changes are the relevant resource changes of the plan.
	Changes []ResourceChange

	// BlastRadius is the classification of Changes.
	BlastRadius BlastRadius

	// Metadata is the plan-level metadata.
	Metadata PlanMetadata

	// EmergencyOverride is true when break-glass is active.
	EmergencyOverride bool

	// Timestamp is the evaluation time.
	Timestamp time.Time

	// GitCommit is the commit hash of the change, if known.
	GitCommit string
}

// PolicyEvaluator evaluates the policy set against a plan.
// This is Phase 2: Policy.
type PolicyEvaluator interface {
	// EvaluatePlan compiles and evaluates the policy set.
	// Compile failures are ErrPolicyCompile, evaluation failures are ErrPolicyEval.
	EvaluatePlan(ctx context.Context, req PolicyRequest) (*PolicyResult, error)
}

// ContextRequest carries the inputs of the context phase.
type ContextRequest struct {
	// Now is the evaluation time.
	Now time.Time

	// Changes are the relevant resource changes of the plan.
	Changes []ResourceChange

	// TerraformVersion is the version recorded in the plan.
	TerraformVersion string

	// LastAppliedVersion is the version of the last successful apply, if known.
	LastAppliedVersion string
}

// ContextResult is the output of the context phase.
type ContextResult struct {
	Temporal       TemporalContext `json:"temporal"`
	Drift          DriftResult     `json:"drift"`
	VersionWarning string          `json:"version_warning,omitempty"`
	Warnings       []Warning       `json:"warnings,omitempty"`
}

// ContextAnalyzer computes the temporal, drift and version signals.
// This is Phase 3: Context. It never fails; degraded signals are reported as warnings.
type ContextAnalyzer interface {
	Analyze(ctx context.Context, req ContextRequest) *ContextResult
}

// IntentRequest carries the inputs of the intent phase.
type IntentRequest struct {
	// CommitMessage is the stated intent.
	CommitMessage string

	// Changes are the relevant resource changes of the plan.
	Changes []ResourceChange

	// BlastRadius is the classification of Changes.
	BlastRadius BlastRadius
}

// IntentValidator compares the stated intent with the change set.
// This is Phase 4: Intent. It never fails and never blocks.
type IntentValidator interface {
	Validate(ctx context.Context, req IntentRequest) *IntentVerdict
}
