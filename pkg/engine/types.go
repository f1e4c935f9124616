package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Action is a single Terraform change action.
type Action string

const (
	// ActionCreate indicates a resource will be created.
	ActionCreate Action = "create"

	// ActionUpdate indicates a resource will be updated in place.
	ActionUpdate Action = "update"

	// ActionDelete indicates a resource will be destroyed.
	ActionDelete Action = "delete"

	// ActionRead indicates a data source will be read.
	ActionRead Action = "read"

	// ActionNoop indicates no change is required.
	ActionNoop Action = "no-op"
)

// ActionSet is the set of actions Terraform proposes for one resource.
// A replacement is expressed as a set containing both create and delete.
type ActionSet map[Action]struct{}

// NewActionSet builds an action set from raw action strings.
func NewActionSet(actions ...string) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		set[Action(a)] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the given action.
func (s ActionSet) Has(a Action) bool {
	_, ok := s[a]
	return ok
}

// IsReplace reports whether the set describes a replacement.
func (s ActionSet) IsReplace() bool {
	return s.Has(ActionCreate) && s.Has(ActionDelete)
}

// IsDestructive reports whether the change deletes or replaces the resource.
func (s ActionSet) IsDestructive() bool {
	return s.Has(ActionDelete)
}

// Strings returns the actions in a stable order.
func (s ActionSet) Strings() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, string(a))
	}
	sort.Strings(out)
	return out
}

// String implements fmt.Stringer.
func (s ActionSet) String() string {
	return "[" + strings.Join(s.Strings(), ", ") + "]"
}

// MarshalJSON encodes the set as a sorted array of action strings.
func (s ActionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes an array of action strings.
func (s *ActionSet) UnmarshalJSON(data []byte) error {
	var actions []string
	if err := json.Unmarshal(data, &actions); err != nil {
		return err
	}
	*s = NewActionSet(actions...)
	return nil
}

// ResourceChange is one entry of the plan's resource_changes array.
type ResourceChange struct {
	// Address is the fully qualified resource address (e.g., "module.db.aws_db_instance.main").
	Address string `json:"address"`

	// Type is the resource type (e.g., "aws_db_instance").
	Type string `json:"type"`

	// Name is the resource name within its module.
	Name string `json:"name,omitempty"`

	// Mode is "managed" or "data".
	Mode string `json:"mode,omitempty"`

	// ProviderName is the fully qualified provider source.
	ProviderName string `json:"provider_name,omitempty"`

	// Actions is the set of proposed actions.
	Actions ActionSet `json:"actions"`

	// Before is the prior attribute value, or nil.
	Before any `json:"before,omitempty"`

	// After is the planned attribute value, or nil.
	After any `json:"after,omitempty"`
}

// Level is the coarse blast radius classification.
type Level string

const (
	// LevelGreen is a small, non-destructive change.
	LevelGreen Level = "GREEN"

	// LevelYellow is a medium change or one containing deletions.
	LevelYellow Level = "YELLOW"

	// LevelRed is a large or critical change.
	LevelRed Level = "RED"
)

// Validate checks if the level is valid.
func (l Level) Validate() error {
	switch l {
	case LevelGreen, LevelYellow, LevelRed:
		return nil
	default:
		return fmt.Errorf("invalid blast radius level: %s", l)
	}
}

// BlastRadius aggregates the size and destructiveness of a change set.
type BlastRadius struct {
	// Level is the overall classification.
	Level Level `json:"level"`

	// TotalResources counts every change in one of the four action buckets.
	TotalResources int `json:"total_resources"`

	// CreateCount counts pure creates.
	CreateCount int `json:"create_count"`

	// UpdateCount counts in-place updates.
	UpdateCount int `json:"update_count"`

	// DeleteCount counts pure deletes.
	DeleteCount int `json:"delete_count"`

	// ReplaceCount counts replacements. A replacement is never also counted as create or delete.
	ReplaceCount int `json:"replace_count"`

	// CriticalResources lists addresses of critical resources being deleted or replaced, in input order.
	CriticalResources []string `json:"critical_resources"`
}

// Destructive returns the number of deletes plus replacements.
func (b BlastRadius) Destructive() int {
	return b.DeleteCount + b.ReplaceCount
}

// Thresholds configures the blast radius level boundaries.
type Thresholds struct {
	Green  int `json:"green" yaml:"green"`
	Yellow int `json:"yellow" yaml:"yellow"`
	Red    int `json:"red" yaml:"red"`
}

// DefaultThresholds returns the standard thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Green: 5, Yellow: 20, Red: 50}
}

// PlanMetadata carries the plan-level fields of the artifact.
type PlanMetadata struct {
	TerraformVersion string `json:"terraform_version"`
	FormatVersion    string `json:"format_version"`
	Timestamp        string `json:"timestamp,omitempty"`
	Errored          bool   `json:"errored"`
}

// PolicyResult is the normalized output of policy evaluation.
type PolicyResult struct {
	// Deny findings are blocking violations.
	Deny []string `json:"deny"`

	// Warn findings are advisory.
	Warn []string `json:"warn"`

	// Info findings are informational.
	Info []string `json:"info"`

	// Passed is true when there are no deny findings.
	Passed bool `json:"passed"`
}

// NewPolicyResult builds a result and derives Passed.
func NewPolicyResult(deny, warn, info []string) PolicyResult {
	if deny == nil {
		deny = []string{}
	}
	if warn == nil {
		warn = []string{}
	}
	if info == nil {
		info = []string{}
	}
	return PolicyResult{Deny: deny, Warn: warn, Info: info, Passed: len(deny) == 0}
}

// RiskLevel is the temporal risk score.
type RiskLevel int

const (
	RiskLow      RiskLevel = 1
	RiskMedium   RiskLevel = 2
	RiskHigh     RiskLevel = 3
	RiskCritical RiskLevel = 4
)

// String implements fmt.Stringer.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
}

// MarshalText encodes the risk level by name.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseRiskLevel parses a risk level name, case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	case "CRITICAL":
		return RiskCritical, nil
	default:
		return 0, fmt.Errorf("invalid risk level: %s", s)
	}
}

// TemporalContext describes when the change is being made.
type TemporalContext struct {
	Timestamp         time.Time `json:"timestamp"`
	IsWeekend         bool      `json:"is_weekend"`
	IsAfterHours      bool      `json:"is_after_hours"`
	IsFridayAfternoon bool      `json:"is_friday_afternoon"`
	RiskLevel         RiskLevel `json:"risk_level"`
}

// DriftStatus tells how a DriftResult was obtained.
type DriftStatus string

const (
	// DriftChecked means a snapshot was obtained and compared.
	DriftChecked DriftStatus = "checked"

	// DriftSkipped means drift detection was not configured.
	DriftSkipped DriftStatus = "skipped"

	// DriftDegraded means detection failed and the result fails open.
	DriftDegraded DriftStatus = "degraded"
)

// DriftResult lists resources changed outside Terraform.
type DriftResult struct {
	HasDrift          bool             `json:"has_drift"`
	DriftedResources  []ResourceChange `json:"drifted_resources"`
	ConflictResources []ResourceChange `json:"conflict_resources"`
	Status            DriftStatus      `json:"status"`
	Detail            string           `json:"detail,omitempty"`
}

// HasConflicts reports whether any drifted resource is also being changed by the plan.
func (d DriftResult) HasConflicts() bool {
	return len(d.ConflictResources) > 0
}

// IntentVerdict is the advisory comparison of commit message and plan.
type IntentVerdict struct {
	Aligned         bool     `json:"aligned"`
	Confidence      float64  `json:"confidence"`
	Explanation     string   `json:"explanation"`
	ActionRequired  string   `json:"action_required,omitempty"`
	Report          string   `json:"report,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Mode            string   `json:"mode"`
	Degraded        bool     `json:"degraded,omitempty"`
	DegradedReason  string   `json:"degraded_reason,omitempty"`
}

// OverrideMode describes how an operator altered the gate outcome.
type OverrideMode string

const (
	OverrideNone       OverrideMode = "NONE"
	OverrideBreakGlass OverrideMode = "BREAK_GLASS"
	OverrideShadow     OverrideMode = "SHADOW"
)

// Override is the operator input to the aggregator.
type Override struct {
	// IncidentID activates break-glass when non-empty.
	IncidentID string `json:"incident_id,omitempty"`

	// Shadow reports the decision without enforcing it.
	Shadow bool `json:"shadow"`
}

// Decision is the outcome of the gate.
type Decision struct {
	Status       DecisionStatus `json:"status"`
	ShouldBlock  bool           `json:"should_block"`
	Reasons      []string       `json:"reasons"`
	Advisories   []string       `json:"advisories,omitempty"`
	OverrideMode OverrideMode   `json:"override_mode"`
	IncidentID   string         `json:"incident_id,omitempty"`
}

// ExitCode returns the process exit code for the decision.
func (d *Decision) ExitCode() int {
	return d.Status.ExitCode()
}
