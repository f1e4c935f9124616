package stores

import (
	"context"
	"time"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Audit actions.
const (
	AuditActionBreakGlass = "override.break_glass"
	AuditActionApply      = "terraform.apply"
	AuditActionInit       = "config.init"
)

// Evaluation is one gate run and its decision.
type Evaluation struct {
	ID               string     `json:"id"`
	PlanPath         string     `json:"plan_path"`
	Status           string     `json:"status"`
	ExitCode         int        `json:"exit_code"`
	ShouldBlock      bool       `json:"should_block"`
	BlastLevel       string     `json:"blast_level"`
	TotalResources   int        `json:"total_resources"`
	DenyCount        int        `json:"deny_count"`
	WarnCount        int        `json:"warn_count"`
	RiskLevel        string     `json:"risk_level"`
	DriftStatus      string     `json:"drift_status"`
	IntentAligned    bool       `json:"intent_aligned"`
	OverrideMode     string     `json:"override_mode"`
	IncidentID       *string    `json:"incident_id,omitempty"`
	TerraformVersion string     `json:"terraform_version"`
	GitCommit        *string    `json:"git_commit,omitempty"`
	Report           string     `json:"report"` // JSON blob
	Error            *string    `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Event is a persisted telemetry event.
type Event struct {
	ID        int64      `json:"id"`
	EventID   string     `json:"event_id"`
	RunID     *string    `json:"run_id,omitempty"`
	Type      string     `json:"type"`
	Source    string     `json:"source"`
	Resource  *string    `json:"resource,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g. "override.break_glass", "terraform.apply"
	Actor     string    `json:"actor"`               // user or CI identity
	TargetID  *string   `json:"target_id,omitempty"` // run ID or incident ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Apply is a terraform apply executed through the gate.
type Apply struct {
	ID               int64     `json:"id"`
	RunID            string    `json:"run_id"`
	PlanPath         string    `json:"plan_path"`
	TerraformVersion string    `json:"terraform_version"`
	Success          bool      `json:"success"`
	Error            *string   `json:"error,omitempty"`
	AppliedAt        time.Time `json:"applied_at"`
}

// EvaluationFilter narrows ListEvaluations. Nil fields match everything.
type EvaluationFilter struct {
	Status *string
	Since  *time.Time
	Limit  int
	Offset int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Evaluations
	SaveEvaluation(ctx context.Context, eval *Evaluation) error
	GetEvaluation(ctx context.Context, id string) (*Evaluation, error)
	ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]*Evaluation, error)

	// Events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, limit, offset int) ([]*Event, error)

	// Audit
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Applies
	RecordApply(ctx context.Context, apply *Apply) error
	LastAppliedVersion(ctx context.Context) (string, error)
}
