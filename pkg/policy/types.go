package policy

import (
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
)

// DefaultQuery is the package queried for deny, warn and info findings.
const DefaultQuery = "data.terraform.analysis"

// Severity is the finding category a policy rule emits into.
type Severity string

const (
	// SeverityInfo findings are informational.
	SeverityInfo Severity = "info"

	// SeverityWarn findings are advisory.
	SeverityWarn Severity = "warn"

	// SeverityDeny findings block the apply.
	SeverityDeny Severity = "deny"
)

// Policy is a single Rego module.
type Policy struct {
	// Name is the unique name of the policy (file path relative to its root, without extension).
	Name string `json:"name"`

	// Description is taken from the leading comment block.
	Description string `json:"description"`

	// Rego contains the module source.
	Rego string `json:"rego"`

	// Source is the file the policy was read from, empty for built-in policies.
	Source string `json:"source,omitempty"`

	// Builtin is true for policies shipped with tf-gate.
	Builtin bool `json:"builtin"`

	// LoadedAt is when the policy was read.
	LoadedAt time.Time `json:"loaded_at"`
}

// Input is the canonical document passed to the policy engine as input.
type Input struct {
	ResourceChanges   []InputChange    `json:"resource_changes"`
	BlastRadius       InputBlastRadius `json:"blast_radius"`
	TerraformVersion  string           `json:"terraform_version"`
	FormatVersion     string           `json:"format_version"`
	EmergencyOverride bool             `json:"emergency_override"`
	Timestamp         string           `json:"timestamp"`
	GitCommit         string           `json:"git_commit"`
}

// InputChange mirrors a Terraform resource_changes entry.
type InputChange struct {
	Address      string      `json:"address"`
	Type         string      `json:"type"`
	Name         string      `json:"name"`
	Mode         string      `json:"mode"`
	ProviderName string      `json:"provider_name"`
	Change       InputDetail `json:"change"`
}

// InputDetail is the change body of an InputChange.
type InputDetail struct {
	Actions []string `json:"actions"`
	Before  any      `json:"before"`
	After   any      `json:"after"`
}

// InputBlastRadius is the blast radius section of the input document.
type InputBlastRadius struct {
	Level          string   `json:"level"`
	TotalResources int      `json:"total_resources"`
	CreateCount    int      `json:"create_count"`
	UpdateCount    int      `json:"update_count"`
	DeleteCount    int      `json:"delete_count"`
	ReplaceCount   int      `json:"replace_count"`
	Critical       []string `json:"critical_resources"`
}

// BuildInput assembles the input document for a plan.
func BuildInput(req engine.PolicyRequest) *Input {
	changes := make([]InputChange, 0, len(req.Changes))
	for i := range req.Changes {
		rc := &req.Changes[i]
		changes = append(changes, InputChange{
			Address:      rc.Address,
			Type:         rc.Type,
			Name:         rc.Name,
			Mode:         rc.Mode,
			ProviderName: rc.ProviderName,
			Change: InputDetail{
				Actions: rc.Actions.Strings(),
				Before:  rc.Before,
				After:   rc.After,
			},
		})
	}

	br := req.BlastRadius
	critical := br.CriticalResources
	if critical == nil {
		critical = []string{}
	}

	ts := ""
	if !req.Timestamp.IsZero() {
		ts = req.Timestamp.UTC().Format(time.RFC3339)
	}

	return &Input{
		ResourceChanges: changes,
		BlastRadius: InputBlastRadius{
			Level:          string(br.Level),
			TotalResources: br.TotalResources,
			CreateCount:    br.CreateCount,
			UpdateCount:    br.UpdateCount,
			DeleteCount:    br.DeleteCount,
			ReplaceCount:   br.ReplaceCount,
			Critical:       critical,
		},
		TerraformVersion:  req.Metadata.TerraformVersion,
		FormatVersion:     req.Metadata.FormatVersion,
		EmergencyOverride: req.EmergencyOverride,
		Timestamp:         ts,
		GitCommit:         req.GitCommit,
	}
}
