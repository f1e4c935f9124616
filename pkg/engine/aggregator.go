package engine

import (
	"fmt"
	"strings"
)

// AggregateInput collects the phase outputs for one decision.
type AggregateInput struct {
	BlastRadius BlastRadius
	Policy      PolicyResult
	StrictMode  bool
	Context     *ContextResult
	Intent      *IntentVerdict
	Override    Override
	Warnings    []Warning
}

// PolicyBlocks reports whether deny findings block at the given level.
// In strict mode any deny blocks; otherwise deny only blocks a RED plan.
func PolicyBlocks(result PolicyResult, level Level, strict bool) bool {
	if len(result.Deny) == 0 {
		return false
	}
	if strict {
		return true
	}
	return level == LevelRed
}

// Transition moves the decision to next, enforcing the state machine.
func (d *Decision) Transition(next DecisionStatus) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if !d.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal decision transition: %s -> %s", d.Status, next)
	}
	d.Status = next
	return nil
}

// Aggregator combines phase outputs into a Decision.
type Aggregator struct{}

// NewAggregator creates an aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Decide evaluates the block signals and applies the override rules.
//
// A plan is blocked when policy blocks it, its blast radius is RED, or a
// drifted resource conflicts with the plan. Break-glass overrides the block
// (and takes precedence over shadow mode); shadow mode reports the block
// without enforcing it. Intent and temporal signals are advisory.
func (a *Aggregator) Decide(in AggregateInput) (*Decision, error) {
	d := &Decision{
		Status:       DecisionPending,
		Reasons:      []string{},
		OverrideMode: in.Override.Mode(),
		IncidentID:   in.Override.IncidentID,
	}

	policyBlocks := PolicyBlocks(in.Policy, in.BlastRadius.Level, in.StrictMode)
	for _, msg := range in.Policy.Deny {
		if policyBlocks {
			d.Reasons = append(d.Reasons, "Policy violation: "+msg)
		} else {
			d.Advisories = append(d.Advisories, "Policy violation (non-blocking): "+msg)
		}
	}
	for _, msg := range in.Policy.Warn {
		d.Advisories = append(d.Advisories, "Policy warning: "+msg)
	}

	red := in.BlastRadius.Level == LevelRed
	if red {
		d.Reasons = append(d.Reasons, describeRed(in.BlastRadius))
	}

	conflicts := false
	if in.Context != nil {
		for _, rc := range in.Context.Drift.ConflictResources {
			conflicts = true
			d.Reasons = append(d.Reasons,
				fmt.Sprintf("Drift conflict: %s was modified outside Terraform and is changed by this plan", rc.Address))
		}
		d.Advisories = append(d.Advisories, contextAdvisories(in.Context)...)
	}

	if in.Intent != nil && !in.Intent.Aligned {
		d.Advisories = append(d.Advisories, "Intent mismatch: "+in.Intent.Explanation)
	}
	for _, w := range in.Warnings {
		d.Advisories = append(d.Advisories, "Degraded "+w.String())
	}

	d.ShouldBlock = policyBlocks || red || conflicts
	if err := d.Transition(DecisionEvaluated); err != nil {
		return nil, err
	}

	var final DecisionStatus
	switch d.OverrideMode {
	case OverrideBreakGlass:
		final = DecisionOverridden
	case OverrideShadow:
		final = DecisionAllowed
	default:
		if d.ShouldBlock {
			final = DecisionBlocked
		} else {
			final = DecisionAllowed
		}
	}
	if err := d.Transition(final); err != nil {
		return nil, err
	}
	return d, nil
}

func describeRed(br BlastRadius) string {
	msg := fmt.Sprintf("Blast radius is RED (%d resources, %d destructive)",
		br.TotalResources, br.Destructive())
	if len(br.CriticalResources) > 0 {
		msg += ": critical resources affected: " + strings.Join(br.CriticalResources, ", ")
	}
	return msg
}

func contextAdvisories(c *ContextResult) []string {
	var out []string
	t := c.Temporal
	if t.RiskLevel >= RiskHigh {
		var factors []string
		if t.IsWeekend {
			factors = append(factors, "weekend")
		}
		if t.IsFridayAfternoon {
			factors = append(factors, "Friday afternoon")
		}
		if t.IsAfterHours {
			factors = append(factors, "after hours")
		}
		out = append(out, fmt.Sprintf("Temporal risk %s (%s)", t.RiskLevel, strings.Join(factors, ", ")))
	}
	if c.Drift.HasDrift && !c.Drift.HasConflicts() {
		out = append(out, fmt.Sprintf("Drift detected on %d resources outside this plan", len(c.Drift.DriftedResources)))
	}
	if c.VersionWarning != "" {
		out = append(out, c.VersionWarning)
	}
	for _, w := range c.Warnings {
		out = append(out, "Degraded "+w.String())
	}
	return out
}
