package gate

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
)

// Report is the structured explanation of one evaluation.
type Report struct {
	RunID       string                `json:"run_id"`
	PlanPath    string                `json:"plan_path"`
	Metadata    engine.PlanMetadata   `json:"metadata"`
	BlastRadius engine.BlastRadius    `json:"blast_radius"`
	Changes     int                   `json:"changes"`
	Ignored     int                   `json:"ignored"`
	Policy      engine.PolicyResult   `json:"policy"`
	Context     *engine.ContextResult `json:"context,omitempty"`
	Intent      *engine.IntentVerdict `json:"intent,omitempty"`
	Decision    *engine.Decision      `json:"decision,omitempty"`
	Warnings    []engine.Warning      `json:"warnings"`
	Error       string                `json:"error,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	Duration    time.Duration         `json:"-"`
}

// ExitCode returns the process exit code of the evaluation.
func (r *Report) ExitCode() int {
	if r == nil || r.Decision == nil {
		return engine.ExitPipelineError
	}
	return r.Decision.ExitCode()
}

// MarshalJSON adds the duration in milliseconds and the exit code.
func (r *Report) MarshalJSON() ([]byte, error) {
	type alias Report
	return json.Marshal(struct {
		*alias
		DurationMS int64 `json:"duration_ms"`
		ExitCode   int   `json:"exit_code"`
	}{
		alias:      (*alias)(r),
		DurationMS: r.Duration.Milliseconds(),
		ExitCode:   r.ExitCode(),
	})
}

// WriteJSON writes the indented JSON report.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteConsole writes a human-readable per-phase summary.
func (r *Report) WriteConsole(w io.Writer) error {
	p := &printer{w: w}

	p.line("tf-gate evaluation %s", r.RunID)
	p.line("Plan: %s (terraform %s)", r.PlanPath, orDash(r.Metadata.TerraformVersion))
	if r.Error != "" {
		p.line("")
		p.line("PIPELINE ERROR: %s", r.Error)
		return p.err
	}

	br := r.BlastRadius
	p.line("")
	p.line("[1] Blast radius: %s", br.Level)
	p.line("    %d resources: %d create, %d update, %d delete, %d replace (%d ignored)",
		br.TotalResources, br.CreateCount, br.UpdateCount, br.DeleteCount, br.ReplaceCount, r.Ignored)
	if len(br.CriticalResources) > 0 {
		p.line("    critical: %s", strings.Join(br.CriticalResources, ", "))
	}

	p.line("[2] Policy: %s", passFail(r.Policy.Passed))
	p.list("deny", r.Policy.Deny)
	p.list("warn", r.Policy.Warn)

	if c := r.Context; c != nil {
		t := c.Temporal
		p.line("[3] Context: risk %s, drift %s", t.RiskLevel, c.Drift.Status)
		for _, rc := range c.Drift.ConflictResources {
			p.line("    conflict: %s", rc.Address)
		}
		if c.VersionWarning != "" {
			p.line("    %s", c.VersionWarning)
		}
	}

	if v := r.Intent; v != nil {
		state := "aligned"
		if !v.Aligned {
			state = "MISMATCH"
		}
		p.line("[4] Intent (%s): %s, confidence %.2f", v.Mode, state, v.Confidence)
		if v.Explanation != "" {
			p.line("    %s", v.Explanation)
		}
		if v.Report != "" {
			p.line("")
			p.line("%s", strings.TrimSpace(v.Report))
		}
		if len(v.Recommendations) > 0 {
			p.line("")
			p.line("    Recommendations:")
			for i, rec := range v.Recommendations {
				p.line("      %d. %s", i+1, rec)
			}
		}
	}

	d := r.Decision
	if d == nil {
		return p.err
	}
	p.line("")
	p.line("Decision: %s (exit %d)", d.Status, d.ExitCode())
	switch d.OverrideMode {
	case engine.OverrideBreakGlass:
		p.line("    break-glass active for incident %s", d.IncidentID)
	case engine.OverrideShadow:
		if d.ShouldBlock {
			p.line("    shadow mode: this plan would have been blocked")
		}
	}
	p.list("reason", d.Reasons)
	p.list("advisory", d.Advisories)
	return p.err
}

// printer remembers the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) list(label string, items []string) {
	for _, item := range items {
		p.line("    %s: %s", label, item)
	}
}

func passFail(ok bool) string {
	if ok {
		return "passed"
	}
	return "FAILED"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
