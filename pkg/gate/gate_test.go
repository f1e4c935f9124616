package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/contextengine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/intent"
	"github.com/TheBearguy/tf-gatekeeper/pkg/plan"
	"github.com/TheBearguy/tf-gatekeeper/pkg/policy"
	"github.com/TheBearguy/tf-gatekeeper/pkg/telemetry"
	"github.com/rs/zerolog"
)

const (
	safePlan      = "../plan/testdata/safe_plan.json"
	dangerousPlan = "../plan/testdata/dangerous_plan.json"
	criticalPlan  = "../plan/testdata/critical_delete_plan.json"
)

// tuesdayMorning is inside business hours on a weekday.
var tuesdayMorning = time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC)

func quietLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

type eventLog struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (l *eventLog) record(e telemetry.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) has(eventType string) bool {
	for _, typ := range l.types() {
		if typ == eventType {
			return true
		}
	}
	return false
}

type gateOptions struct {
	policy engine.PolicyEvaluator
	drift  contextengine.DriftSource
	intent engine.IntentValidator
	strict bool
}

func newTestGate(t *testing.T, o gateOptions) (*Gate, *eventLog) {
	t.Helper()

	tel := telemetry.Nop()
	events := &eventLog{}
	tel.Events.Subscribe(events.record, nil)

	if o.policy == nil {
		eng := policy.NewEngine(quietLogger(), policy.DefaultOptions())
		if err := eng.LoadBuiltin(context.Background(), nil); err != nil {
			t.Fatalf("Failed to load built-in policies: %v", err)
		}
		o.policy = eng
	}
	if o.intent == nil {
		o.intent = intent.NewValidator(quietLogger(), intent.Options{Mode: intent.ModeKeyword})
	}

	analyzer := contextengine.NewAnalyzer(quietLogger(), contextengine.Options{
		Temporal: contextengine.DefaultTemporalOptions(),
		Drift:    o.drift,
	})

	g := New(tel, plan.NewIngestor(quietLogger(), plan.DefaultOptions()), o.policy, analyzer, o.intent,
		Options{StrictMode: o.strict})
	return g, events
}

func TestEvaluate_Decisions(t *testing.T) {
	tests := []struct {
		name        string
		plan        string
		override    engine.Override
		wantStatus  engine.DecisionStatus
		wantExit    int
		wantBlock   bool
		wantReasons bool
	}{
		{
			name:       "safe plan allowed",
			plan:       safePlan,
			wantStatus: engine.DecisionAllowed,
			wantExit:   engine.ExitAllowed,
		},
		{
			name:        "dangerous plan blocked",
			plan:        dangerousPlan,
			wantStatus:  engine.DecisionBlocked,
			wantExit:    engine.ExitBlocked,
			wantBlock:   true,
			wantReasons: true,
		},
		{
			name:        "break-glass overrides",
			plan:        dangerousPlan,
			override:    engine.Override{IncidentID: "INC-7"},
			wantStatus:  engine.DecisionOverridden,
			wantExit:    engine.ExitBreakGlass,
			wantBlock:   true,
			wantReasons: true,
		},
		{
			name:        "shadow mode reports without enforcing",
			plan:        dangerousPlan,
			override:    engine.Override{Shadow: true},
			wantStatus:  engine.DecisionAllowed,
			wantExit:    engine.ExitAllowed,
			wantBlock:   true,
			wantReasons: true,
		},
		{
			name:        "break-glass wins over shadow",
			plan:        dangerousPlan,
			override:    engine.Override{IncidentID: "INC-8", Shadow: true},
			wantStatus:  engine.DecisionOverridden,
			wantExit:    engine.ExitBreakGlass,
			wantBlock:   true,
			wantReasons: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGate(t, gateOptions{strict: true})

			report, err := g.Evaluate(context.Background(), Request{
				PlanPath: tt.plan,
				Override: tt.override,
				Now:      tuesdayMorning,
			})
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}

			d := report.Decision
			if d.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, d.Status)
			}
			if report.ExitCode() != tt.wantExit {
				t.Errorf("Expected exit %d, got %d", tt.wantExit, report.ExitCode())
			}
			if d.ShouldBlock != tt.wantBlock {
				t.Errorf("Expected should_block=%v, got %v", tt.wantBlock, d.ShouldBlock)
			}
			if (len(d.Reasons) > 0) != tt.wantReasons {
				t.Errorf("Unexpected reasons: %v", d.Reasons)
			}
			if report.RunID == "" {
				t.Error("Expected run ID")
			}
		})
	}
}

func TestEvaluate_ReportContents(t *testing.T) {
	g, _ := newTestGate(t, gateOptions{strict: true})

	report, err := g.Evaluate(context.Background(), Request{
		PlanPath:      dangerousPlan,
		CommitMessage: "update tags on the database",
		GitCommit:     "abc123",
		Now:           tuesdayMorning,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if report.BlastRadius.Level != engine.LevelRed {
		t.Errorf("Expected RED, got %s", report.BlastRadius.Level)
	}
	if report.Changes != 2 {
		t.Errorf("Expected 2 changes, got %d", report.Changes)
	}
	if report.Metadata.TerraformVersion != "1.6.6" {
		t.Errorf("Unexpected metadata %+v", report.Metadata)
	}
	if report.Policy.Passed || len(report.Policy.Deny) < 2 {
		t.Errorf("Expected protected-resource and network deny findings, got %v", report.Policy.Deny)
	}
	if report.Context == nil || report.Context.Drift.Status != engine.DriftSkipped {
		t.Errorf("Expected skipped drift, got %+v", report.Context)
	}
	if report.Intent == nil || report.Intent.Aligned {
		t.Errorf("Expected intent mismatch for benign message on a replace, got %+v", report.Intent)
	}

	found := false
	for _, a := range report.Decision.Advisories {
		if strings.HasPrefix(a, "Intent mismatch") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected intent mismatch advisory, got %v", report.Decision.Advisories)
	}
}

func TestEvaluate_EndToEndScenarios(t *testing.T) {
	tests := []struct {
		name         string
		plan         string
		message      string
		wantLevel    engine.Level
		wantStatus   engine.DecisionStatus
		wantExit     int
		wantCritical []string
		wantDeny     []string
		wantAligned  bool
	}{
		{
			name:        "staging web servers",
			plan:        safePlan,
			message:     "Add staging web servers",
			wantLevel:   engine.LevelGreen,
			wantStatus:  engine.DecisionAllowed,
			wantExit:    engine.ExitAllowed,
			wantAligned: true,
		},
		{
			name:         "database delete with open security group",
			plan:         criticalPlan,
			wantLevel:    engine.LevelRed,
			wantStatus:   engine.DecisionBlocked,
			wantExit:     engine.ExitBlocked,
			wantCritical: []string{"aws_db_instance.main"},
			wantDeny:     []string{"CRITICAL:", "SECURITY RISK"},
			wantAligned:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGate(t, gateOptions{strict: true})

			report, err := g.Evaluate(context.Background(), Request{
				PlanPath:      tt.plan,
				CommitMessage: tt.message,
				Now:           tuesdayMorning,
			})
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}

			if report.BlastRadius.Level != tt.wantLevel {
				t.Errorf("Expected %s, got %s", tt.wantLevel, report.BlastRadius.Level)
			}
			if strings.Join(report.BlastRadius.CriticalResources, ",") != strings.Join(tt.wantCritical, ",") {
				t.Errorf("Expected critical resources %v, got %v", tt.wantCritical, report.BlastRadius.CriticalResources)
			}
			if len(tt.wantDeny) == 0 && len(report.Policy.Deny) != 0 {
				t.Errorf("Expected no deny findings, got %v", report.Policy.Deny)
			}
			for _, want := range tt.wantDeny {
				found := false
				for _, d := range report.Policy.Deny {
					if strings.HasPrefix(d, want) {
						found = true
					}
				}
				if !found {
					t.Errorf("Expected a deny starting with %q, got %v", want, report.Policy.Deny)
				}
			}
			if report.Decision.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, report.Decision.Status)
			}
			if report.ExitCode() != tt.wantExit {
				t.Errorf("Expected exit %d, got %d", tt.wantExit, report.ExitCode())
			}
			if report.Intent == nil || report.Intent.Aligned != tt.wantAligned {
				t.Errorf("Expected aligned=%v, got %+v", tt.wantAligned, report.Intent)
			}
		})
	}
}

func TestEvaluate_NonStrictDenyIsAdvisoryBelowRed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	content := `{"format_version":"1.2","terraform_version":"1.6.6","resource_changes":[
		{"address":"aws_security_group.open","type":"aws_security_group","name":"open","mode":"managed",
		 "change":{"actions":["create"],"before":null,"after":{"ingress":[{"from_port":0,"to_port":0,"protocol":"-1","cidr_blocks":["0.0.0.0/0"]}],"egress":[]}}}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write plan: %v", err)
	}

	for _, strict := range []bool{true, false} {
		g, _ := newTestGate(t, gateOptions{strict: strict})
		report, err := g.Evaluate(context.Background(), Request{PlanPath: path, Now: tuesdayMorning})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if report.BlastRadius.Level != engine.LevelGreen {
			t.Fatalf("Expected GREEN plan, got %s", report.BlastRadius.Level)
		}
		if report.Decision.ShouldBlock != strict {
			t.Errorf("strict=%v: expected should_block=%v, got %v", strict, strict, report.Decision.ShouldBlock)
		}
	}
}

func TestEvaluate_DriftConflictBlocks(t *testing.T) {
	snapshot := filepath.Join(t.TempDir(), "refresh.json")
	content := `{"format_version":"1.2","resource_changes":[
		{"address":"aws_instance.web[0]","type":"aws_instance","name":"web","mode":"managed",
		 "change":{"actions":["update"],"before":{"tags":{}},"after":{"tags":{"owner":"ops"}}}}]}`
	if err := os.WriteFile(snapshot, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}

	g, events := newTestGate(t, gateOptions{strict: true, drift: contextengine.NewSnapshotFileSource(snapshot)})

	report, err := g.Evaluate(context.Background(), Request{PlanPath: safePlan, Now: tuesdayMorning})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if report.Decision.Status != engine.DecisionBlocked {
		t.Errorf("Expected drift conflict to block a GREEN plan, got %s", report.Decision.Status)
	}
	if !events.has(telemetry.EventTypeDriftConflict) {
		t.Errorf("Expected drift conflict event, got %v", events.types())
	}
}

func TestEvaluate_DegradedDriftFailsOpen(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")
	g, events := newTestGate(t, gateOptions{drift: contextengine.NewSnapshotFileSource(missing)})

	report, err := g.Evaluate(context.Background(), Request{PlanPath: safePlan, Now: tuesdayMorning})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if report.Decision.Status != engine.DecisionAllowed {
		t.Errorf("Expected ALLOWED, got %s", report.Decision.Status)
	}
	if report.Context.Drift.Status != engine.DriftDegraded {
		t.Errorf("Expected degraded drift, got %s", report.Context.Drift.Status)
	}
	if len(report.Warnings) != 1 || report.Warnings[0].Kind != engine.ErrorKindContextWarning {
		t.Errorf("Expected one context warning, got %v", report.Warnings)
	}
	if !events.has(telemetry.EventTypeSignalDegraded) {
		t.Errorf("Expected degraded signal event, got %v", events.types())
	}
}

type degradedIntent struct{}

func (degradedIntent) Validate(context.Context, engine.IntentRequest) *engine.IntentVerdict {
	return &engine.IntentVerdict{
		Aligned:        true,
		Mode:           "keyword",
		Explanation:    "No commit message provided",
		Degraded:       true,
		DegradedReason: "reasoning backend timed out",
	}
}

func TestEvaluate_DegradedIntentIsAdvisory(t *testing.T) {
	g, _ := newTestGate(t, gateOptions{intent: degradedIntent{}})

	report, err := g.Evaluate(context.Background(), Request{PlanPath: safePlan, Now: tuesdayMorning})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if report.Decision.ShouldBlock {
		t.Error("Degraded intent must never block")
	}
	if len(report.Warnings) != 1 || report.Warnings[0].Kind != engine.ErrorKindIntentDegraded {
		t.Errorf("Expected intent degraded warning, got %v", report.Warnings)
	}
	found := false
	for _, a := range report.Decision.Advisories {
		if strings.Contains(a, "reasoning backend timed out") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected degraded advisory, got %v", report.Decision.Advisories)
	}
}

type advisingIntent struct{}

func (advisingIntent) Validate(context.Context, engine.IntentRequest) *engine.IntentVerdict {
	return &engine.IntentVerdict{
		Aligned:         true,
		Mode:            "delegated",
		Confidence:      0.85,
		Recommendations: []string{"Take a final snapshot", "Restrict the ingress CIDR"},
	}
}

func TestReport_Recommendations(t *testing.T) {
	g, _ := newTestGate(t, gateOptions{intent: advisingIntent{}})

	report, err := g.Evaluate(context.Background(), Request{PlanPath: criticalPlan, Now: tuesdayMorning})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	var console bytes.Buffer
	if err := report.WriteConsole(&console); err != nil {
		t.Fatalf("WriteConsole failed: %v", err)
	}
	for _, want := range []string{"Recommendations:", "1. Take a final snapshot", "2. Restrict the ingress CIDR"} {
		if !strings.Contains(console.String(), want) {
			t.Errorf("Expected console output to contain %q:\n%s", want, console.String())
		}
	}
}

type failingPolicy struct{}

func (failingPolicy) EvaluatePlan(context.Context, engine.PolicyRequest) (*engine.PolicyResult, error) {
	return nil, engine.NewPolicyEvalError("evaluation timed out", context.DeadlineExceeded)
}

func TestEvaluate_PipelineErrors(t *testing.T) {
	tests := []struct {
		name   string
		plan   string
		policy engine.PolicyEvaluator
		want   error
	}{
		{"missing plan", "testdata/nope.json", nil, engine.ErrIngestNotFound},
		{"policy evaluation failure", safePlan, failingPolicy{}, engine.ErrPolicyEval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, events := newTestGate(t, gateOptions{policy: tt.policy})

			report, err := g.Evaluate(context.Background(), Request{PlanPath: tt.plan, Now: tuesdayMorning})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if report == nil || report.Decision != nil {
				t.Fatalf("Expected partial report without decision, got %+v", report)
			}
			if report.ExitCode() != engine.ExitPipelineError {
				t.Errorf("Expected exit %d, got %d", engine.ExitPipelineError, report.ExitCode())
			}
			if !events.has(telemetry.EventTypeEvaluationFailed) {
				t.Errorf("Expected evaluation failed event, got %v", events.types())
			}
		})
	}
}

func TestEvaluate_Events(t *testing.T) {
	g, events := newTestGate(t, gateOptions{strict: true})

	_, err := g.Evaluate(context.Background(), Request{
		PlanPath: dangerousPlan,
		Override: engine.Override{IncidentID: "INC-42"},
		Now:      tuesdayMorning,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	types := events.types()
	if types[0] != telemetry.EventTypeEvaluationStarted {
		t.Errorf("Expected first event to be evaluation.started, got %v", types)
	}
	if types[len(types)-1] != telemetry.EventTypeEvaluationCompleted {
		t.Errorf("Expected last event to be evaluation.completed, got %v", types)
	}
	for _, want := range []string{telemetry.EventTypePolicyViolation, telemetry.EventTypeBreakGlass} {
		if !events.has(want) {
			t.Errorf("Expected %s event, got %v", want, types)
		}
	}
}

func TestReport_Output(t *testing.T) {
	g, _ := newTestGate(t, gateOptions{strict: true})

	report, err := g.Evaluate(context.Background(), Request{PlanPath: dangerousPlan, Now: tuesdayMorning})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	var console bytes.Buffer
	if err := report.WriteConsole(&console); err != nil {
		t.Fatalf("WriteConsole failed: %v", err)
	}
	for _, want := range []string{"[1] Blast radius: RED", "[2] Policy: FAILED", "Decision: BLOCKED (exit 1)"} {
		if !strings.Contains(console.String(), want) {
			t.Errorf("Expected console output to contain %q:\n%s", want, console.String())
		}
	}

	var buf bytes.Buffer
	if err := report.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if decoded["run_id"] != report.RunID {
		t.Errorf("Expected run_id %s, got %v", report.RunID, decoded["run_id"])
	}
	if decoded["exit_code"] != float64(1) {
		t.Errorf("Expected exit_code 1, got %v", decoded["exit_code"])
	}
	if _, ok := decoded["duration_ms"]; !ok {
		t.Error("Expected duration_ms")
	}
}
