package engine

import (
	"strings"
	"testing"
)

func TestPolicyBlocks(t *testing.T) {
	deny := NewPolicyResult([]string{"a", "b"}, nil, nil)
	clean := NewPolicyResult(nil, []string{"w"}, nil)

	tests := []struct {
		name   string
		result PolicyResult
		level  Level
		strict bool
		want   bool
	}{
		{"strict deny green", deny, LevelGreen, true, true},
		{"non-strict deny yellow", deny, LevelYellow, false, false},
		{"non-strict deny red", deny, LevelRed, false, true},
		{"strict clean red", clean, LevelRed, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PolicyBlocks(tt.result, tt.level, tt.strict); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAggregator_Decide(t *testing.T) {
	green := BlastRadius{Level: LevelGreen, TotalResources: 3, CreateCount: 3}
	yellow := BlastRadius{Level: LevelYellow, TotalResources: 4, DeleteCount: 1, UpdateCount: 3}
	red := BlastRadius{Level: LevelRed, TotalResources: 1, ReplaceCount: 1,
		CriticalResources: []string{"aws_db_instance.main"}}
	conflict := &ContextResult{
		Temporal: TemporalContext{RiskLevel: RiskLow},
		Drift: DriftResult{
			HasDrift:          true,
			DriftedResources:  []ResourceChange{{Address: "aws_instance.web"}},
			ConflictResources: []ResourceChange{{Address: "aws_instance.web"}},
			Status:            DriftChecked,
		},
	}

	tests := []struct {
		name        string
		input       AggregateInput
		wantStatus  DecisionStatus
		wantBlock   bool
		wantReasons int
		wantExit    int
	}{
		{
			name:       "clean green plan is allowed",
			input:      AggregateInput{BlastRadius: green, Policy: NewPolicyResult(nil, nil, nil), StrictMode: true},
			wantStatus: DecisionAllowed,
			wantExit:   ExitAllowed,
		},
		{
			name: "strict deny blocks",
			input: AggregateInput{BlastRadius: green, StrictMode: true,
				Policy: NewPolicyResult([]string{"no"}, nil, nil)},
			wantStatus:  DecisionBlocked,
			wantBlock:   true,
			wantReasons: 1,
			wantExit:    ExitBlocked,
		},
		{
			name: "non-strict deny on yellow is allowed",
			input: AggregateInput{BlastRadius: yellow, StrictMode: false,
				Policy: NewPolicyResult([]string{"one", "two"}, nil, nil)},
			wantStatus: DecisionAllowed,
			wantExit:   ExitAllowed,
		},
		{
			name: "non-strict deny on red is blocked",
			input: AggregateInput{BlastRadius: red, StrictMode: false,
				Policy: NewPolicyResult([]string{"one", "two"}, nil, nil)},
			wantStatus:  DecisionBlocked,
			wantBlock:   true,
			wantReasons: 3,
			wantExit:    ExitBlocked,
		},
		{
			name:        "drift conflict blocks",
			input:       AggregateInput{BlastRadius: green, StrictMode: true, Context: conflict},
			wantStatus:  DecisionBlocked,
			wantBlock:   true,
			wantReasons: 1,
			wantExit:    ExitBlocked,
		},
		{
			name: "break-glass overrides red",
			input: AggregateInput{BlastRadius: red, StrictMode: true,
				Override: Override{IncidentID: "INC-123"}},
			wantStatus:  DecisionOverridden,
			wantBlock:   true,
			wantReasons: 1,
			wantExit:    ExitBreakGlass,
		},
		{
			name: "break-glass wins over shadow",
			input: AggregateInput{BlastRadius: red, StrictMode: true,
				Override: Override{IncidentID: "INC-9", Shadow: true}},
			wantStatus:  DecisionOverridden,
			wantBlock:   true,
			wantReasons: 1,
			wantExit:    ExitBreakGlass,
		},
		{
			name: "shadow allows but keeps reasons",
			input: AggregateInput{BlastRadius: red, StrictMode: true,
				Policy:   NewPolicyResult([]string{"CRITICAL: x"}, nil, nil),
				Override: Override{Shadow: true}},
			wantStatus:  DecisionAllowed,
			wantBlock:   true,
			wantReasons: 2,
			wantExit:    ExitAllowed,
		},
		{
			name: "intent mismatch never blocks",
			input: AggregateInput{BlastRadius: green, StrictMode: true,
				Intent: &IntentVerdict{Aligned: false, Explanation: "says tags, deletes db"}},
			wantStatus: DecisionAllowed,
			wantExit:   ExitAllowed,
		},
	}

	agg := NewAggregator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := agg.Decide(tt.input)
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if d.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, d.Status)
			}
			if d.ShouldBlock != tt.wantBlock {
				t.Errorf("Expected should_block %v, got %v", tt.wantBlock, d.ShouldBlock)
			}
			if len(d.Reasons) != tt.wantReasons {
				t.Errorf("Expected %d reasons, got %d: %v", tt.wantReasons, len(d.Reasons), d.Reasons)
			}
			if d.ExitCode() != tt.wantExit {
				t.Errorf("Expected exit code %d, got %d", tt.wantExit, d.ExitCode())
			}
		})
	}
}

func TestAggregator_Advisories(t *testing.T) {
	in := AggregateInput{
		BlastRadius: BlastRadius{Level: LevelGreen},
		StrictMode:  true,
		Policy:      NewPolicyResult(nil, []string{"tag missing"}, nil),
		Context: &ContextResult{
			Temporal:       TemporalContext{RiskLevel: RiskHigh, IsWeekend: true, IsAfterHours: true},
			VersionWarning: "Terraform version changed from 1.5.0 to 1.6.0",
			Warnings:       []Warning{NewContextWarning("drift", "terraform not found")},
		},
		Intent:   &IntentVerdict{Aligned: false, Explanation: "mismatch"},
		Warnings: []Warning{NewIntentDegradedWarning("backend unavailable")},
	}

	d, err := NewAggregator().Decide(in)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.ShouldBlock {
		t.Error("Advisory signals must not block")
	}

	joined := strings.Join(d.Advisories, "\n")
	for _, want := range []string{"Policy warning", "Temporal risk HIGH", "Terraform version changed",
		"terraform not found", "Intent mismatch", "backend unavailable"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected advisory containing %q, got %v", want, d.Advisories)
		}
	}
}

func TestDecisionTransitions(t *testing.T) {
	d := &Decision{Status: DecisionPending}

	if err := d.Transition(DecisionBlocked); err == nil {
		t.Error("Expected error skipping EVALUATED")
	}
	if err := d.Transition(DecisionEvaluated); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := d.Transition(DecisionAllowed); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := d.Transition(DecisionBlocked); err == nil {
		t.Error("Expected error leaving a terminal state")
	}
	if !d.Status.IsTerminal() {
		t.Error("Expected terminal status")
	}
}
