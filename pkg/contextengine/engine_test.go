package contextengine

import (
	"context"
	"errors"
	"testing"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/rs/zerolog"
)

func TestCheckVersionLock(t *testing.T) {
	tests := []struct {
		name        string
		current     string
		lastApplied string
		wantDrift   bool
		wantKind    DriftKind
	}{
		{"unknown last applied", "1.6.6", "", false, DriftKindNone},
		{"same version", "1.6.6", "1.6.6", false, DriftKindNone},
		{"v prefix is ignored", "1.6.6", "v1.6.6", false, DriftKindNone},
		{"short form equals full", "1.6", "1.6.0", false, DriftKindNone},
		{"minor upgrade", "1.7.0", "1.6.6", true, DriftKindMinor},
		{"major upgrade", "2.0.0", "1.9.8", true, DriftKindMajor},
		{"patch downgrade", "1.6.5", "1.6.6", true, DriftKindPatch},
		{"prerelease", "1.7.0-beta1", "1.7.0", true, DriftKindPrerelease},
		{"unparsable equal", "dev", "dev", false, DriftKindNone},
		{"unparsable different", "dev", "1.6.6", true, DriftKindUnparsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vc := CheckVersionLock(tt.current, tt.lastApplied)
			if vc.VersionDrift != tt.wantDrift {
				t.Errorf("Expected drift=%v, got %v", tt.wantDrift, vc.VersionDrift)
			}
			if vc.Kind != tt.wantKind {
				t.Errorf("Expected kind %q, got %q", tt.wantKind, vc.Kind)
			}
			if (vc.Warning != "") != tt.wantDrift {
				t.Errorf("Unexpected warning %q", vc.Warning)
			}
		})
	}
}

func TestAnalyzer_Analyze(t *testing.T) {
	src := &fakeSource{changes: []engine.ResourceChange{
		drift("aws_instance.web", map[string]any{"a": "1"}, map[string]any{"a": "2"}, "update"),
	}}
	analyzer := NewAnalyzer(zerolog.New(nil).Level(zerolog.Disabled), Options{
		Temporal: DefaultTemporalOptions(),
		Drift:    src,
	})

	result := analyzer.Analyze(context.Background(), engine.ContextRequest{
		Now:                at(15, 22),
		Changes:            []engine.ResourceChange{{Address: "aws_instance.web", Actions: engine.NewActionSet("update")}},
		TerraformVersion:   "1.7.0",
		LastAppliedVersion: "1.6.6",
	})

	if result.Temporal.RiskLevel != engine.RiskHigh {
		t.Errorf("Expected HIGH risk, got %s", result.Temporal.RiskLevel)
	}
	if !result.Drift.HasConflicts() {
		t.Error("Expected drift conflict")
	}
	if result.VersionWarning == "" {
		t.Error("Expected version warning")
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", result.Warnings)
	}
}

func TestAnalyzer_DegradedDrift(t *testing.T) {
	analyzer := NewAnalyzer(zerolog.New(nil).Level(zerolog.Disabled), Options{
		Temporal: DefaultTemporalOptions(),
		Drift:    &fakeSource{err: errors.New("timeout")},
	})

	result := analyzer.Analyze(context.Background(), engine.ContextRequest{Now: at(10, 10)})

	if result.Drift.Status != engine.DriftDegraded {
		t.Errorf("Expected degraded drift, got %s", result.Drift.Status)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Expected one warning, got %d", len(result.Warnings))
	}
	w := result.Warnings[0]
	if w.Kind != engine.ErrorKindContextWarning || w.Source != "drift" {
		t.Errorf("Unexpected warning %+v", w)
	}
}

func TestAnalyzer_NoDriftSource(t *testing.T) {
	analyzer := NewAnalyzer(zerolog.New(nil).Level(zerolog.Disabled), Options{Temporal: DefaultTemporalOptions()})

	result := analyzer.Analyze(context.Background(), engine.ContextRequest{Now: at(10, 10)})
	if result.Drift.Status != engine.DriftSkipped {
		t.Errorf("Expected skipped drift, got %s", result.Drift.Status)
	}
	if result.Temporal.RiskLevel != engine.RiskLow {
		t.Errorf("Expected LOW risk, got %s", result.Temporal.RiskLevel)
	}
}
