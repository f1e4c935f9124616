package telemetry

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func metricText(t *testing.T, m *Metrics) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	return string(data)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"ci", func(c *Config) { *c = *CIConfig() }, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp"; c.Tracing.Endpoint = "" }, true},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.log")

	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.NewComponentLogger("policy-engine").WithRunID("run-1").Info("Policies compiled")
	logger.Debug("hidden")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	out := string(data)
	for _, want := range []string{`"component":"policy-engine"`, `"run_id":"run-1"`, `"message":"Policies compiled"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in log output %s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("Debug message logged at info level")
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordEvaluation("ALLOWED", time.Second)
	m.RecordPhase("ingest", time.Second)
	m.RecordDegraded("drift")
	m.SetBlastRadius(1, 2, 3, 4)
	m.RecordPolicyFindings(1, 1, 1)
	m.RecordPolicyReload(nil)

	if m.Registry() != nil {
		t.Error("Expected nil registry when disabled")
	}
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("Expected no-op write, got %v", err)
	}
}

func TestMetrics_Record(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordEvaluation("BLOCKED", time.Second)
	m.RecordEvaluation("BLOCKED", time.Second)
	m.RecordPolicyFindings(2, 1, 0)
	m.RecordDegraded("intent")
	m.SetBlastRadius(0, 0, 3, 1)
	m.RecordOverride("BREAK_GLASS")

	text := metricText(t, m)
	for _, want := range []string{
		`tfgate_evaluations_total{status="BLOCKED"} 2`,
		`tfgate_policy_findings_total{severity="deny"} 2`,
		`tfgate_blast_radius_resources{kind="delete"} 3`,
		`tfgate_overrides_total{mode="BREAK_GLASS"} 1`,
		`tfgate_degraded_signals_total{signal="intent"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %s in metrics output", want)
		}
	}
}

func TestEventPublisher(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true})

	var all, warnings []Event
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)
	ep.Subscribe(func(e Event) { warnings = append(warnings, e) }, FilterByLevel(EventLevelWarning))

	ep.PublishEvaluationStarted("run-1", "plan.json")
	ep.PublishPolicyViolation("run-1", "CRITICAL: protected resource")
	ep.PublishEvaluationCompleted("run-1", "BLOCKED", 1, time.Second, nil)

	if len(all) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(all))
	}
	if len(warnings) != 2 {
		t.Errorf("Expected 2 warning events, got %d", len(warnings))
	}
	for _, e := range all {
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Errorf("Event not stamped: %+v", e)
		}
	}
	if all[2].Data["exit_code"] != 1 {
		t.Errorf("Expected exit code in data, got %v", all[2].Data)
	}
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: false})
	called := false
	ep.Subscribe(func(Event) { called = true }, nil)

	ep.PublishEvaluationStarted("run-1", "plan.json")

	if called {
		t.Error("Disabled publisher delivered an event")
	}
}

func TestEventPublisher_GlobalFilter(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true})
	ep.AddFilter(FilterByRunID("run-2"))

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.RunID) }, nil)

	ep.PublishEvaluationStarted("run-1", "a.json")
	ep.PublishEvaluationStarted("run-2", "b.json")

	if len(got) != 1 || got[0] != "run-2" {
		t.Errorf("Expected only run-2, got %v", got)
	}
}

func TestTracer_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	exporter, err := createStdoutExporter(&buf)
	if err != nil {
		t.Fatalf("createStdoutExporter failed: %v", err)
	}
	if exporter == nil {
		t.Fatal("Expected exporter")
	}
	if err := exporter.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestTelemetry_Shutdown_WritesTextfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "disabled"
	cfg.Metrics.TextfilePath = filepath.Join(t.TempDir(), "metrics", "tfgate.prom")

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}

	phase := tel.StartPhase(context.Background(), "ingest")
	phase.End(nil)

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	data, err := os.ReadFile(cfg.Metrics.TextfilePath)
	if err != nil {
		t.Fatalf("Expected metrics textfile: %v", err)
	}
	if !strings.Contains(string(data), `tfgate_phase_duration_seconds_count{phase="ingest"} 1`) {
		t.Errorf("Phase duration missing from textfile:\n%s", data)
	}
}
