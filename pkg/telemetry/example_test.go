package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Logging.Level = "disabled"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	fmt.Println(telemetry.FromTelemetryContext(ctx) == tel)
	// Output: true
}

// Example_phaseInstrumentation demonstrates instrumenting a pipeline phase.
func Example_phaseInstrumentation() {
	tel := telemetry.Nop()
	ctx := tel.WithContext(context.Background())

	phase := tel.StartPhase(ctx, "policy")
	err := errors.New("compile failed")
	phase.End(err)

	fmt.Println(phase.Span.SpanContext().IsValid())
	// Output: true
}

// Example_events demonstrates subscribing to gate events.
func Example_events() {
	tel := telemetry.Nop()

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Data["incident_id"])
	}, telemetry.FilterByType(telemetry.EventTypeBreakGlass))

	tel.Events.PublishEvaluationStarted("run-1", "plan.json")
	tel.Events.PublishBreakGlass("run-1", "INC-42", []string{"blast radius RED"})
	// Output: override.break_glass INC-42
}

// Example_metricsTextfile demonstrates exporting metrics for the textfile collector.
func Example_metricsTextfile() {
	dir, _ := os.MkdirTemp("", "tfgate-metrics")
	defer os.RemoveAll(dir)

	m, _ := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "tfgate"})
	m.RecordEvaluation("BLOCKED", 1500*time.Millisecond)
	m.RecordPhase("policy", 200*time.Millisecond)

	path := filepath.Join(dir, "tfgate.prom")
	if err := m.WriteTextfile(path); err != nil {
		panic(err)
	}

	data, _ := os.ReadFile(path)
	fmt.Println(strings.Contains(string(data), `tfgate_evaluations_total{status="BLOCKED"} 1`))
	// Output: true
}
