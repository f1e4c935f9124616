// Package telemetry provides observability instrumentation for tf-gate.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and event publishing behind one
// Telemetry value that is created per gate invocation and passed to the
// pipeline.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - zerolog loggers with component, run and phase fields
//  2. Distributed Tracing - one root span per evaluation, one child span per phase
//  3. Metrics Collection - Prometheus collectors written to a textfile at exit
//  4. Event Publishing - synchronous events consumed by the audit trail
//
// # Usage
//
// Initialize telemetry at command startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// Components take a zerolog.Logger and derive a child with a component field:
//
//	engine := policy.NewEngine(tel.Logger.Zerolog(), policy.DefaultOptions())
//
// The wrapper adds gate fields:
//
//	logger := tel.Logger.WithRunID(runID).WithPhase("policy")
//	logger.WithError(err).Error("Policy evaluation failed")
//
// Log levels: trace, debug, info, warn, error, disabled
//
// # Distributed Tracing
//
// Each evaluation is a gate.evaluate span with a gate.phase.<name> child per
// phase. Exporters: otlp (gRPC), stdout (pretty JSON on stderr) and none.
//
//	phase := tel.StartPhase(ctx, "policy")
//	result, err := engine.EvaluatePlan(phase.Ctx, req)
//	phase.End(err)
//
// # Metrics
//
// Metrics are registered on a private registry:
//
//   - tfgate_evaluations_total{status}
//   - tfgate_evaluation_duration_seconds
//   - tfgate_pipeline_errors_total{kind}
//   - tfgate_phase_duration_seconds{phase}
//   - tfgate_degraded_signals_total{signal}
//   - tfgate_blast_radius_resources{kind}
//   - tfgate_temporal_risk_level
//   - tfgate_policy_findings_total{severity}
//   - tfgate_policy_reloads_total{result}
//   - tfgate_overrides_total{mode}
//
// The gate exits after one evaluation, so metrics are written with
// prometheus.WriteToTextfile for the node_exporter textfile collector.
// Long-running commands can serve them over HTTP with Metrics.Serve.
//
// # Events
//
// Events are delivered synchronously to subscribers:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    store.RecordEvent(ctx, e)
//	}, telemetry.FilterByType(telemetry.EventTypeBreakGlass))
//
// Event types: evaluation.started, evaluation.completed, evaluation.failed,
// policy.violation, drift.conflict, signal.degraded, override.break_glass,
// apply.completed, policy.reloaded.
package telemetry
