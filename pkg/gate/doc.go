// Package gate runs the tf-gate decision pipeline.
//
// Phase 1 ingests and classifies the plan. Phases 2 (policy), 3 (context)
// and 4 (intent) then run concurrently against the immutable change set,
// and the aggregator combines their outputs into a Decision. Each phase gets
// its own span and duration metric from the per-invocation Telemetry; the
// evaluation publishes events that the audit recorder persists.
//
// Only ingestion and policy failures abort an evaluation. They surface as a
// partial Report with exit code 2, never as an allowed or blocked decision.
package gate
