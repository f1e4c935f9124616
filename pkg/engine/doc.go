// Package engine provides the core types, classification rules and decision
// state machine for the tf-gate deployment gate.
//
// # Overview
//
// tf-gate evaluates a Terraform plan (the JSON form produced by
// "terraform show -json") before it is applied. The evaluation is split into
// phases whose outputs flow strictly forward:
//
//  1. Ingest - stream the plan and classify its blast radius (Classify)
//  2. Policy - evaluate OPA policies against a canonical input document
//  3. Context - temporal risk, drift conflicts and version lock
//  4. Intent - compare the commit message with the change set (advisory)
//
// The Aggregator combines those signals into a single Decision.
//
// # Core Domain Types
//
//   - ResourceChange: one resource entry of the plan with its action set
//   - BlastRadius: aggregate change counts and a GREEN/YELLOW/RED level
//   - PlanMetadata: terraform version, format version, timestamp, errored flag
//   - PolicyResult: deny/warn/info findings from the policy engine
//   - TemporalContext: time-of-change risk factors
//   - DriftResult: out-of-band changes and conflicts with the plan
//   - IntentVerdict: advisory commit intent alignment
//   - Decision: the gate outcome with its reasons and override mode
//
// # Error Classification
//
// Fatal pipeline errors (ingest and policy failures) are GateError values and
// surface as a distinct exit code. Context and intent failures never abort an
// evaluation; they are reported as Warning values:
//
//	if engine.IsFatal(err) {
//	    os.Exit(engine.ExitPipelineError)
//	}
//
// # Decision States
//
// A Decision moves PENDING -> EVALUATED -> {BLOCKED, ALLOWED, OVERRIDDEN}.
// Terminal states map to process exit codes with ExitCode.
//
// # Immutability
//
// All values derived from one plan are computed from scratch for every
// evaluation and are not mutated once produced.
package engine
