package gate

import (
	"context"
	"errors"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/plan"
	"github.com/TheBearguy/tf-gatekeeper/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Pipeline phase names used for spans, logs and metrics.
const (
	PhaseIngest    = "ingest"
	PhasePolicy    = "policy"
	PhaseContext   = "context"
	PhaseIntent    = "intent"
	PhaseAggregate = "aggregate"
)

// Ingestor reads and classifies a plan artifact (Phase 1).
type Ingestor interface {
	Ingest(ctx context.Context, path string) (*plan.Result, error)
}

// Options configures a Gate.
type Options struct {
	// StrictMode makes every deny finding block.
	StrictMode bool
}

// Request is one evaluation of a plan artifact.
type Request struct {
	// PlanPath is the plan JSON produced by terraform show -json.
	PlanPath string

	// CommitMessage is the stated intent of the change. May be empty.
	CommitMessage string

	// GitCommit is the commit hash passed to policies. May be empty.
	GitCommit string

	// Override carries break-glass and shadow mode.
	Override engine.Override

	// Now is the evaluation time. Zero means time.Now().
	Now time.Time

	// LastAppliedVersion is the terraform version of the last successful apply.
	LastAppliedVersion string
}

// Gate runs the decision pipeline. A Gate holds no per-evaluation state and
// may be reused.
type Gate struct {
	tel        *telemetry.Telemetry
	ingestor   Ingestor
	policy     engine.PolicyEvaluator
	context    engine.ContextAnalyzer
	intent     engine.IntentValidator
	aggregator *engine.Aggregator
	opts       Options
}

// New creates a gate. The context analyzer and intent validator may be nil,
// in which case those phases are skipped.
func New(tel *telemetry.Telemetry, ingestor Ingestor, policy engine.PolicyEvaluator,
	contextAnalyzer engine.ContextAnalyzer, intentValidator engine.IntentValidator, opts Options) *Gate {
	if tel == nil {
		tel = telemetry.Nop()
	}
	return &Gate{
		tel:        tel,
		ingestor:   ingestor,
		policy:     policy,
		context:    contextAnalyzer,
		intent:     intentValidator,
		aggregator: engine.NewAggregator(),
		opts:       opts,
	}
}

// Evaluate runs all phases against req.PlanPath and returns the report.
//
// A fatal error (ingestion, policy compile or evaluation) is returned together
// with a partial report carrying the run ID and timing; its Decision is nil
// and its exit code is engine.ExitPipelineError.
func (g *Gate) Evaluate(ctx context.Context, req Request) (*Report, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	report := &Report{
		RunID:     uuid.NewString(),
		PlanPath:  req.PlanPath,
		StartedAt: now,
		Warnings:  []engine.Warning{},
	}
	timer := telemetry.NewTimer()

	ctx, span := g.tel.Tracer.StartEvaluationSpan(ctx, report.RunID, req.PlanPath)
	defer span.End()

	logger := g.tel.Logger.WithRunID(report.RunID)
	g.tel.Events.PublishEvaluationStarted(report.RunID, req.PlanPath)

	fail := func(err error) (*Report, error) {
		report.Duration = timer.Duration()
		report.Error = err.Error()

		kind := "unknown"
		var gerr *engine.GateError
		if errors.As(err, &gerr) {
			kind = string(gerr.Kind)
		}
		g.tel.Metrics.RecordPipelineError(kind)
		g.tel.Events.PublishEvaluationFailed(report.RunID, err)
		telemetry.RecordError(span, err)
		span.SetAttributes(telemetry.AttrExitCode.Int(engine.ExitPipelineError))
		logger.WithError(err).Error("Evaluation aborted")
		return report, err
	}

	// Phase 1 runs alone: everything after it reads its output.
	ic := g.tel.StartPhase(ctx, PhaseIngest)
	ingested, err := g.ingestor.Ingest(ic.Ctx, req.PlanPath)
	ic.End(err)
	if err != nil {
		return fail(err)
	}

	report.Metadata = ingested.Metadata
	report.BlastRadius = ingested.BlastRadius
	report.Changes = len(ingested.Changes)
	report.Ignored = ingested.Ignored
	ic.Logger.WithFields(map[string]interface{}{
		"changes": report.Changes,
		"ignored": report.Ignored,
		"level":   ingested.BlastRadius.Level,
	}).Debug("Plan ingested")
	g.recordBlastRadius(span, ingested.BlastRadius)

	policyResult, contextResult, verdict, err := g.analyze(ctx, req, now, ingested)
	if err != nil {
		return fail(err)
	}

	report.Policy = policyResult
	report.Context = contextResult
	report.Intent = verdict
	if contextResult != nil {
		report.Warnings = append(report.Warnings, contextResult.Warnings...)
	}
	if verdict != nil && verdict.Degraded {
		report.Warnings = append(report.Warnings, engine.NewIntentDegradedWarning(verdict.DegradedReason))
	}

	ac := g.tel.StartPhase(ctx, PhaseAggregate)
	decision, err := g.aggregator.Decide(engine.AggregateInput{
		BlastRadius: ingested.BlastRadius,
		Policy:      policyResult,
		StrictMode:  g.opts.StrictMode,
		Context:     contextResult,
		Intent:      verdict,
		Override:    req.Override,
		Warnings:    intentWarnings(verdict),
	})
	ac.End(err)
	if err != nil {
		return fail(err)
	}

	report.Decision = decision
	report.Duration = timer.Duration()
	g.publish(report)

	span.SetAttributes(
		telemetry.AttrStatus.String(string(decision.Status)),
		telemetry.AttrExitCode.Int(decision.ExitCode()),
	)
	telemetry.RecordSuccess(span)

	logger.WithFields(map[string]interface{}{
		"status":       decision.Status,
		"should_block": decision.ShouldBlock,
		"override":     decision.OverrideMode,
		"duration":     report.Duration.String(),
	}).Info("Evaluation completed")

	return report, nil
}

// analyze runs phases 2 to 4 concurrently over the immutable change set.
// A policy failure cancels the other phases.
func (g *Gate) analyze(ctx context.Context, req Request, now time.Time, ingested *plan.Result) (
	engine.PolicyResult, *engine.ContextResult, *engine.IntentVerdict, error) {
	var (
		policyResult  = engine.NewPolicyResult(nil, nil, nil)
		contextResult *engine.ContextResult
		verdict       *engine.IntentVerdict
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if g.policy == nil {
			return nil
		}
		pc := g.tel.StartPhase(groupCtx, PhasePolicy)
		result, err := g.policy.EvaluatePlan(pc.Ctx, engine.PolicyRequest{
			Changes:           ingested.Changes,
			BlastRadius:       ingested.BlastRadius,
			Metadata:          ingested.Metadata,
			EmergencyOverride: req.Override.IncidentID != "",
			Timestamp:         now,
			GitCommit:         req.GitCommit,
		})
		if err == nil {
			pc.Span.SetAttributes(
				telemetry.AttrDeny.Int(len(result.Deny)),
				telemetry.AttrWarn.Int(len(result.Warn)),
			)
		}
		pc.End(err)
		if err != nil {
			return err
		}
		policyResult = *result
		return nil
	})

	group.Go(func() error {
		if g.context == nil {
			return nil
		}
		cc := g.tel.StartPhase(groupCtx, PhaseContext)
		contextResult = g.context.Analyze(cc.Ctx, engine.ContextRequest{
			Now:                now,
			Changes:            ingested.Changes,
			TerraformVersion:   ingested.Metadata.TerraformVersion,
			LastAppliedVersion: req.LastAppliedVersion,
		})
		cc.Span.SetAttributes(
			telemetry.AttrRisk.String(contextResult.Temporal.RiskLevel.String()),
			telemetry.AttrDrift.String(string(contextResult.Drift.Status)),
		)
		cc.End(nil)
		return nil
	})

	group.Go(func() error {
		if g.intent == nil {
			return nil
		}
		vc := g.tel.StartPhase(groupCtx, PhaseIntent)
		verdict = g.intent.Validate(vc.Ctx, engine.IntentRequest{
			CommitMessage: req.CommitMessage,
			Changes:       ingested.Changes,
			BlastRadius:   ingested.BlastRadius,
		})
		vc.Span.SetAttributes(
			telemetry.AttrAligned.Bool(verdict.Aligned),
			telemetry.AttrDegraded.Bool(verdict.Degraded),
		)
		vc.End(nil)
		return nil
	})

	if err := group.Wait(); err != nil {
		return engine.PolicyResult{}, nil, nil, err
	}
	return policyResult, contextResult, verdict, nil
}

func intentWarnings(v *engine.IntentVerdict) []engine.Warning {
	if v == nil || !v.Degraded {
		return nil
	}
	return []engine.Warning{engine.NewIntentDegradedWarning(v.DegradedReason)}
}

func (g *Gate) recordBlastRadius(span trace.Span, br engine.BlastRadius) {
	g.tel.Metrics.SetBlastRadius(br.CreateCount, br.UpdateCount, br.DeleteCount, br.ReplaceCount)
	span.SetAttributes(
		telemetry.AttrLevel.String(string(br.Level)),
		telemetry.AttrResources.Int(br.TotalResources),
	)
}

// publish records metrics and events for a completed evaluation.
func (g *Gate) publish(r *Report) {
	d := r.Decision
	m := g.tel.Metrics
	ep := g.tel.Events

	m.RecordEvaluation(string(d.Status), r.Duration)
	m.RecordPolicyFindings(len(r.Policy.Deny), len(r.Policy.Warn), len(r.Policy.Info))
	if d.OverrideMode != engine.OverrideNone {
		m.RecordOverride(string(d.OverrideMode))
	}

	for _, msg := range r.Policy.Deny {
		ep.PublishPolicyViolation(r.RunID, msg)
	}
	if r.Context != nil {
		m.SetRiskLevel(int(r.Context.Temporal.RiskLevel))
		for _, rc := range r.Context.Drift.ConflictResources {
			ep.PublishDriftConflict(r.RunID, rc.Address)
		}
	}
	for _, w := range r.Warnings {
		m.RecordDegraded(w.Source)
		ep.PublishSignalDegraded(r.RunID, w.Source, w.Message)
	}
	if d.OverrideMode == engine.OverrideBreakGlass {
		ep.PublishBreakGlass(r.RunID, d.IncidentID, d.Reasons)
	}

	ep.PublishEvaluationCompleted(r.RunID, string(d.Status), d.ExitCode(), r.Duration, map[string]interface{}{
		"blast_level":   string(r.BlastRadius.Level),
		"should_block":  d.ShouldBlock,
		"override_mode": string(d.OverrideMode),
	})
}
