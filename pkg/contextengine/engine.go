// Package contextengine computes the situational signals of a plan: when it
// is applied, whether the infrastructure drifted outside Terraform, and
// whether the terraform version changed since the last apply.
//
// None of these signals can fail the pipeline. Drift detection fails open:
// a source error produces a degraded result and a context warning.
package contextengine

import (
	"context"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/rs/zerolog"
)

// Options configures an Analyzer.
type Options struct {
	Temporal TemporalOptions

	// Drift is the drift source. Nil disables drift detection.
	Drift DriftSource
}

// Analyzer implements engine.ContextAnalyzer.
type Analyzer struct {
	logger zerolog.Logger
	opts   Options
}

var _ engine.ContextAnalyzer = (*Analyzer)(nil)

// NewAnalyzer creates a new context analyzer.
func NewAnalyzer(logger zerolog.Logger, opts Options) *Analyzer {
	return &Analyzer{
		logger: logger.With().Str("component", "context-engine").Logger(),
		opts:   opts,
	}
}

// Analyze computes the temporal, drift and version signals for req.
func (a *Analyzer) Analyze(ctx context.Context, req engine.ContextRequest) *engine.ContextResult {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	result := &engine.ContextResult{
		Temporal: AnalyzeTemporal(now, a.opts.Temporal),
	}

	startTime := time.Now()
	result.Drift = DetectDrift(ctx, a.opts.Drift, req.Changes)
	if result.Drift.Status == engine.DriftDegraded {
		a.logger.Warn().
			Str("detail", result.Drift.Detail).
			Msg("Drift detection failed, continuing without drift information")
		result.Warnings = append(result.Warnings,
			engine.NewContextWarning("drift", result.Drift.Detail))
	}

	vc := CheckVersionLock(req.TerraformVersion, req.LastAppliedVersion)
	result.VersionWarning = vc.Warning

	a.logger.Debug().
		Str("risk", result.Temporal.RiskLevel.String()).
		Str("drift_status", string(result.Drift.Status)).
		Int("drifted", len(result.Drift.DriftedResources)).
		Int("conflicts", len(result.Drift.ConflictResources)).
		Bool("version_drift", vc.VersionDrift).
		Str("version_drift_kind", string(vc.Kind)).
		Dur("drift_duration", time.Since(startTime)).
		Msg("Context analysis completed")

	return result
}
