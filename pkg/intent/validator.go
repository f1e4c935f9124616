// Package intent compares the stated intent of a change (its commit message)
// with what the plan actually does.
//
// The verdict is advisory only. Three modes exist: none, keyword (a local
// word heuristic) and delegated (a reasoning backend answering MATCH or
// MISMATCH). Delegated mode fails open to keyword mode.
package intent

import (
	"context"
	"fmt"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/rs/zerolog"
)

// DelegatedConfidence is the confidence of a backend verdict.
const DelegatedConfidence = 0.85

// Mode selects the intent validation strategy.
type Mode string

const (
	ModeNone      Mode = "none"
	ModeKeyword   Mode = "keyword"
	ModeDelegated Mode = "delegated"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNone, ModeKeyword, ModeDelegated:
		return Mode(s), nil
	case "":
		return ModeKeyword, nil
	default:
		return "", fmt.Errorf("unknown intent mode %q", s)
	}
}

// Options configures a Validator.
type Options struct {
	Mode Mode

	// Backend answers delegated prompts. Required for ModeDelegated.
	Backend Backend

	// Timeout bounds each backend call.
	Timeout time.Duration

	// GenerateReport requests an impact report and recommendations from the backend.
	GenerateReport bool
}

// Validator implements engine.IntentValidator.
type Validator struct {
	logger zerolog.Logger
	opts   Options
}

var _ engine.IntentValidator = (*Validator)(nil)

// NewValidator creates a new intent validator.
func NewValidator(logger zerolog.Logger, opts Options) *Validator {
	if opts.Mode == "" {
		opts.Mode = ModeKeyword
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Validator{
		logger: logger.With().Str("component", "intent-validator").Logger(),
		opts:   opts,
	}
}

// Validate returns the intent verdict for req. It never fails.
func (v *Validator) Validate(ctx context.Context, req engine.IntentRequest) *engine.IntentVerdict {
	switch v.opts.Mode {
	case ModeNone:
		return &engine.IntentVerdict{
			Aligned:     true,
			Mode:        string(ModeNone),
			Explanation: "Intent validation disabled",
		}
	case ModeDelegated:
		return v.delegated(ctx, req)
	default:
		return AnalyzeKeywords(req.CommitMessage, req.BlastRadius)
	}
}

func (v *Validator) delegated(ctx context.Context, req engine.IntentRequest) *engine.IntentVerdict {
	if v.opts.Backend == nil {
		return v.degrade(req, fmt.Errorf("no reasoning backend configured"))
	}

	if req.CommitMessage == "" {
		verdict := AnalyzeKeywords(req.CommitMessage, req.BlastRadius)
		verdict.Mode = string(ModeDelegated)
		return verdict
	}

	reply, err := v.complete(ctx, IntentPrompt(req.CommitMessage, req.Changes))
	if err != nil {
		return v.degrade(req, err)
	}

	aligned, explanation, err := ParseReply(reply)
	if err != nil {
		return v.degrade(req, fmt.Errorf("%w: %.80q", err, reply))
	}

	verdict := &engine.IntentVerdict{
		Aligned:     aligned,
		Confidence:  DelegatedConfidence,
		Explanation: explanation,
		Mode:        string(ModeDelegated),
	}
	if !aligned {
		verdict.ActionRequired = "Review the plan against the commit message before applying"
	}

	if v.opts.GenerateReport {
		report, err := v.complete(ctx, ReportPrompt(req.Changes, req.BlastRadius))
		if err != nil {
			v.logger.Warn().Err(err).Msg("Impact report generation failed")
		} else {
			verdict.Report = report
		}

		reply, err := v.complete(ctx, RecommendationsPrompt(req.Changes, req.BlastRadius))
		if err != nil {
			v.logger.Warn().Err(err).Msg("Recommendations generation failed")
		} else {
			verdict.Recommendations = ParseRecommendations(reply)
		}
	}

	v.logger.Debug().
		Str("backend", v.opts.Backend.Name()).
		Bool("aligned", aligned).
		Msg("Delegated intent validation completed")

	return verdict
}

func (v *Validator) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()
	return v.opts.Backend.Complete(ctx, prompt)
}

// degrade falls back to keyword mode and marks the verdict degraded.
func (v *Validator) degrade(req engine.IntentRequest, cause error) *engine.IntentVerdict {
	v.logger.Warn().Err(cause).Msg("Reasoning backend unavailable, falling back to keyword intent validation")

	verdict := AnalyzeKeywords(req.CommitMessage, req.BlastRadius)
	verdict.Degraded = true
	verdict.DegradedReason = cause.Error()
	return verdict
}
