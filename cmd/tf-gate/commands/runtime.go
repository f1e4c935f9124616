package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/config"
	"github.com/TheBearguy/tf-gatekeeper/pkg/contextengine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/gate"
	"github.com/TheBearguy/tf-gatekeeper/pkg/gitutil"
	"github.com/TheBearguy/tf-gatekeeper/pkg/intent"
	"github.com/TheBearguy/tf-gatekeeper/pkg/plan"
	"github.com/TheBearguy/tf-gatekeeper/pkg/policy"
	"github.com/TheBearguy/tf-gatekeeper/pkg/stores"
	"github.com/TheBearguy/tf-gatekeeper/pkg/telemetry"
	"github.com/TheBearguy/tf-gatekeeper/pkg/terraform"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// shutdownTimeout bounds trace export and metric flushing at exit.
const shutdownTimeout = 10 * time.Second

// runtime holds the per-invocation dependencies of a command.
type runtime struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	store   stores.Store
	runner  *terraform.Runner
	workDir string
	actor   string
}

// newRuntime builds telemetry, the audit store and the terraform runner
// for workDir. The audit store is optional: when it cannot be opened the
// command continues without an audit trail.
func newRuntime(ctx context.Context, cfg *config.Config, workDir string) (*runtime, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		tel:     tel,
		workDir: workDir,
		actor:   currentActor(),
		runner: terraform.NewRunner(tel.Logger.Zerolog(), terraform.Options{
			Binary:  cfg.Terraform.Binary,
			WorkDir: workDir,
		}),
	}

	if cfg.Audit.Enabled {
		store, err := stores.Open(ctx, cfg.Audit.DBPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Audit.DBPath).Msg("Audit store unavailable, continuing without audit trail")
		} else {
			rt.store = store
			stores.NewRecorder(store, rt.actor, tel.Logger.Zerolog()).Attach(tel.Events)
		}
	}

	return rt, nil
}

func (rt *runtime) logger() zerolog.Logger {
	return rt.tel.Logger.Zerolog()
}

// Close flushes telemetry and closes the audit store.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := rt.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close audit store")
		}
	}
}

// newPolicyEngine compiles the configured policy directory, or the
// built-in policies when the directory does not exist.
func (rt *runtime) newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	eng := policy.NewEngine(rt.logger(), rt.cfg.PolicyOptions())
	return eng, loadPolicyDir(ctx, eng, rt.cfg.OPA.PolicyDir, rt.cfg.CriticalTypes())
}

// loadPolicyDir compiles dir into eng. Only a missing directory falls back
// to the built-in policies; any other stat failure is a compile error.
func loadPolicyDir(ctx context.Context, eng *policy.Engine, dir string, criticalTypes []string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Debug().Str("policy_dir", dir).Msg("Policy directory not found, using built-in policies")
		return eng.LoadBuiltin(ctx, criticalTypes)
	case err != nil:
		return engine.NewPolicyCompileError(fmt.Sprintf("cannot read policy directory %s", dir), err)
	case !info.IsDir():
		return engine.NewPolicyCompileError(fmt.Sprintf("policy path %s is not a directory", dir), nil)
	}
	return eng.LoadPolicies(ctx, []string{dir})
}

// newGate wires the four phases from the configuration.
func (rt *runtime) newGate(ctx context.Context, intentMode intent.Mode, driftSnapshot string) (*gate.Gate, error) {
	cfg := rt.cfg
	logger := rt.logger()

	policyEngine, err := rt.newPolicyEngine(ctx)
	if err != nil {
		return nil, err
	}

	temporal, err := cfg.TemporalOptions()
	if err != nil {
		return nil, err
	}
	analyzer := contextengine.NewAnalyzer(logger, contextengine.Options{
		Temporal: temporal,
		Drift:    rt.driftSource(driftSnapshot),
	})

	intentOpts := intent.Options{
		Mode:           intentMode,
		Timeout:        cfg.Phases.Intent.Timeout,
		GenerateReport: cfg.Phases.Intent.GenerateReport,
	}
	if intentMode == intent.ModeDelegated {
		backend, err := intent.NewBackend(cfg.BackendConfig())
		if err != nil {
			// Delegated mode degrades to keyword analysis without a backend.
			log.Warn().Err(err).Msg("Reasoning backend unavailable")
		} else {
			intentOpts.Backend = backend
		}
	}

	ingestor := plan.NewIngestor(logger, plan.Options{
		Thresholds:    cfg.BlastRadius.Thresholds,
		CriticalTypes: cfg.CriticalTypes(),
	})

	return gate.New(rt.tel, ingestor, policyEngine, analyzer,
		intent.NewValidator(logger, intentOpts),
		gate.Options{StrictMode: cfg.OPA.StrictMode}), nil
}

func (rt *runtime) driftSource(snapshot string) contextengine.DriftSource {
	drift := rt.cfg.Phases.Drift
	switch {
	case snapshot != "":
		return contextengine.NewSnapshotFileSource(snapshot)
	case !drift.Enabled:
		return nil
	case drift.Source == "snapshot":
		return contextengine.NewSnapshotFileSource(drift.SnapshotPath)
	default:
		return contextengine.NewTerraformSource(rt.runner, drift.RefreshTimeout, drift.ShowTimeout)
	}
}

// lastAppliedVersion reads the version lock from the audit store.
func (rt *runtime) lastAppliedVersion(ctx context.Context) string {
	if rt.store == nil {
		return ""
	}
	version, err := rt.store.LastAppliedVersion(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read last applied terraform version")
		return ""
	}
	return version
}

// saveEvaluation persists the report. Failures are logged only.
func (rt *runtime) saveEvaluation(ctx context.Context, report *gate.Report) {
	if rt.store == nil || report == nil {
		return
	}
	if err := rt.store.SaveEvaluation(ctx, evaluationRecord(report)); err != nil {
		log.Warn().Err(err).Str("run_id", report.RunID).Msg("Failed to save evaluation")
	}
}

// evaluationRecord flattens a report into its audit row.
func evaluationRecord(r *gate.Report) *stores.Evaluation {
	completed := r.StartedAt.Add(r.Duration)
	eval := &stores.Evaluation{
		ID:               r.RunID,
		PlanPath:         r.PlanPath,
		Status:           string(engine.DecisionPending),
		ExitCode:         r.ExitCode(),
		BlastLevel:       string(r.BlastRadius.Level),
		TotalResources:   r.BlastRadius.TotalResources,
		DenyCount:        len(r.Policy.Deny),
		WarnCount:        len(r.Policy.Warn),
		OverrideMode:     string(engine.OverrideNone),
		IntentAligned:    true,
		TerraformVersion: r.Metadata.TerraformVersion,
		StartedAt:        r.StartedAt,
		CompletedAt:      &completed,
	}

	if d := r.Decision; d != nil {
		eval.Status = string(d.Status)
		eval.ShouldBlock = d.ShouldBlock
		eval.OverrideMode = string(d.OverrideMode)
		if d.IncidentID != "" {
			incident := d.IncidentID
			eval.IncidentID = &incident
		}
	}
	if c := r.Context; c != nil {
		eval.RiskLevel = c.Temporal.RiskLevel.String()
		eval.DriftStatus = string(c.Drift.Status)
	}
	if v := r.Intent; v != nil {
		eval.IntentAligned = v.Aligned
	}
	if r.Error != "" {
		msg := r.Error
		eval.Error = &msg
	}

	var sb strings.Builder
	if err := r.WriteJSON(&sb); err == nil {
		eval.Report = sb.String()
	}
	return eval
}

// commitInfo resolves the commit message and hash for dir. An explicit
// message wins; outside a git work tree both are empty.
func commitInfo(ctx context.Context, dir, message string) (msg, hash string) {
	repo, err := gitutil.Open(ctx, dir)
	if err != nil {
		if !errors.Is(err, gitutil.ErrNotRepository) {
			log.Debug().Err(err).Msg("Failed to open git repository")
		}
		return message, ""
	}

	commit, err := repo.HeadCommit(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to read HEAD commit")
		return message, ""
	}
	if message == "" {
		message = commit.Message
	}
	return message, commit.Hash
}

func currentActor() string {
	for _, env := range []string{"TFGATE_ACTOR", "GITHUB_ACTOR", "GITLAB_USER_LOGIN", "USER"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
