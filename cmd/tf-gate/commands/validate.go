package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TheBearguy/tf-gatekeeper/pkg/config"
	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/gate"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// defaultPlanJSON is the plan file looked up in the terraform directory.
const defaultPlanJSON = "tfplan.json"

// evalFlags are the flags shared by validate and apply.
type evalFlags struct {
	policyDir      string
	terraformDir   string
	breakGlass     string
	shadowMode     bool
	commitMessage  string
	intentMode     string
	generateReport bool
	driftSnapshot  string
	metricsFile    string
	strict         bool
}

func (f *evalFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.policyDir, "policy-dir", "p", "", "directory containing Rego policy files")
	cmd.Flags().StringVarP(&f.terraformDir, "terraform-dir", "d", ".", "directory containing the Terraform configuration")
	cmd.Flags().StringVar(&f.breakGlass, "break-glass", "", "force the apply through for the given incident ID")
	cmd.Flags().BoolVar(&f.shadowMode, "shadow-mode", false, "report the decision without blocking")
	cmd.Flags().StringVarP(&f.commitMessage, "commit-message", "m", "", "stated intent (default: latest git commit message)")
	cmd.Flags().StringVar(&f.intentMode, "intent", "", "intent validation mode (none, keyword, delegated)")
	cmd.Flags().BoolVar(&f.generateReport, "generate-report", false, "request an impact report from the reasoning backend")
	cmd.Flags().StringVar(&f.driftSnapshot, "drift-snapshot", "", "refresh-only plan JSON to check for drift")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	cmd.Flags().BoolVar(&f.strict, "strict", true, "any deny finding blocks (otherwise only on RED)")
}

// overrides maps the changed flags onto the configuration.
func (f *evalFlags) overrides(cmd *cobra.Command) config.Override {
	return func(c *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("policy-dir") {
			c.OPA.PolicyDir = f.policyDir
		}
		if flags.Changed("strict") {
			c.OPA.StrictMode = f.strict
		}
		if flags.Changed("intent") {
			c.Phases.Intent.Mode = f.intentMode
		}
		if flags.Changed("generate-report") {
			c.Phases.Intent.GenerateReport = f.generateReport
		}
		if flags.Changed("metrics-file") {
			c.Telemetry.Metrics.TextfilePath = f.metricsFile
		}
	}
}

func (f *evalFlags) planPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	path := filepath.Join(f.terraformDir, defaultPlanJSON)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no plan file specified and %s not found", path)
	}
	return path, nil
}

func newValidateCommand() *cobra.Command {
	var flags evalFlags

	cmd := &cobra.Command{
		Use:   "validate [plan.json]",
		Short: "Evaluate a Terraform plan through all gate phases",
		Long: `Evaluate a Terraform plan JSON (terraform show -json) through the gate.

This command checks:
  - Blast radius of the change set (GREEN, YELLOW, RED)
  - Policy findings from the Rego policy directory or the built-in set
  - Temporal risk, drift conflicts and terraform version changes
  - Whether the commit message matches the changes (advisory)

Without an argument, tfplan.json in --terraform-dir is evaluated.`,
		Example: `  # Validate the plan in the current directory
  tf-gate validate

  # Validate with custom policies and a JSON report
  tf-gate validate plan.json --policy-dir ./policies --json

  # Emergency change under an incident
  tf-gate validate plan.json --break-glass INC-2024-001

  # Roll out in observe-only mode
  tf-gate validate plan.json --shadow-mode`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planPath, err := flags.planPath(args)
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}

			cfg, err := loadConfig(flags.overrides(cmd))
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}

			rt, err := newRuntime(cmd.Context(), cfg, flags.terraformDir)
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}
			defer rt.Close()

			report, err := rt.evaluate(cmd.Context(), planPath, &flags)
			if werr := writeReport(cmd, report); werr != nil {
				log.Warn().Err(werr).Msg("Failed to write report")
			}
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}
			if code := report.ExitCode(); code != engine.ExitAllowed {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

// evaluate runs the gate for planPath and persists the result.
func (rt *runtime) evaluate(ctx context.Context, planPath string, flags *evalFlags) (*gate.Report, error) {
	mode, err := rt.cfg.IntentMode()
	if err != nil {
		return nil, err
	}

	g, err := rt.newGate(ctx, mode, flags.driftSnapshot)
	if err != nil {
		return nil, err
	}

	message, hash := commitInfo(ctx, flags.terraformDir, flags.commitMessage)

	log.Info().
		Str("plan", planPath).
		Str("intent", string(mode)).
		Bool("break_glass", flags.breakGlass != "").
		Bool("shadow", flags.shadowMode).
		Msg("Evaluating plan")

	report, err := g.Evaluate(ctx, gate.Request{
		PlanPath:      planPath,
		CommitMessage: message,
		GitCommit:     hash,
		Override: engine.Override{
			IncidentID: flags.breakGlass,
			Shadow:     flags.shadowMode,
		},
		LastAppliedVersion: rt.lastAppliedVersion(ctx),
	})
	rt.saveEvaluation(ctx, report)
	return report, err
}

func writeReport(cmd *cobra.Command, report *gate.Report) error {
	if report == nil {
		return nil
	}
	if jsonOutput {
		return report.WriteJSON(cmd.OutOrStdout())
	}
	return report.WriteConsole(cmd.OutOrStdout())
}
