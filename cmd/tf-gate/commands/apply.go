package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/stores"
	"github.com/TheBearguy/tf-gatekeeper/pkg/terraform"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newApplyCommand() *cobra.Command {
	var (
		flags       evalFlags
		binaryPlan  string
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "apply [plan.json]",
		Short: "Validate a plan and apply it if the gate allows",
		Long: `Run the gate against a plan JSON and, when the decision is ALLOWED or
OVERRIDDEN by break-glass, run terraform apply on the matching binary plan.

The binary plan defaults to the JSON path without its .json suffix
(tfplan.json -> tfplan). A successful apply records the terraform version
as the last applied version for the version-lock check.`,
		Example: `  # Validate and apply with a confirmation prompt
  tf-gate apply tfplan.json

  # Non-interactive apply in CI
  tf-gate apply tfplan.json --auto-approve

  # Emergency apply
  tf-gate apply tfplan.json --break-glass INC-2024-001 --auto-approve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			planPath, err := flags.planPath(args)
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}
			if binaryPlan == "" {
				binaryPlan = strings.TrimSuffix(planPath, ".json")
			}
			if binaryPlan == planPath {
				return &ExitError{Code: engine.ExitPipelineError,
					Err: fmt.Errorf("cannot derive binary plan from %s, use --plan-file", planPath)}
			}
			if _, err := os.Stat(binaryPlan); err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: fmt.Errorf("binary plan not found: %w", err)}
			}

			cfg, err := loadConfig(flags.overrides(cmd))
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}

			rt, err := newRuntime(ctx, cfg, flags.terraformDir)
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}
			defer rt.Close()

			report, err := rt.evaluate(ctx, planPath, &flags)
			if werr := writeReport(cmd, report); werr != nil {
				log.Warn().Err(werr).Msg("Failed to write report")
			}
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}

			switch report.Decision.Status {
			case engine.DecisionAllowed, engine.DecisionOverridden:
			default:
				fmt.Fprintln(cmd.ErrOrStderr(), "Validation failed - not proceeding with apply")
				return &ExitError{Code: report.ExitCode()}
			}
			if report.Decision.ShouldBlock && report.Decision.OverrideMode == engine.OverrideShadow {
				fmt.Fprintln(cmd.ErrOrStderr(), "Shadow mode: the gate would have blocked this apply")
			}

			proceed, err := approveApply(cmd.InOrStdin(), cmd.OutOrStdout(), autoApprove)
			if err != nil {
				return err
			}
			if !proceed {
				log.Info().Str("run_id", report.RunID).Msg("Apply cancelled at confirmation")
				return nil
			}

			if err := rt.apply(ctx, report.RunID, binaryPlan, report.Metadata.TerraformVersion, cmd.OutOrStdout()); err != nil {
				return err
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&binaryPlan, "plan-file", "", "binary plan to apply (default: plan JSON path without .json)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the confirmation prompt")

	return cmd
}

// apply runs terraform apply and records the outcome.
func (rt *runtime) apply(ctx context.Context, runID, binaryPlan, planVersion string, out io.Writer) error {
	runner := terraform.NewRunner(rt.logger(), terraform.Options{
		Binary:  rt.cfg.Terraform.Binary,
		WorkDir: rt.workDir,
		Output:  out,
	})

	version := planVersion
	if v, err := runner.Version(ctx); err == nil {
		version = v
	}

	log.Info().Str("plan", binaryPlan).Str("terraform_version", version).Msg("Running terraform apply")
	_, applyErr := runner.Apply(ctx, binaryPlan)

	rt.tel.Events.PublishApplyCompleted(runID, version, applyErr)
	if rt.store != nil {
		record := &stores.Apply{
			RunID:            runID,
			PlanPath:         binaryPlan,
			TerraformVersion: version,
			Success:          applyErr == nil,
		}
		if applyErr != nil {
			msg := applyErr.Error()
			record.Error = &msg
		}
		if err := rt.store.RecordApply(ctx, record); err != nil {
			log.Warn().Err(err).Msg("Failed to record apply")
		}

		target := runID
		if err := rt.store.CreateAuditEntry(ctx, &stores.AuditEntry{
			Action:   stores.AuditActionApply,
			Actor:    rt.actor,
			TargetID: &target,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to audit apply")
		}
	}

	if applyErr != nil {
		return fmt.Errorf("terraform apply failed: %w", applyErr)
	}
	log.Info().Str("run_id", runID).Msg("Apply completed")
	return nil
}

// approveApply prompts for confirmation unless autoApprove is set. Declining
// prints a cancellation notice and returns false without an error, so the
// command exits 0 rather than with the blocked code.
func approveApply(in io.Reader, out io.Writer, autoApprove bool) (bool, error) {
	if autoApprove {
		return true, nil
	}
	ok, err := confirm(in, out, "Do you want to proceed with terraform apply?")
	if err != nil || ok {
		return ok, err
	}
	fmt.Fprintln(out, "Apply cancelled")
	return false, nil
}

func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "\n%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
