package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/TheBearguy/tf-gatekeeper/pkg/config"
	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/plan"
	"github.com/TheBearguy/tf-gatekeeper/pkg/terraform"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var (
		out     string
		jsonOut string
	)

	cmd := &cobra.Command{
		Use:   "plan [terraform_dir]",
		Short: "Run terraform plan and export the plan JSON",
		Long: `Run terraform plan in the given directory, save the binary plan and
export it with terraform show -json so it can be passed to validate.

Relative --out and --json-out paths are resolved against terraform_dir.`,
		Example: `  # Plan the current directory
  tf-gate plan

  # Plan a module and write the JSON elsewhere
  tf-gate plan ./infra --json-out /tmp/plan.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}

			runner := terraform.NewRunner(log.Logger, terraform.Options{
				Binary:  cfg.Terraform.Binary,
				WorkDir: dir,
				Output:  cmd.OutOrStdout(),
			})

			log.Info().Str("dir", dir).Str("out", out).Msg("Running terraform plan")
			if _, err := runner.Plan(ctx, out); err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: fmt.Errorf("terraform plan failed: %w", err)}
			}

			// show runs in dir, dest is written by this process.
			dest := jsonOut
			if !filepath.IsAbs(dest) {
				dest = filepath.Join(dir, dest)
			}
			if err := runner.ExportPlanJSON(ctx, out, dest); err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: fmt.Errorf("failed to export plan JSON: %w", err)}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nPlan saved to %s\n", filepath.Join(dir, out))
			fmt.Fprintf(cmd.OutOrStdout(), "Plan JSON written to %s\n", dest)
			if err := printBlastRadius(ctx, cmd.OutOrStdout(), cfg, dest); err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nNext: tf-gate validate %s\n", dest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "tfplan", "binary plan file name")
	cmd.Flags().StringVarP(&jsonOut, "json-out", "j", defaultPlanJSON, "plan JSON file name")

	return cmd
}

// printBlastRadius classifies the exported plan JSON and prints its level.
func printBlastRadius(ctx context.Context, w io.Writer, cfg *config.Config, path string) error {
	ingestor := plan.NewIngestor(log.Logger, plan.Options{
		Thresholds:    cfg.BlastRadius.Thresholds,
		CriticalTypes: cfg.CriticalTypes(),
	})
	br, _, err := ingestor.Classify(ctx, path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Blast radius: %s (%d changes: %d create, %d update, %d delete, %d replace)\n",
		br.Level, br.TotalResources, br.CreateCount, br.UpdateCount, br.DeleteCount, br.ReplaceCount)
	if len(br.CriticalResources) > 0 {
		fmt.Fprintf(w, "Critical resources: %s\n", strings.Join(br.CriticalResources, ", "))
	}
	return nil
}
