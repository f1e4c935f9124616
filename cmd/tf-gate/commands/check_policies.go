package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/config"
	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCheckPoliciesCommand() *cobra.Command {
	var (
		policyDir   string
		watch       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "check-policies",
		Short: "Compile the policy set and report errors",
		Long: `Load and compile every .rego file in the policy directory without
evaluating a plan. The built-in policies are checked when the directory
does not exist.

With --watch the directory is recompiled on every change until interrupted,
and reload metrics are served on --metrics-addr.`,
		Example: `  # Compile the configured policies
  tf-gate check-policies

  # Recompile on save while editing policies
  tf-gate check-policies --policy-dir ./policies --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(func(c *config.Config) {
				if cmd.Flags().Changed("policy-dir") {
					c.OPA.PolicyDir = policyDir
				}
				if metricsAddr != "" {
					c.Telemetry.Metrics.ListenAddress = metricsAddr
				}
			})
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}

			rt, err := newRuntime(ctx, cfg, ".")
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}
			defer rt.Close()

			eng, err := rt.newPolicyEngine(ctx)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Policy compilation failed: %v\n", err)
				return &ExitError{Code: engine.ExitBlocked}
			}
			if err := writePolicies(cmd, eng); err != nil {
				return err
			}

			if !watch {
				return nil
			}

			dir := cfg.OPA.PolicyDir
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return &ExitError{Code: engine.ExitPipelineError, Err: fmt.Errorf("cannot watch %s: not a directory", dir)}
			}

			loader := policy.NewLoader(rt.logger())
			err = loader.Watch(ctx, []string{dir}, func(policies []policy.Policy) error {
				err := eng.SetPolicies(ctx, policies)
				rt.tel.Metrics.RecordPolicyReload(err)
				rt.tel.Events.PublishPolicyReloaded(len(policies), err)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "[%s] compilation failed: %v\n", time.Now().Format(time.TimeOnly), err)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] recompiled %d policies\n", time.Now().Format(time.TimeOnly), len(policies))
				return nil
			})
			if err != nil {
				return &ExitError{Code: engine.ExitPipelineError, Err: err}
			}
			defer func() {
				if err := loader.StopWatching(); err != nil {
					log.Warn().Err(err).Msg("Failed to stop policy watcher")
				}
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "\nWatching %s for changes (Ctrl+C to stop)\n", dir)
			if addr := cfg.Telemetry.Metrics.ListenAddress; addr != "" {
				log.Info().Str("addr", addr).Msg("Serving metrics")
				return rt.tel.Metrics.Serve(ctx, addr)
			}
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&policyDir, "policy-dir", "p", "", "directory containing Rego policy files")
	cmd.Flags().BoolVar(&watch, "watch", false, "recompile on changes until interrupted")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address while watching")

	return cmd
}

func writePolicies(cmd *cobra.Command, eng *policy.Engine) error {
	policies := eng.ListPolicies()

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
			"compiled_at": eng.CompiledAt(),
			"policies":    policies,
		})
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tDESCRIPTION")
	for _, p := range policies {
		source := p.Source
		if p.Builtin {
			source = "built-in"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, source, p.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d policies compiled successfully\n", len(policies))
	return nil
}
