package commands

import (
	"context"
	"fmt"

	"github.com/TheBearguy/tf-gatekeeper/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	jsonOutput bool

	buildInfo struct {
		version   string
		commit    string
		buildDate string
	}
)

// ExitError makes the process exit with Code. Err, when set, is the
// underlying failure; a nil Err means the outcome was already reported.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildInfo.version = version
	buildInfo.commit = commit
	buildInfo.buildDate = buildDate

	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tf-gate",
		Short: "tf-gate - Terraform deployment gate",
		Long: `tf-gate gates terraform apply behind automated safety checks run against
a machine-readable plan.

Pipeline:
  1. Ingestion and blast radius classification
  2. Policy-as-code evaluation (embedded OPA)
  3. Context: temporal risk, drift conflicts, version lock
  4. Intent: commit message against the change set (advisory)

Exit codes: 0 allowed, 1 blocked, 42 break-glass override, 2 pipeline error.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel == "" {
				return nil
			}
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			log.Logger = log.Logger.Level(level)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: tf-gate.yaml found upward)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newCheckPoliciesCommand())
	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newAuditCommand())

	return rootCmd
}

// loadConfig loads the configuration with the global flag overrides
// followed by the command's own.
func loadConfig(overrides ...config.Override) (*config.Config, error) {
	all := []config.Override{func(c *config.Config) {
		c.Telemetry.ServiceVersion = buildInfo.version
		if logLevel != "" {
			c.Telemetry.Logging.Level = logLevel
		}
	}}
	all = append(all, overrides...)

	cfg, err := config.Load(configPath, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
