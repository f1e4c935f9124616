package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/stores"
	"github.com/spf13/cobra"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the local audit trail",
		Long: `Inspect the SQLite audit trail written by validate and apply: past
evaluations, overrides and applies.`,
	}

	cmd.AddCommand(newAuditListCommand())
	cmd.AddCommand(newAuditEvaluationsCommand())

	return cmd
}

func newAuditListCommand() *cobra.Command {
	var (
		action string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Example: `  # Every break-glass override
  tf-gate audit list --action override.break_glass`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAuditStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			var filter *string
			if action != "" {
				filter = &action
			}
			entries, err := store.ListAuditEntries(cmd.Context(), filter, limit, 0)
			if err != nil {
				return fmt.Errorf("failed to list audit entries: %w", err)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tACTOR\tTARGET")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format(time.DateTime), e.Action, e.Actor, deref(e.TargetID))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "only entries with this action")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")

	return cmd
}

func newAuditEvaluationsCommand() *cobra.Command {
	var (
		status string
		since  time.Duration
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "evaluations",
		Short: "List past gate evaluations, newest first",
		Example: `  # Blocked runs of the last week
  tf-gate audit evaluations --status BLOCKED --since 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAuditStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := stores.EvaluationFilter{Limit: limit}
			if status != "" {
				filter.Status = &status
			}
			if since > 0 {
				from := time.Now().Add(-since)
				filter.Since = &from
			}

			evals, err := store.ListEvaluations(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list evaluations: %w", err)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), evals)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tRUN ID\tSTATUS\tEXIT\tBLAST\tDENY\tRISK\tOVERRIDE")
			for _, e := range evals {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%s\t%s\n",
					e.StartedAt.Local().Format(time.DateTime), e.ID, e.Status, e.ExitCode,
					e.BlastLevel, e.DenyCount, e.RiskLevel, e.OverrideMode)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only evaluations with this decision status")
	cmd.Flags().DurationVar(&since, "since", 0, "only evaluations started within this duration")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of evaluations")

	return cmd
}

func openAuditStore(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, &ExitError{Code: engine.ExitPipelineError, Err: err}
	}
	store, err := stores.Open(cmd.Context(), cfg.Audit.DBPath)
	if err != nil {
		return nil, &ExitError{Code: engine.ExitPipelineError, Err: fmt.Errorf("failed to open audit store: %w", err)}
	}
	return store, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
