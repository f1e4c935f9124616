package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/TheBearguy/tf-gatekeeper/pkg/config"
	"github.com/TheBearguy/tf-gatekeeper/pkg/policy"
	"github.com/TheBearguy/tf-gatekeeper/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize tf-gate in the current directory",
		Long: `Write a default tf-gate.yaml and copy the built-in Rego policies into
the policy directory so they can be reviewed and edited.

Existing files are left alone unless --force is given.`,
		Example: `  # Initialize in the current directory
  tf-gate init

  # Overwrite an existing setup
  tf-gate init --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			path := configPath
			if path == "" {
				path = config.FileNames[0]
			}
			cfg := config.Default()
			base := filepath.Dir(path)

			fmt.Fprintf(out, "Initializing tf-gate in %s\n\n", base)

			// Step 1: configuration
			written, err := writeIfAbsent(path, force, cfg.Save)
			if err != nil {
				return err
			}
			printWritten(out, written, path)

			// Step 2: policies
			policyDir := filepath.Join(base, cfg.OPA.PolicyDir)
			if err := os.MkdirAll(policyDir, 0o755); err != nil {
				return fmt.Errorf("failed to create policy directory: %w", err)
			}
			for _, p := range policy.GetBuiltinPolicies(cfg.CriticalTypes()) {
				file := filepath.Join(policyDir, p.Name+".rego")
				written, err := writeIfAbsent(file, force, func(name string) error {
					return os.WriteFile(name, []byte(p.Rego), 0o644)
				})
				if err != nil {
					return err
				}
				printWritten(out, written, file)
			}

			// Step 3: audit trail
			dbPath := filepath.Join(base, cfg.Audit.DBPath)
			if err := auditInit(cmd.Context(), dbPath, path); err != nil {
				log.Warn().Err(err).Msg("Failed to initialize audit store")
			} else {
				fmt.Fprintf(out, "  created  %s\n", dbPath)
			}

			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintln(out, "  1. Review tf-gate.yaml and the policies directory")
			fmt.Fprintln(out, "  2. tf-gate plan")
			fmt.Fprintln(out, "  3. tf-gate validate")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

// writeIfAbsent calls write for path unless it exists and force is unset.
func writeIfAbsent(path string, force bool, write func(string) error) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	if err := write(path); err != nil {
		return false, err
	}
	return true, nil
}

func printWritten(out io.Writer, written bool, path string) {
	if written {
		fmt.Fprintf(out, "  created  %s\n", path)
		return
	}
	fmt.Fprintf(out, "  exists   %s\n", path)
}

func auditInit(ctx context.Context, dbPath, configFile string) error {
	store, err := stores.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	target := configFile
	return store.CreateAuditEntry(ctx, &stores.AuditEntry{
		Action:   stores.AuditActionInit,
		Actor:    currentActor(),
		TargetID: &target,
	})
}
