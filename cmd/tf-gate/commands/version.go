package commands

import (
	"fmt"
	goruntime "runtime"

	opaversion "github.com/open-policy-agent/opa/v1/version"
	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	OPA       string `json:"opa_version"`
	Go        string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:   buildInfo.version,
				Commit:    buildInfo.commit,
				BuildDate: buildInfo.buildDate,
				OPA:       opaversion.Version,
				Go:        goruntime.Version(),
				Platform:  goruntime.GOOS + "/" + goruntime.GOARCH,
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, info)
			}

			fmt.Fprintf(out, "tf-gate %s\n", info.Version)
			fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  built:      %s\n", info.BuildDate)
			fmt.Fprintf(out, "  opa:        %s\n", info.OPA)
			fmt.Fprintf(out, "  go:         %s %s\n", info.Go, info.Platform)
			return nil
		},
	}
}
