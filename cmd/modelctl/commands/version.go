package commands

import (
	"runtime"

	"github.com/labelkit/model-server/pkg/updatecheck"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("modelctl version %s\n", updatecheck.Version)
			cmd.Printf("  Git commit: %s\n", updatecheck.GitCommit)
			cmd.Printf("  Built:      %s\n", updatecheck.BuildDate)
			cmd.Printf("  Go version: %s\n", runtime.Version())
			cmd.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
			if !check {
				return nil
			}

			info, err := updatecheck.Check(cmd.Context(), nil, updatecheck.Version)
			if err != nil {
				return err
			}
			if info.HasUpdate {
				cmd.Printf("A new version is available: %s\n  %s\n", info.LatestVersion, info.DownloadURL)
			} else {
				cmd.Println("modelctl is up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check for a newer release")
	return cmd
}
