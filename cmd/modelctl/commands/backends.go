package commands

import (
	"github.com/spf13/cobra"
)

func newBackendsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the model ids with a compiled-in backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range opts.factory.IDs() {
				cmd.Println(id)
			}
			return nil
		},
	}
}
