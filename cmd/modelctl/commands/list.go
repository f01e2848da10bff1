package commands

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the enabled models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}
}

func runList(cmd *cobra.Command, opts *options) error {
	entries, err := readEntries(opts.catalog())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		cmd.Println("No models enabled")
		return nil
	}

	table := newTable(cmd.OutOrStdout(), "MODEL", "DISPLAY NAME", "MODE", "WIDGETS")
	for _, e := range entries {
		row := []string{e.id, "-", "-", "-"}
		if e.err == nil {
			row = []string{e.id, e.cfg.DisplayName, e.cfg.Mode(), strconv.Itoa(len(e.cfg.Widgets))}
		}
		if err := table.Append(row); err != nil {
			return errors.Wrap(err, "rendering table")
		}
	}
	return errors.Wrap(table.Render(), "rendering table")
}
