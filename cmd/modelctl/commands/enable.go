package commands

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newEnableCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "enable MODEL [MODEL...]",
		Short: "Add models to the enabled list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setEnabled(cmd, opts, args, true)
		},
	}
}

func newDisableCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "disable MODEL [MODEL...]",
		Short: "Remove models from the enabled list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setEnabled(cmd, opts, args, false)
		},
	}
}

func setEnabled(cmd *cobra.Command, opts *options, ids []string, enabled bool) error {
	c := opts.catalog()
	verb := "Disabled"
	if enabled {
		verb = "Enabled"
	}
	for _, id := range ids {
		if enabled {
			if _, err := opts.factory.Resolve(id); err != nil {
				opts.log.Warnf("No backend is registered for %s; the server will skip it", id)
			}
		}
		if err := c.SetEnabled(id, enabled); err != nil {
			return errors.Wrapf(err, "updating %s", c.CatalogPath())
		}
		cmd.Printf("%s %s\n", verb, id)
	}
	return nil
}
