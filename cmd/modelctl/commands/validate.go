package commands

import (
	"fmt"
	"strings"

	"github.com/labelkit/model-server/pkg/inference/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var errValidationFailed = errors.New("validation failed")

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the enabled model configurations",
		Long: `Read every model listed in models.yaml, validate its configuration and
check that a backend is registered for it. Exits non-zero when any model
would be skipped by the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts)
		},
	}
}

// modelStatus is the outcome of checking one catalog entry.
type modelStatus struct {
	id     string
	status string
	detail string
}

func checkEntries(opts *options) ([]modelStatus, []config.Warning, error) {
	entries, err := readEntries(opts.catalog())
	if err != nil {
		return nil, nil, err
	}

	var configs []*config.ModelConfig
	for _, e := range entries {
		if e.err == nil {
			configs = append(configs, e.cfg)
		}
	}
	res := config.Validate(configs)

	statuses := make([]modelStatus, 0, len(entries))
	for _, e := range entries {
		st := modelStatus{id: e.id, status: "ok"}
		switch {
		case e.err != nil:
			st.status, st.detail = "unreadable", e.err.Error()
		case res.Failed(e.id):
			var msgs []string
			for _, verr := range res.ErrorsFor(e.id) {
				msgs = append(msgs, verr.Error())
			}
			st.status, st.detail = "invalid", strings.Join(msgs, "; ")
		default:
			if _, err := opts.factory.Resolve(e.cfg.ModelID); err != nil {
				st.status, st.detail = "unregistered", err.Error()
			} else {
				st.detail = e.cfg.DisplayName
			}
		}
		opts.log.WithField("model", e.id).Debugf("Checked model: %s", st.status)
		statuses = append(statuses, st)
	}
	return statuses, res.Warnings, nil
}

func runValidate(cmd *cobra.Command, opts *options) error {
	statuses, warnings, err := checkEntries(opts)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		cmd.Println("No models enabled")
		return nil
	}

	table := newTable(cmd.OutOrStdout(), "MODEL", "STATUS", "DETAILS")
	failed := 0
	for _, st := range statuses {
		if st.status != "ok" {
			failed++
		}
		if err := table.Append([]string{st.id, st.status, st.detail}); err != nil {
			return errors.Wrap(err, "rendering table")
		}
	}
	if err := table.Render(); err != nil {
		return errors.Wrap(err, "rendering table")
	}

	for _, w := range warnings {
		cmd.PrintErrf("warning: [%s] %s\n", w.Key, w)
	}
	if failed > 0 {
		return errors.Wrap(errValidationFailed, fmt.Sprintf("%d of %d model(s)", failed, len(statuses)))
	}
	cmd.Printf("All %d model(s) are valid\n", len(statuses))
	return nil
}
