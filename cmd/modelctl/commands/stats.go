package commands

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labelkit/model-server/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const defaultMetricsURL = "http://localhost:8000/metrics"

func newStatsCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show prediction statistics of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: timeout}
			stats, err := metrics.Scrape(cmd.Context(), client, url)
			if err != nil {
				return errors.Wrapf(err, "reading %s", url)
			}
			if len(stats) == 0 {
				cmd.Println("No predictions recorded")
				return nil
			}

			table := newTable(cmd.OutOrStdout(), "MODEL", "SUCCEEDED", "FAILED", "MEAN LATENCY")
			for _, s := range stats {
				latency := time.Duration(s.MeanLatency * float64(time.Second)).Round(time.Millisecond)
				if err := table.Append([]string{
					s.Model,
					strconv.FormatUint(s.Successes, 10),
					strconv.FormatUint(s.Failures, 10),
					latency.String(),
				}); err != nil {
					return errors.Wrap(err, "rendering table")
				}
			}
			return errors.Wrap(table.Render(), "rendering table")
		},
	}
	cmd.Flags().StringVar(&url, "url", defaultMetricsURL, "Metrics endpoint of the server")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}
