// Package commands implements the modelctl CLI commands.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/labelkit/model-server/pkg/inference/backends"
	"github.com/labelkit/model-server/pkg/inference/config"
	"github.com/labelkit/model-server/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigDir = "configs"

// options carries the global flags and shared state of one invocation.
type options struct {
	configDir string
	verbose   bool
	logJSON   bool

	log     logging.Logger
	factory backends.Factory
}

func (o *options) catalog() *config.Catalog {
	return config.NewCatalog(o.configDir)
}

// NewRootCmd builds the modelctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{factory: backends.Default()}

	configDir := os.Getenv("MODEL_SERVER_CONFIG_DIR")
	if configDir == "" {
		configDir = defaultConfigDir
	}

	rootCmd := &cobra.Command{
		Use:   "modelctl",
		Short: "Manage the model server configuration",
		Long: `modelctl validates and edits the model catalog of the model server and
inspects a running server.

Examples:
  modelctl validate
  modelctl enable yolo11n
  modelctl stats --url http://localhost:8000/metrics`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetOutput(cmd.ErrOrStderr())
			if opts.verbose {
				logger.SetLevel(logrus.DebugLevel)
			} else {
				logger.SetLevel(logrus.WarnLevel)
			}
			if opts.logJSON {
				logger.SetFormatter(&logrus.JSONFormatter{})
			}
			opts.log = logging.NewLogrusAdapter(logger).WithField("component", "modelctl")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", configDir, "Configuration root containing models.yaml")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(
		newValidateCmd(opts),
		newListCmd(opts),
		newEnableCmd(opts),
		newDisableCmd(opts),
		newBackendsCmd(opts),
		newStatsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return NewRootCmd().ExecuteContext(ctx)
}
