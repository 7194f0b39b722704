package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/symdeploy/internal/config"
	"github.com/oshokin/symdeploy/internal/logger"
	"github.com/oshokin/symdeploy/internal/output"
	"github.com/oshokin/symdeploy/internal/service/deployer"
	"github.com/oshokin/symdeploy/internal/version"
)

var (
	// configPath stores the path to the settings YAML file.
	configPath string
	// logLevel is the minimum level written to stderr.
	logLevel string
	// noColor disables colored output.
	noColor bool

	// rootCmd is the base command; every operation is a subcommand.
	rootCmd = &cobra.Command{
		Use:   "symdeploy",
		Short: "Ship a build to a remote host and switch to it with a symlink.",
		Long: `Deploys the checked-out revision of the current repository to a single host over SSH.

Every revision is unpacked into its own directory under the remote deploy root.
The "current" symlink points at the active revision and "prev" at the one before it,
so a rollback is a symlink swap. Old revision directories beyond the retention count
are removed after each deploy.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
	}
)

// Execute runs the symdeploy CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func loadDeployer() (*deployer.Deployer, error) {
	return deployer.Load(&deployer.Options{ConfigPath: configPath})
}

func printer() *output.Printer {
	return output.New(noColor)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to settings file")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
}
