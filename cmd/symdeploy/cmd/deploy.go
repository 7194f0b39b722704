package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/symdeploy/internal/logger"
)

//nolint:gochecknoglobals // Cobra commands are package level by convention.
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Build, test, package and activate the current revision.",
	Long: `Runs the whole deploy:

  1. checks that the application config exists and the working tree is clean,
  2. runs the build and test scripts,
  3. verifies the remote deploy root and data files,
  4. packs <revision>.zip and takes the deploy lease,
  5. uploads and unzips it into <app_dir>/<revision>,
  6. stops the service, moves current to prev, points current at the new revision,
  7. installs the init script on first deploy and starts the service,
  8. removes revision directories beyond the retention count.

A failure after the symlinks were touched is reported as a partial activation;
use "symdeploy rollback" to return to the previous release.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		d, err := loadDeployer()
		if err != nil {
			return err
		}

		started := time.Now()

		report, err := d.Deploy(ctx)
		if err != nil {
			logger.ErrorKV(ctx, "Deploy failed", "error", err)
			return err
		}

		_, err = fmt.Fprint(cmd.OutOrStdout(), printer().Report(report, time.Since(started)))

		return err
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(deployCmd)
}
