package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/symdeploy/internal/logger"
)

//nolint:gochecknoglobals // Cobra commands are package level by convention.
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Swap current and prev and restart the service.",
	Long: `Points current at the previous release and prev at the one that was active,
then restarts the service. Running it twice returns to where you started.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		d, err := loadDeployer()
		if err != nil {
			return err
		}

		state, err := d.Rollback(ctx)
		if err != nil {
			logger.ErrorKV(ctx, "Rollback failed", "error", err)
			return err
		}

		_, err = fmt.Fprint(cmd.OutOrStdout(), printer().State(state))

		return err
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(rollbackCmd)
}
