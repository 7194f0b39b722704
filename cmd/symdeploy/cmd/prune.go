package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/symdeploy/internal/logger"
)

var (
	// pruneKeep overrides the configured retention.
	pruneKeep int
	// pruneDryRun only lists what would be removed.
	pruneDryRun bool

	pruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Remove revision directories beyond the retention count.",
		Long: `Keeps the newest revision directories and removes the rest, oldest first.
The targets of current and prev are never removed. Without --keep the
retention from the settings file is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			d, err := loadDeployer()
			if err != nil {
				return err
			}

			names, err := d.Prune(ctx, pruneKeep, pruneDryRun)

			_, _ = fmt.Fprint(cmd.OutOrStdout(), printer().Pruned(names, pruneDryRun))

			if err != nil {
				logger.ErrorKV(ctx, "Prune failed", "error", err)
			}

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 0, "number of revision directories to keep")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "print what would be removed")

	rootCmd.AddCommand(pruneCmd)
}
