package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra commands are package level by convention.
var releasesCmd = &cobra.Command{
	Use:     "releases",
	Aliases: []string{"ls"},
	Short:   "List revision directories on the host.",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		d, err := loadDeployer()
		if err != nil {
			return err
		}

		releases, err := d.Releases(ctx)
		if err != nil {
			return err
		}

		table, err := printer().Releases(releases)
		if err != nil {
			return err
		}

		_, err = fmt.Fprint(cmd.OutOrStdout(), table)

		return err
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(releasesCmd)
}
