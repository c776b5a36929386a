package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/CerolBrisingr/comic-sidebar/internal/config"
	"github.com/CerolBrisingr/comic-sidebar/internal/logger"
)

var (
	// force allows init to replace an existing configuration file.
	force bool

	// initCmd writes the default configuration file.
	initCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := config.DefaultConfigFilename
			if len(args) > 0 {
				path = args[0]
			}

			if err := config.WriteDefault(path, force); err != nil {
				return err
			}

			logger.InfoKV(context.Background(), "Configuration written", "path", path)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing configuration file")
}
