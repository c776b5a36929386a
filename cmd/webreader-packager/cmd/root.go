package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CerolBrisingr/comic-sidebar/internal/config"
	"github.com/CerolBrisingr/comic-sidebar/internal/logger"
	"github.com/CerolBrisingr/comic-sidebar/internal/service/packager"
	"github.com/CerolBrisingr/comic-sidebar/internal/version"
)

var (
	// options collects flag values for the packager.
	options packager.Options
	// logLevel is the minimum level printed to stderr.
	logLevel string

	// rootCmd packages the extension found in the working directory.
	rootCmd = &cobra.Command{
		Use:   "webreader-packager",
		Short: "Package the web reader extension into an .xpi archive",
		Long: `Reads the version from manifest.json, zips the editor, icons, options,
popup, scripts and sidebar directories together with the manifest, and writes
../webReader-<version>.xpi with every "." of the version replaced by "_".

Run it from the extension checkout. Settings can be kept in ` + config.DefaultConfigFilename + `
(see the init command); flags take precedence over the file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if !cmd.Flags().Changed("dirs") {
				options.SourceDirs = nil
			}

			return packager.Run(ctx, &options)
		},
	}
)

// Execute runs the packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		logger.ErrorKV(context.Background(), "Packaging failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&options.ConfigPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+" if present)")
	flags.StringVarP(&options.ManifestPath, "manifest", "m", "", "path to the extension manifest (default "+config.DefaultManifestFilename+")")
	flags.StringVarP(&options.OutputDir, "output-dir", "o", "", "directory receiving the archive (default "+config.DefaultOutputDir+")")
	flags.StringSliceVar(&options.SourceDirs, "dirs", config.DefaultSourceDirs(), "comma-separated source directories to archive")
	flags.BoolVar(&options.Strict, "strict", false, "fail when a source directory is missing")
	flags.BoolVar(&options.Reproducible, "reproducible", false, "stamp every member with a fixed time for byte-identical archives")
	flags.BoolVar(&options.Describe, "describe", false, "write a YAML release description next to the archive")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(initCmd)
}
