package cli

import (
	"github.com/spf13/cobra"
)

// Execute builds and runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "outlit-agent",
		Short: "Batches analytics events and delivers them to the Outlit ingest API",
		Long: `outlit-agent collects track, identify, stage and billing events from local
sources (stdin, files, syslog, journal, HTTP) and delivers them in batches.

Events are queued in memory and flushed when a batch fills up, on a fixed
interval, and once more on shutdown. A batch that fails to send is retried
ahead of newer events.

Hot-reload: When a config file is specified, ingestor changes are applied
without requiring a restart.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error; default from config)")

	rootCmd.AddCommand(
		NewRunCmd(&cfgFile, &logLevel),
		NewValidateCmd(&cfgFile),
		NewSendCmd(&cfgFile, &logLevel),
		NewVersionCmd(),
	)

	return rootCmd
}
