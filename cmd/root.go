// Package cmd defines and implements the CLI commands for the urlfetch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlfetch/internal/logging"
)

// newRootCmd creates the root command and attaches subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "urlfetch",
		Short: "Fetch a list of URLs concurrently and record what they return.",
		Long: `urlfetch reads one URL per line, fetches every URL with a bounded pool of
workers and writes one JSON line per successful response: the decoded body
for JSON documents and the page title for HTML documents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newFetchCmd(&cfgFile))

	return cmd
}

// Execute is the main entry point. Startup failures are logged and the
// process exits non-zero.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logger, logErr := logging.New(false)
		if logErr != nil {
			fmt.Fprintf(os.Stderr, "urlfetch: %v\n", err)
			os.Exit(1)
		}
		logger.Error("command execution failed", zap.Error(err))
		logging.Sync(logger)
		os.Exit(1)
	}
}
