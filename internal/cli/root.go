// Package cli implements the slurm-proxy command line client.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/slurmproxy/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking SLURM_PROXY_SERVER first.
func defaultServer() string {
	if s := os.Getenv("SLURM_PROXY_SERVER"); s != "" {
		return s
	}
	return "http://localhost:5001"
}

// NewRootCmd creates the root cobra command for the slurm-proxy CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "slurm-proxy",
		Short: "Submit and monitor batch jobs through the proxy",
		Long:  "slurm-proxy submits tasks to a remote SLURM cluster through the proxy API and tracks them to completion.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Proxy server URL (or SLURM_PROXY_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newMonitorCmd(),
		newListCmd(),
		newCancelCmd(),
		newTemplatesCmd(),
	)

	return root
}
