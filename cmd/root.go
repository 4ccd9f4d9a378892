package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "webhookrelay",
	Short: "Relay Slack-style webhooks to Glue",
	Long:  "Receives Slack-compatible incoming webhooks, converts them to Glue messages, and forwards them to the webhook configured for each service.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yml (default: $WEBHOOKRELAY_CONFIG, $CONFIG_FILE, ./config.yml)")
}
