package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tame",
		Short: "Classify agent session output and route notifications",
		Long: `tame watches the output of agent sessions, classifies each line
(errors, prompts waiting for input, completions, progress) and routes
notifications to the desktop, chat webhooks, Telegram and other services.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/tame/config.toml)")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newWatchCmd(opts),
		newConfigCmd(opts),
		newHistoryCmd(opts),
	)
	return cmd
}
