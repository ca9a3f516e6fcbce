package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "icalbot",
		Short:         "icalbot - calendar reminders and queries for chat rooms",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd, flags)
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "bot.yaml", "Path to config file (.yaml or .toml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, error)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Connect to the chat network and serve commands and reminders",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runBot(cmd, flags)
			},
		},
		newCheckCmd(flags),
		newUpcomingCmd(flags),
		newInitCmd(flags),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
