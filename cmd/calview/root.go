package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/calview/config.yaml"

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "calview",
		Short: "Calendar widget backend",
		Long: `calview merges events from home automation calendar entities, ICS feeds
and Google calendars into a single colored list, caches it per visible window
and serves it to calendar widgets over HTTP.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to config file")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newEventsCmd(&configPath))
	cmd.AddCommand(newSourcesCmd(&configPath))
	return cmd
}

func execute() {
	root := newRootCmd()
	root.SetVersionTemplate(`{{printf "calview version %s\n" .Version}}`)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
