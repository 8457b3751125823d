package main

import (
	"github.com/spf13/cobra"
)

var (
	version = "dev"

	flagConfigPath string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cyclehost",
		Short:         "Run cyclekit plugins on a host main cycle",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "./config.json", "path to config file (json, yaml or toml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}
