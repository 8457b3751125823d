package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cyclekit/internal/app"
	"cyclekit/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Parse and validate the config file without starting the host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(flagConfigPath).Parse()
			if err != nil {
				return err
			}
			if err := app.Validate(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d schedules)\n", flagConfigPath, len(cfg.Schedules))
			return nil
		},
	}
}
