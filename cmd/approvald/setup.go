package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/approval-watcher/internal/ui/setup"
)

func newSetupCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively write the config file and store secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgPath, false)
			if err != nil {
				return err
			}

			values := setup.ValuesFrom(cfg)
			if err := setup.NewForm(&values).RunWithContext(cmd.Context()); err != nil {
				return err
			}
			if err := values.Save(*cfgPath, cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", *cfgPath)
			return nil
		},
	}
}
