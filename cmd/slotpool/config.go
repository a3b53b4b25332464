package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/slotpool/pkg/config"
)

func newConfigCommand() *cobra.Command {
	var configFile, output string

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Config resolves defaults, the optional configuration file, SLOTPOOL_* environment
variables and flags, validates the result and prints it as YAML.

Example:
  SLOTPOOL_POOL_CAPACITY=32 slotpool config --workers 8 --output slotpool.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			if output != "" {
				if err := cfg.Save(output); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", output)
				return nil
			}

			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	addConfigFlags(configCmd.Flags(), &configFile)
	configCmd.Flags().StringVarP(&output, "output", "o", "", "Write the configuration to this file instead of stdout")

	return configCmd
}
