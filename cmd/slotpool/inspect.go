package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/slotpool/internal/driver"
	"github.com/ajitpratap0/slotpool/pkg/compression"
	"github.com/ajitpratap0/slotpool/pkg/json"
)

func newInspectCommand() *cobra.Command {
	var codec string
	var raw bool

	inspectCmd := &cobra.Command{
		Use:   "inspect <report>",
		Short: "Show a report written by run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			algo := compression.ForPath(path)
			if codec != "" {
				parsed, err := compression.Parse(codec)
				if err != nil {
					return err
				}
				algo = parsed
			}

			report, err := driver.ReadReport(path, algo)
			if err != nil {
				return fmt.Errorf("failed to read report %s: %w", path, err)
			}

			if raw {
				return json.MarshalToWriter(cmd.OutOrStdout(), report, true)
			}
			printSummary(cmd.OutOrStdout(), report)
			return nil
		},
	}

	inspectCmd.Flags().StringVar(&codec, "codec", "", "Report compression (default: from file extension)")
	inspectCmd.Flags().BoolVar(&raw, "json", false, "Print the report as JSON")

	return inspectCmd
}
