package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective unit configuration as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := unitConfig(cmd)
			if err != nil {
				return err
			}

			if out, _ := cmd.Flags().GetString("output"); out != "" {
				return cfg.SaveConfig(out)
			}

			data, err := cfg.JSON()
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))

			return err
		},
	}

	cmd.Flags().StringP("output", "o", "", "write to a file instead")

	return cmd
}
