package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/config"
)

// configEnv names the variable holding the default configuration path.
const configEnv = "NDPSIM_CONFIG"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ndpsim",
		Short: "Cycle-level simulator of a near-data-processing unit.",
		Long: "ndpsim runs kernels on one NDP unit: column admission, " +
			"fetch, issue into functional units, and the load/store " +
			"pipeline with its data cache and TLB.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "",
		"unit configuration JSON (default $"+configEnv+")")

	root.AddCommand(newRunCmd(), newBenchCmd(), newConfigCmd())

	return root
}

// unitConfig loads the configuration named by --config or the environment,
// falling back to the defaults.
func unitConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(configEnv)
	}

	if path == "" {
		return config.Default(), nil
	}

	return config.LoadConfig(path)
}
