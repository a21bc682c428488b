package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/benchmarks"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench [kernel...]",
		Short: "Run built-in kernels and report their timing.",
		Long: "Bench runs each named kernel, or all of them, on a fresh " +
			"unit and prints the results as text, CSV or JSON.",
		RunE: runBench,
	}

	cmd.Flags().StringP("format", "f", "text", "output format: text, csv or json")
	cmd.Flags().IntP("columns", "n", 16, "number of columns per kernel")
	cmd.Flags().Uint64("max-cycles", 10_000_000, "cycle limit per kernel, 0 for none")
	cmd.Flags().String("cpuprofile", "", "write a CPU profile to this file")

	return cmd
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := unitConfig(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	columns, _ := cmd.Flags().GetInt("columns")
	maxCycles, _ := cmd.Flags().GetUint64("max-cycles")
	profile, _ := cmd.Flags().GetString("cpuprofile")

	if format != "text" && format != "csv" && format != "json" {
		return fmt.Errorf("unknown format %q", format)
	}

	if columns <= 0 {
		return fmt.Errorf("columns must be > 0")
	}

	if len(args) == 0 {
		args = benchmarks.Names()
	}

	out := cmd.OutOrStdout()
	harness := benchmarks.NewHarness(benchmarks.HarnessConfig{
		Unit:      cfg,
		Columns:   columns,
		MaxCycles: maxCycles,
		Output:    out,
	})

	for _, name := range args {
		b, err := benchmarks.Lookup(name)
		if err != nil {
			return err
		}

		harness.AddBenchmark(b)
	}

	if err := startProfile(profile); err != nil {
		return err
	}

	results := harness.RunAll()

	switch format {
	case "csv":
		harness.PrintCSV(results)
	case "json":
		if err := harness.PrintJSON(results); err != nil {
			return err
		}
	default:
		harness.PrintResults(results)
	}

	failed := 0
	for _, r := range results {
		if !r.Passed() {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d kernels failed", failed, len(results))
	}

	if format == "text" {
		color.New(color.FgGreen).Fprintf(out, "all %d kernels passed\n",
			len(results))
	}

	return nil
}
