package main

import (
	"fmt"
	"io"
	"os"
	"runtime/pprof"

	"github.com/fatih/color"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/benchmarks"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/config"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/loader"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/core"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one kernel on the unit.",
		Long: "Run launches one column per request of a kernel, ticks the " +
			"unit on a serial engine until it is idle, and prints the " +
			"statistics. Built-in kernels also check their output. A " +
			"kernel file gets one init column, one column per body phase " +
			"and launch, and one final column.",
		Args: cobra.NoArgs,
		RunE: runKernel,
	}

	cmd.Flags().StringP("kernel", "k", "vecadd",
		fmt.Sprintf("built-in kernel to run %v", benchmarks.Names()))
	cmd.Flags().StringP("file", "f", "", "assembly kernel file to run instead")
	cmd.Flags().Uint64("base", benchmarks.DataBase, "base address for a kernel file")
	cmd.Flags().Uint64("stride", 4, "per-column offset step for a kernel file")
	cmd.Flags().IntP("columns", "n", 16, "number of columns to launch")
	cmd.Flags().Uint64("max-cycles", 10_000_000, "cycle limit, 0 for none")
	cmd.Flags().CountP("verbose", "v",
		"trace retirements and faults, twice to add issues and stalls")
	cmd.Flags().String("cpuprofile", "", "write a CPU profile to this file")

	return cmd
}

func runKernel(cmd *cobra.Command, _ []string) error {
	cfg, err := unitConfig(cmd)
	if err != nil {
		return err
	}

	columns, _ := cmd.Flags().GetInt("columns")
	maxCycles, _ := cmd.Flags().GetUint64("max-cycles")
	profile, _ := cmd.Flags().GetString("cpuprofile")

	if columns <= 0 {
		return fmt.Errorf("columns must be > 0")
	}

	if err := startProfile(profile); err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("file"); path != "" {
		return runFile(cmd, cfg, path, columns, maxCycles)
	}

	name, _ := cmd.Flags().GetString("kernel")

	bench, err := benchmarks.Lookup(name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	harness := benchmarks.NewHarness(benchmarks.HarnessConfig{
		Unit:      cfg,
		Columns:   columns,
		MaxCycles: maxCycles,
		Output:    out,
	})

	u, err := harness.Prepare(bench)
	if err != nil {
		return err
	}

	err = simulate(cmd, u, maxCycles)
	if err == nil {
		err = bench.Check(u.Emulator().Memory(), benchmarks.DataBase, columns)
	}

	result := benchmarks.BenchmarkResult{
		Name:        bench.Name,
		Description: bench.Description,
		Columns:     columns,
	}

	return report(out, cfg, harness, &result, u, err)
}

func runFile(
	cmd *cobra.Command,
	cfg *config.Config,
	path string,
	columns int,
	maxCycles uint64,
) error {
	base, _ := cmd.Flags().GetUint64("base")
	stride, _ := cmd.Flags().GetUint64("stride")

	k, err := loader.Load(path, 0, benchmarks.CodeBase)
	if err != nil {
		return err
	}

	u, err := core.NewUnit("NDP", cfg)
	if err != nil {
		return err
	}

	if err := u.RegisterKernel(k); err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetCount("verbose")
	if verbose > 0 {
		attachTracer(cmd.OutOrStdout(), u, verbose)
	}

	out := cmd.OutOrStdout()
	harness := benchmarks.NewHarness(benchmarks.HarnessConfig{
		Unit:    cfg,
		Columns: columns,
		Output:  out,
	})

	result := benchmarks.BenchmarkResult{
		Name:        k.Name,
		Description: path,
		Columns:     columns,
	}

	err = runPhases(u, fileRequests(k, base, stride, columns), maxCycles)

	return report(out, cfg, harness, &result, u, err)
}

// fileRequests groups the requests of a kernel file by phase: the init
// column, the columns of each body phase, then the final column.
func fileRequests(
	k *column.Kernel,
	base, stride uint64,
	columns int,
) [][]column.Request {
	var phases [][]column.Request

	if len(k.Init) > 0 {
		phases = append(phases, []column.Request{{
			KernelID: k.ID,
			Phase:    column.Init,
			BaseAddr: base,
		}})
	}

	for b := range k.Bodies {
		reqs := make([]column.Request, 0, columns)
		for i := 0; i < columns; i++ {
			reqs = append(reqs, column.Request{
				KernelID: k.ID,
				LaunchID: i,
				Phase:    column.Body(b),
				BaseAddr: base,
				Offset:   uint64(i) * stride,
			})
		}

		phases = append(phases, reqs)
	}

	if len(k.Final) > 0 {
		phases = append(phases, []column.Request{{
			KernelID: k.ID,
			Phase:    column.Final,
			BaseAddr: base,
		}})
	}

	return phases
}

// runPhases submits one phase at a time and drains the unit before the next,
// so every column of a phase retires before any column of the next one is
// admitted. maxCycles bounds the whole run.
func runPhases(u *core.Unit, phases [][]column.Request, maxCycles uint64) error {
	for _, reqs := range phases {
		u.Submit(reqs...)

		if err := drive(u, maxCycles); err != nil {
			return err
		}
	}

	return nil
}

// simulate ticks the unit on a serial engine until it is idle, faults or
// reaches the cycle limit.
func simulate(cmd *cobra.Command, u *core.Unit, maxCycles uint64) error {
	verbose, _ := cmd.Flags().GetCount("verbose")
	if verbose > 0 {
		attachTracer(cmd.OutOrStdout(), u, verbose)
	}

	return drive(u, maxCycles)
}

func drive(u *core.Unit, maxCycles uint64) error {
	freq := sim.Freq(u.Config().FrequencyMHz) * sim.MHz

	engine := sim.NewSerialEngine()
	comp := core.NewComponent(engine, freq, u)
	comp.Limit = maxCycles
	comp.TickLater()

	if err := engine.Run(); err != nil {
		return err
	}

	switch {
	case u.Err() != nil:
		return u.Err()
	case !u.Idle():
		return fmt.Errorf("not idle after %d cycles", u.Cycles())
	}

	return nil
}

func report(
	out io.Writer,
	cfg *config.Config,
	harness *benchmarks.Harness,
	result *benchmarks.BenchmarkResult,
	u *core.Unit,
	err error,
) error {
	if err != nil {
		result.Error = err.Error()
	}

	benchmarks.Collect(result, u)
	harness.PrintResults([]benchmarks.BenchmarkResult{*result})

	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(out, "FAIL %s\n",
			result.Name)
		return err
	}

	color.New(color.FgGreen, color.Bold).Fprintf(out,
		"PASS %s: %d columns in %d cycles (%.2f us at %d MHz)\n",
		result.Name, result.Columns, result.SimulatedCycles,
		float64(result.SimulatedCycles)/float64(cfg.FrequencyMHz),
		cfg.FrequencyMHz)

	return nil
}

// startProfile starts CPU profiling until the process exits.
func startProfile(path string) error {
	if path == "" {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating CPU profile: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}

	atexit.Register(func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	})

	return nil
}
