package benchmarks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/config"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/core"
)

// Addresses the harness places kernels and data at.
const (
	CodeBase uint64 = 0x8000_0000
	DataBase uint64 = 0x10_0000
)

// BenchmarkResult holds the timing results for a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark exercises
	Description string `json:"description"`

	// Columns is the number of columns launched
	Columns int `json:"columns"`

	// SimulatedCycles is the total cycle count of the unit
	SimulatedCycles uint64 `json:"simulated_cycles"`

	// InstructionsIssued is the number of instructions issued to units
	InstructionsIssued uint64 `json:"instructions_issued"`

	// CPI is cycles per issued instruction
	CPI float64 `json:"cpi"`

	// StallCycles sums the issue stalls of every wait reason
	StallCycles uint64 `json:"stall_cycles"`

	ColumnsRetired uint64 `json:"columns_retired"`
	BranchesTaken  uint64 `json:"branches_taken"`

	ICacheHits   uint64 `json:"icache_hits"`
	ICacheMisses uint64 `json:"icache_misses"`
	DCacheHits   uint64 `json:"dcache_hits"`
	DCacheMisses uint64 `json:"dcache_misses"`
	TLBHits      uint64 `json:"tlb_hits"`
	TLBMisses    uint64 `json:"tlb_misses"`

	MemoryReads  uint64 `json:"memory_reads"`
	MemoryWrites uint64 `json:"memory_writes"`

	// Error is set when the run faulted or the output did not check out
	Error string `json:"error,omitempty"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// Passed returns true if the run finished and produced the expected output.
func (r BenchmarkResult) Passed() bool {
	return r.Error == ""
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Unit is the configuration every benchmark unit is built with
	Unit *config.Config

	// Columns is the number of columns each benchmark launches
	Columns int

	// MaxCycles bounds each run. 0 means no limit.
	MaxCycles uint64

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Verbose enables detailed output
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Unit:      config.Default(),
		Columns:   16,
		MaxCycles: 1_000_000,
		Output:    os.Stdout,
	}
}

// Harness runs benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
	options    []core.Option
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig, opts ...core.Option) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	if config.Unit == nil {
		config.Unit = DefaultConfig().Unit
	}

	return &Harness{
		config:  config,
		options: opts,
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results.
func (h *Harness) RunAll() []BenchmarkResult {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))

	for _, bench := range h.benchmarks {
		results = append(results, h.runBenchmark(bench))
	}

	return results
}

// Prepare builds a unit loaded with the benchmark kernel, its input data and
// one request per column. The caller ticks the unit.
func (h *Harness) Prepare(bench Benchmark) (*core.Unit, error) {
	u, err := core.NewUnit("NDP", h.config.Unit, h.options...)
	if err != nil {
		return nil, err
	}

	if u.Emulator() == nil {
		return nil, fmt.Errorf("benchmark %s needs the built-in value model",
			bench.Name)
	}

	if err := u.RegisterKernel(bench.Kernel(0, CodeBase)); err != nil {
		return nil, err
	}

	bench.Setup(u.Emulator().Memory(), DataBase, h.config.Columns)
	u.Submit(bench.Requests(0, DataBase, h.config.Columns)...)

	return u, nil
}

func (h *Harness) runBenchmark(bench Benchmark) BenchmarkResult {
	result := BenchmarkResult{
		Name:        bench.Name,
		Description: bench.Description,
		Columns:     h.config.Columns,
	}

	u, err := h.Prepare(bench)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	err = u.Run(h.config.MaxCycles)
	result.WallTime = time.Since(start)

	if err == nil {
		err = bench.Check(u.Emulator().Memory(), DataBase, h.config.Columns)
	}

	if err != nil {
		result.Error = err.Error()
	}

	Collect(&result, u)

	if h.config.Verbose {
		_, _ = fmt.Fprintf(h.config.Output, "%s: %d cycles, %d issued\n",
			result.Name, result.SimulatedCycles, result.InstructionsIssued)
	}

	return result
}

// Collect copies the statistics of a finished unit into r.
func Collect(r *BenchmarkResult, u *core.Unit) {
	s := u.Stats()

	r.SimulatedCycles = s.Cycles
	r.InstructionsIssued = s.Exec.Issued
	if s.Exec.Issued > 0 {
		r.CPI = float64(s.Cycles) / float64(s.Exec.Issued)
	}

	for _, n := range s.Exec.Stalls {
		r.StallCycles += n
	}

	r.ColumnsRetired = s.Fetch.Retired
	r.BranchesTaken = s.Exec.BranchesTaken

	ic := u.Fetch.ICache().Stats()
	r.ICacheHits = ic.Hits
	r.ICacheMisses = ic.Misses

	r.DCacheHits = s.LSU.CacheHits
	r.DCacheMisses = s.LSU.CacheMisses
	r.TLBHits = s.TLB.Hits
	r.TLBMisses = s.TLB.Misses
	r.MemoryReads = s.LSU.MemoryReads
	r.MemoryWrites = s.LSU.MemoryWrites
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	w := h.config.Output

	_, _ = fmt.Fprintln(w, "=== NDP Unit Benchmark Results ===")
	_, _ = fmt.Fprintln(w, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "Benchmark: %s\n", r.Name)
		_, _ = fmt.Fprintf(w, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(w, "  Columns: %d\n", r.Columns)
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "  Error: %s\n", r.Error)
		}

		_, _ = fmt.Fprintln(w, "  --- Timing ---")
		_, _ = fmt.Fprintf(w, "  Simulated Cycles:    %d\n", r.SimulatedCycles)
		_, _ = fmt.Fprintf(w, "  Instructions Issued: %d\n", r.InstructionsIssued)
		_, _ = fmt.Fprintf(w, "  CPI:                 %.3f\n", r.CPI)
		_, _ = fmt.Fprintf(w, "  Issue Stalls:        %d\n", r.StallCycles)
		_, _ = fmt.Fprintf(w, "  Columns Retired:     %d\n", r.ColumnsRetired)
		_, _ = fmt.Fprintf(w, "  Branches Taken:      %d\n", r.BranchesTaken)

		_, _ = fmt.Fprintln(w, "  --- Memory ---")
		_, _ = fmt.Fprintf(w, "  I-Cache Hits/Misses: %d/%d\n",
			r.ICacheHits, r.ICacheMisses)
		_, _ = fmt.Fprintf(w, "  D-Cache Hits/Misses: %d/%d\n",
			r.DCacheHits, r.DCacheMisses)
		_, _ = fmt.Fprintf(w, "  TLB Hits/Misses:     %d/%d\n",
			r.TLBHits, r.TLBMisses)
		_, _ = fmt.Fprintf(w, "  Reads/Writes:        %d/%d\n",
			r.MemoryReads, r.MemoryWrites)

		_, _ = fmt.Fprintf(w, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(w, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,columns,cycles,issued,cpi,stalls,retired,icache_hits,icache_misses,dcache_hits,dcache_misses,tlb_hits,tlb_misses,reads,writes,passed")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output,
			"%s,%d,%d,%d,%.3f,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%t\n",
			r.Name,
			r.Columns,
			r.SimulatedCycles,
			r.InstructionsIssued,
			r.CPI,
			r.StallCycles,
			r.ColumnsRetired,
			r.ICacheHits,
			r.ICacheMisses,
			r.DCacheHits,
			r.DCacheMisses,
			r.TLBHits,
			r.TLBMisses,
			r.MemoryReads,
			r.MemoryWrites,
			r.Passed(),
		)
	}
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	Metadata ReportMetadata    `json:"metadata"`
	Results  []BenchmarkResult `json:"results"`
	Summary  ReportSummary     `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	// Timestamp when the benchmark was run
	Timestamp string `json:"timestamp"`

	// Config is the unit configuration used
	Config *config.Config `json:"config"`

	Columns int `json:"columns"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	TotalBenchmarks int `json:"total_benchmarks"`
	Failed          int `json:"failed"`

	TotalCycles uint64 `json:"total_cycles"`
	TotalIssued uint64 `json:"total_issued"`

	// AverageCPI is the average cycles per issued instruction
	AverageCPI float64 `json:"average_cpi"`

	// TotalWallTime is the total wall clock time for all benchmarks
	TotalWallTime time.Duration `json:"total_wall_time_ns"`
}

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	summary := ReportSummary{TotalBenchmarks: len(results)}
	for _, r := range results {
		summary.TotalCycles += r.SimulatedCycles
		summary.TotalIssued += r.InstructionsIssued
		summary.TotalWallTime += r.WallTime
		if !r.Passed() {
			summary.Failed++
		}
	}

	if summary.TotalIssued > 0 {
		summary.AverageCPI = float64(summary.TotalCycles) /
			float64(summary.TotalIssued)
	}

	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Config:    h.config.Unit,
			Columns:   h.config.Columns,
		},
		Results: results,
		Summary: summary,
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")

	return encoder.Encode(report)
}
