// Package benchmarks provides built-in NDP kernels and a harness that runs
// them on a unit and reports timing results.
package benchmarks

import (
	"fmt"
	"sort"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/emu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
)

// Region is the distance between the arrays a kernel works on.
const Region = 0x10000

// ElemsPerColumn is the number of elements each column processes.
const ElemsPerColumn = 8

// Benchmark is a kernel plus the data it runs on.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark exercises
	Description string

	// Stride is the byte distance between the offsets of two columns.
	Stride uint64

	// Body is the instruction sequence of the single body phase.
	Body []insts.Instruction

	// Setup fills the input arrays for n columns at base.
	Setup func(mem *emu.Memory, base uint64, n int)

	// Check verifies the output arrays for n columns at base.
	Check func(mem *emu.Memory, base uint64, n int) error
}

// Kernel returns the kernel to register, with its code at codeBase.
func (b *Benchmark) Kernel(id int, codeBase uint64) *column.Kernel {
	return &column.Kernel{
		ID:       id,
		Name:     b.Name,
		CodeBase: codeBase,
		Bodies:   [][]insts.Instruction{b.Body},
	}
}

// Requests returns one body request per column.
func (b *Benchmark) Requests(kernelID int, base uint64, n int) []column.Request {
	reqs := make([]column.Request, n)
	for i := range reqs {
		reqs[i] = column.Request{
			KernelID: kernelID,
			LaunchID: i,
			Phase:    column.Body(0),
			BaseAddr: base,
			Offset:   uint64(i) * b.Stride,
		}
	}

	return reqs
}

var registry = map[string]func() Benchmark{
	"vecadd": vectorAdd,
	"gather": gather,
	"scalar": scalarLoop,
	"widen":  widenMultiply,
}

// Names returns the names of the built-in benchmarks in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Lookup returns a built-in benchmark by name.
func Lookup(name string) (Benchmark, error) {
	mk, ok := registry[name]
	if !ok {
		return Benchmark{}, fmt.Errorf("unknown benchmark %q (have %v)",
			name, Names())
	}

	return mk(), nil
}

// GetMicrobenchmarks returns every built-in benchmark.
func GetMicrobenchmarks() []Benchmark {
	var out []Benchmark
	for _, n := range Names() {
		out = append(out, registry[n]())
	}

	return out
}

func op(o insts.Opcode, operands ...int64) insts.Instruction {
	return insts.MustMake(o, operands...)
}

// setVL sets VL to ElemsPerColumn 32-bit elements.
func setVL() []insts.Instruction {
	return []insts.Instruction{
		op(insts.OpLI, 10, ElemsPerColumn),
		op(insts.OpVSETVLI, 5, 10, insts.EncodeVType(32, 1)),
	}
}

func fill(mem *emu.Memory, addr uint64, n int, fn func(i int) uint32) {
	for i := 0; i < n; i++ {
		mem.Write32(addr+uint64(i)*4, fn(i))
	}
}

func expect(mem *emu.Memory, addr uint64, n int, fn func(i int) uint32) error {
	for i := 0; i < n; i++ {
		got := mem.Read32(addr + uint64(i)*4)
		if want := fn(i); got != want {
			return fmt.Errorf("element %d at 0x%x: got %d, want %d",
				i, addr+uint64(i)*4, got, want)
		}
	}

	return nil
}

// vectorAdd: C = A + B with unit-stride vector loads and stores.
func vectorAdd() Benchmark {
	body := append(setVL(),
		op(insts.OpADD, 6, 1, 2),
		op(insts.OpVLE32, 1, 6),
		op(insts.OpLI, 7, Region),
		op(insts.OpADD, 8, 6, 7),
		op(insts.OpVLE32, 2, 8),
		op(insts.OpVADDVV, 3, 1, 2),
		op(insts.OpADD, 9, 8, 7),
		op(insts.OpVSE32, 3, 9),
	)

	return Benchmark{
		Name:        "vecadd",
		Description: "unit-stride vector loads, add, unit-stride store",
		Stride:      ElemsPerColumn * 4,
		Body:        body,
		Setup: func(mem *emu.Memory, base uint64, n int) {
			n *= ElemsPerColumn
			fill(mem, base, n, func(i int) uint32 { return uint32(i) })
			fill(mem, base+Region, n, func(i int) uint32 { return uint32(2 * i) })
		},
		Check: func(mem *emu.Memory, base uint64, n int) error {
			return expect(mem, base+2*Region, n*ElemsPerColumn,
				func(i int) uint32 { return uint32(3 * i) })
		},
	}
}

// gather: out[i] = table[idx[i]] with an indexed vector load.
func gather() Benchmark {
	body := append(setVL(),
		op(insts.OpADD, 6, 1, 2),
		op(insts.OpVLE32, 1, 6),
		op(insts.OpVSLLVI, 2, 1, 2),
		op(insts.OpLI, 7, 2*Region),
		op(insts.OpADD, 8, 1, 7),
		op(insts.OpVLUXEI32, 3, 8, 2),
		op(insts.OpLI, 11, 4*Region),
		op(insts.OpADD, 9, 6, 11),
		op(insts.OpVSE32, 3, 9),
	)

	index := func(n int) func(i int) uint32 {
		return func(i int) uint32 { return uint32(i * 7 % n) }
	}

	return Benchmark{
		Name:        "gather",
		Description: "indexed vector loads from a lookup table",
		Stride:      ElemsPerColumn * 4,
		Body:        body,
		Setup: func(mem *emu.Memory, base uint64, n int) {
			n *= ElemsPerColumn
			fill(mem, base, n, index(n))
			fill(mem, base+2*Region, n,
				func(i int) uint32 { return uint32(10 * i) })
		},
		Check: func(mem *emu.Memory, base uint64, n int) error {
			n *= ElemsPerColumn
			idx := index(n)

			return expect(mem, base+4*Region, n,
				func(i int) uint32 { return 10 * idx(i) })
		},
	}
}

// scalarLoop: out[i] = in[i] + 8 + 7 + ... + 1 with a counted loop.
func scalarLoop() Benchmark {
	body := []insts.Instruction{
		op(insts.OpADD, 6, 1, 2),
		op(insts.OpLW, 7, 6, 0),
		op(insts.OpLI, 5, 0),
		op(insts.OpLI, 8, ElemsPerColumn),
		op(insts.OpADD, 5, 5, 8),
		op(insts.OpADDI, 8, 8, -1),
		insts.MustBranch(insts.OpBNE, 8, 0, 4),
		op(insts.OpADD, 5, 5, 7),
		op(insts.OpLI, 9, Region),
		op(insts.OpADD, 10, 6, 9),
		op(insts.OpSW, 5, 10, 0),
	}

	const sum = ElemsPerColumn * (ElemsPerColumn + 1) / 2

	return Benchmark{
		Name:        "scalar",
		Description: "scalar load, counted loop with a backward branch, store",
		Stride:      4,
		Body:        body,
		Setup: func(mem *emu.Memory, base uint64, n int) {
			fill(mem, base, n, func(i int) uint32 { return uint32(100 * i) })
		},
		Check: func(mem *emu.Memory, base uint64, n int) error {
			return expect(mem, base+Region, n,
				func(i int) uint32 { return uint32(100*i + sum) })
		},
	}
}

// widenMultiply: C = narrow(A * B) through a widened product.
func widenMultiply() Benchmark {
	body := append(setVL(),
		op(insts.OpADD, 6, 1, 2),
		op(insts.OpVLE32, 1, 6),
		op(insts.OpLI, 7, Region),
		op(insts.OpADD, 8, 6, 7),
		op(insts.OpVLE32, 2, 8),
		op(insts.OpVWMULVV, 4, 1, 2),
		op(insts.OpVNSRLWI, 6, 4, 0),
		op(insts.OpADD, 9, 8, 7),
		op(insts.OpVSE32, 6, 9),
	)

	return Benchmark{
		Name:        "widen",
		Description: "widening vector multiply into a register pair, narrowed",
		Stride:      ElemsPerColumn * 4,
		Body:        body,
		Setup: func(mem *emu.Memory, base uint64, n int) {
			n *= ElemsPerColumn
			fill(mem, base, n, func(i int) uint32 { return uint32(i + 1) })
			fill(mem, base+Region, n, func(int) uint32 { return 3 })
		},
		Check: func(mem *emu.Memory, base uint64, n int) error {
			return expect(mem, base+2*Region, n*ElemsPerColumn,
				func(i int) uint32 { return uint32(3 * (i + 1)) })
		},
	}
}
