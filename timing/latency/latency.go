// Package latency provides the functional unit timing model of the NDP unit.
//
// The values are configured via TimingConfig. A vector instruction occupies
// its unit once per register group, so its timing depends on LMUL.
package latency

import (
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing
// configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// Lookup returns the timing class of a single register group of the
// instruction.
func (t *Table) Lookup(inst *insts.Instruction) FUTiming {
	if inst == nil {
		return FUTiming{Latency: 1, Interval: 1}
	}

	c := t.config
	long := inst.Info().Flags&insts.FlagLongLatency != 0

	if inst.IsVector() {
		switch {
		case inst.Unit() == insts.FUAddr:
			return c.VectorAddress
		case inst.Op == insts.OpVREDSUMVS:
			return c.VectorReduction
		case inst.Unit() == insts.FUSFU:
			return c.VectorSFU
		case inst.Unit() == insts.FUFloat:
			return c.VectorFloat
		case long:
			return c.VectorMultiply
		default:
			return c.VectorALU
		}
	}

	switch {
	case inst.IsBranch():
		return c.Branch
	case inst.IsCSR():
		return c.CSR
	case inst.Unit() == insts.FUAddr:
		return c.Address
	case inst.Unit() == insts.FUSFU && inst.Info().Shape == insts.ShapeXXX:
		return c.Divide
	case inst.Unit() == insts.FUSFU:
		return c.FloatSFU
	case inst.Unit() == insts.FUFloat && long:
		return c.FMA
	case inst.Unit() == insts.FUFloat:
		return c.Float
	case long:
		return c.Multiply
	default:
		return c.ALU
	}
}

// GetLatency returns the latency in cycles of a single register group of
// the instruction.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	return t.Lookup(inst).Latency
}

// Groups returns how many register groups a vector instruction processes.
// Widening and narrowing ops work on double-width groups.
func Groups(inst *insts.Instruction, lmul int) uint64 {
	if !inst.IsVector() {
		return 1
	}

	g := uint64(1)
	if lmul > 1 {
		g = uint64(lmul)
	}

	if inst.IsWidening() || inst.IsNarrowing() {
		g *= 2
	}

	return g
}

// Timing returns the total latency and unit occupancy of the instruction
// under the given LMUL. Groups are pipelined one interval apart.
func (t *Table) Timing(inst *insts.Instruction, lmul int) (latency, interval uint64) {
	ft := t.Lookup(inst)
	g := Groups(inst, lmul)

	return ft.Latency + (g-1)*ft.Interval, ft.Interval * g
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
