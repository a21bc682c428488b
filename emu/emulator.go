// Package emu provides the value model of the NDP unit: the functional
// evaluation of each opcode over the physical register values and a
// sparse memory. The timing core only looks at the returned fault and
// branch outcome.
package emu

import (
	"errors"
	"fmt"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// ErrNoHandler is returned for an opcode the value model cannot evaluate.
var ErrNoHandler = errors.New("no handler for opcode")

// Lane is one element access of an address-class instruction.
type Lane struct {
	Elem  int
	Field int
	Addr  uint64
}

// Context is the column state an instruction executes in.
type Context struct {
	Column column.ID
	PC     int
	CSR    column.CSR

	// Lanes is the derived address set of an address-class instruction.
	Lanes []Lane
}

// Outcome is what the timing core learns from executing an instruction.
type Outcome struct {
	Taken bool
}

// ValueModel evaluates instructions and exposes the register values that
// address generation and masking need.
type ValueModel interface {
	Execute(inst *rename.Inst, ctx *Context) (Outcome, error)
	ReadInt(reg rename.PhysReg) int64
	WriteInt(reg rename.PhysReg, v int64)
	ReadVectorElem(reg rename.PhysReg, idx int) int64
	MaskBit(reg rename.PhysReg, idx int) bool
}

type handler func(e *Emulator, in *rename.Inst, ctx *Context) Outcome

// Emulator is the default ValueModel.
type Emulator struct {
	regs   *RegFile
	memory *Memory

	executed uint64
}

// EmulatorOption configures an Emulator.
type EmulatorOption func(*Emulator)

// WithMemory makes the emulator use an existing memory.
func WithMemory(m *Memory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = m
	}
}

// NewEmulator creates an emulator with register files sized by config.
func NewEmulator(config rename.Config, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regs:   NewRegFile(config),
		memory: NewMemory(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RegFile returns the register values.
func (e *Emulator) RegFile() *RegFile {
	return e.regs
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.executed
}

// Execute evaluates one instruction.
func (e *Emulator) Execute(inst *rename.Inst, ctx *Context) (Outcome, error) {
	h := handlers[inst.Op]
	if h == nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrNoHandler, &inst.Instruction)
	}

	e.executed++

	return h(e, inst, ctx), nil
}

// ReadInt reads an integer register.
func (e *Emulator) ReadInt(reg rename.PhysReg) int64 {
	return e.regs.ReadInt(reg)
}

// WriteInt writes an integer register.
func (e *Emulator) WriteInt(reg rename.PhysReg, v int64) {
	e.regs.WriteInt(reg, v)
}

// ReadVectorElem reads element idx of a vector register.
func (e *Emulator) ReadVectorElem(reg rename.PhysReg, idx int) int64 {
	return int64(e.regs.Elem(reg, idx))
}

// MaskBit returns true if lane idx of the mask register is active.
func (e *Emulator) MaskBit(reg rename.PhysReg, idx int) bool {
	return e.regs.Elem(reg, idx)&1 != 0
}

var handlers map[insts.Opcode]handler

func init() {
	handlers = make(map[insts.Opcode]handler)

	for _, tbl := range []map[insts.Opcode]handler{
		aluHandlers, branchHandlers, floatHandlers, vectorHandlers,
		loadStoreHandlers,
	} {
		for op, h := range tbl {
			handlers[op] = h
		}
	}
}
