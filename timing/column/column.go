// Package column defines the instruction column: the per-request execution
// context that the fetch and execution stages advance.
package column

import (
	"fmt"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// PhaseKind selects which part of a kernel a column runs.
type PhaseKind uint8

// Kernel phases.
const (
	PhaseInit PhaseKind = iota
	PhaseBody
	PhaseFinal
)

// Phase names one instruction slice of a kernel. Body is only used for
// PhaseBody.
type Phase struct {
	Kind PhaseKind
	Body int
}

// Init, Body and Final are shorthands for phases.
var (
	Init  = Phase{Kind: PhaseInit}
	Final = Phase{Kind: PhaseFinal}
)

// Body returns the n-th body phase.
func Body(n int) Phase {
	return Phase{Kind: PhaseBody, Body: n}
}

func (p Phase) String() string {
	switch p.Kind {
	case PhaseInit:
		return "init"
	case PhaseFinal:
		return "final"
	default:
		return fmt.Sprintf("body%d", p.Body)
	}
}

// Kernel is a registered program: one instruction slice per phase and the
// address its instructions are fetched from.
type Kernel struct {
	ID       int
	Name     string
	CodeBase uint64
	Init     []insts.Instruction
	Bodies   [][]insts.Instruction
	Final    []insts.Instruction
}

// Phase returns the instruction slice of a phase.
func (k *Kernel) Phase(p Phase) ([]insts.Instruction, bool) {
	switch p.Kind {
	case PhaseInit:
		return k.Init, true
	case PhaseFinal:
		return k.Final, true
	default:
		if p.Body < 0 || p.Body >= len(k.Bodies) {
			return nil, false
		}

		return k.Bodies[p.Body], true
	}
}

// ScratchpadMap is the range of addresses served by the unit's scratchpad.
type ScratchpadMap struct {
	Base uint64
	Size uint64
}

// Contains returns true if addr falls in the scratchpad.
func (m ScratchpadMap) Contains(addr uint64) bool {
	return m.Size > 0 && addr >= m.Base && addr-m.Base < m.Size
}

// Request is an execution request from the admission layer.
type Request struct {
	KernelID   int
	LaunchID   int
	Phase      Phase
	BaseAddr   uint64
	Offset     uint64
	Scratchpad ScratchpadMap
}

// State is the lifecycle state of a column.
type State uint8

// Column states.
const (
	Fetching State = iota
	Ready
	Issued
	Blocked
	AwaitingMemory
	Retired
)

func (s State) String() string {
	switch s {
	case Fetching:
		return "FETCHING"
	case Ready:
		return "READY"
	case Issued:
		return "ISSUED"
	case Blocked:
		return "BLOCKED"
	case AwaitingMemory:
		return "AWAITING_MEMORY"
	case Retired:
		return "RETIRED"
	default:
		return "UNKNOWN"
	}
}

// CSR is the vector control block.
type CSR struct {
	VL   int
	SEW  int
	LMUL int
}

// ID identifies a column for its lifetime.
type ID uint64

// Column is one in-flight execution context.
type Column struct {
	UID  ID
	Req  Request
	Regs rename.ColumnID

	Insts    []rename.Inst
	Counts   rename.Counts
	CodeBase uint64

	PC      int
	CSR     CSR
	Block   bool
	Pending bool
	Current *rename.Inst
	State   State

	// InFlight counts instructions in functional units and Outstanding
	// address-class instructions waiting for memory.
	InFlight    int
	Outstanding int

	Base   rename.PhysReg
	Offset rename.PhysReg
}

// New creates a column from a rename result. The CSR starts at VL 0,
// 32-bit elements and LMUL 1.
func New(uid ID, req Request, res *rename.Result, counts rename.Counts,
	codeBase uint64,
) *Column {
	return &Column{
		UID:      uid,
		Req:      req,
		Regs:     res.Column,
		Insts:    res.Insts,
		Counts:   counts,
		CodeBase: codeBase,
		CSR:      CSR{SEW: 32, LMUL: 1},
		State:    Fetching,
		Base:     res.Base,
		Offset:   res.Offset,
	}
}

// FetchEligible returns true if the column needs its next instruction.
func (c *Column) FetchEligible() bool {
	return !c.Block && !c.Pending && c.Current == nil && c.PC < len(c.Insts)
}

// Finished returns true once every instruction has executed and no memory
// access is outstanding.
func (c *Column) Finished() bool {
	return c.PC >= len(c.Insts) && c.Current == nil && !c.Pending &&
		!c.Block && c.InFlight == 0 && c.Outstanding == 0
}

func (c *Column) String() string {
	return fmt.Sprintf("column %d (kernel %d %s, pc %d)",
		c.UID, c.Req.KernelID, c.Req.Phase, c.PC)
}
