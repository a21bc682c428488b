package lsu

import (
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/emu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/memsys"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// Instruction is an address-class instruction handed from the address units
// to the load/store pipeline, and back once every lane has completed.
type Instruction struct {
	Column *column.Column
	Inst   *rename.Inst
	PC     int
	CSR    column.CSR

	// Lanes is the derived address set, one entry per active element and
	// field.
	Lanes []emu.Lane

	accesses  []*access
	remaining int
	next      int
}

// Type returns the memory access type of the instruction.
func (i *Instruction) Type() memsys.AccessType {
	switch {
	case i.Inst.IsAtomic():
		return memsys.Atomic
	case i.Inst.IsStore():
		return memsys.Write
	default:
		return memsys.Read
	}
}

// Remaining returns the number of lane accesses still outstanding.
func (i *Instruction) Remaining() int {
	return i.remaining
}
