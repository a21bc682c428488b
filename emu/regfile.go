package emu

import (
	"math"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// RegFile holds the values of the physical registers.
// Integer register 0 always reads as 0. Vector registers keep one 64-bit
// slot per element; floats are stored as float64 bits.
type RegFile struct {
	ints   []int64
	floats []float64
	vecs   [][]uint64
}

// NewRegFile creates a register file sized for the given pools.
func NewRegFile(config rename.Config) *RegFile {
	return &RegFile{
		ints:   make([]int64, config.NumInt),
		floats: make([]float64, config.NumFloat),
		vecs:   make([][]uint64, config.NumVector),
	}
}

// ReadInt reads an integer register.
func (r *RegFile) ReadInt(reg rename.PhysReg) int64 {
	if reg == rename.ZeroReg || reg.Class != insts.ClassInt {
		return 0
	}

	return r.ints[reg.ID]
}

// WriteInt writes an integer register. Writes to register 0 are dropped.
func (r *RegFile) WriteInt(reg rename.PhysReg, v int64) {
	if reg == rename.ZeroReg || reg.Class != insts.ClassInt {
		return
	}

	r.ints[reg.ID] = v
}

// ReadFloat reads a float register.
func (r *RegFile) ReadFloat(reg rename.PhysReg) float64 {
	if reg.Class != insts.ClassFloat {
		return 0
	}

	return r.floats[reg.ID]
}

// WriteFloat writes a float register.
func (r *RegFile) WriteFloat(reg rename.PhysReg, v float64) {
	if reg.Class != insts.ClassFloat {
		return
	}

	r.floats[reg.ID] = v
}

// Elem reads element i of a vector register. Unwritten elements read 0.
func (r *RegFile) Elem(reg rename.PhysReg, i int) uint64 {
	if reg.Class != insts.ClassVector {
		return 0
	}

	v := r.vecs[reg.ID]
	if i < 0 || i >= len(v) {
		return 0
	}

	return v[i]
}

// SetElem writes element i of a vector register.
func (r *RegFile) SetElem(reg rename.PhysReg, i int, value uint64) {
	if reg.Class != insts.ClassVector {
		return
	}

	v := r.vecs[reg.ID]
	for len(v) <= i {
		v = append(v, 0)
	}

	v[i] = value
	r.vecs[reg.ID] = v
}

// FloatElem reads element i of a vector register as a float.
func (r *RegFile) FloatElem(reg rename.PhysReg, i int) float64 {
	return math.Float64frombits(r.Elem(reg, i))
}

// SetFloatElem writes element i of a vector register as a float.
func (r *RegFile) SetFloatElem(reg rename.PhysReg, i int, v float64) {
	r.SetElem(reg, i, math.Float64bits(v))
}
