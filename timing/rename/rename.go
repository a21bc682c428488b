// Package rename allocates physical registers to instruction columns and
// keeps the scoreboard of registers with an outstanding write.
//
// Every column owns a slot in an arena. Renaming is static: a logical
// register is bound to one physical register the first time the column's
// instruction sequence writes it, and the binding lives until the column is
// freed. Vector destinations that need double width get a partner register.
package rename

import (
	"errors"
	"fmt"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
)

// NumLogical is the number of logical registers per class.
const NumLogical = 32

var (
	// ErrUnresolvedRegister is returned when an instruction reads a logical
	// register that its column never writes.
	ErrUnresolvedRegister = errors.New("unresolved logical register")

	// ErrNoRegisters is returned by Rename when the free pools are too
	// small for the column.
	ErrNoRegisters = errors.New("not enough free physical registers")

	// ErrDoubleFree is returned when a column handle is freed twice.
	ErrDoubleFree = errors.New("column registers already freed")
)

// PhysReg is a physical register handle. The zero value is no register.
type PhysReg struct {
	Class insts.RegClass
	ID    int32
}

// ZeroReg is the physical register behind the hard-wired integer x0.
var ZeroReg = PhysReg{Class: insts.ClassInt, ID: 0}

// Valid returns true if the handle names a register.
func (r PhysReg) Valid() bool {
	return r.Class.IsReg()
}

func (r PhysReg) String() string {
	if !r.Valid() {
		return "-"
	}

	return fmt.Sprintf("p%s%d", r.Class, r.ID)
}

// ColumnID is the handle of a column's register bindings.
type ColumnID struct {
	slot uint32
	gen  uint32
}

func (c ColumnID) String() string {
	return fmt.Sprintf("col%d.%d", c.slot, c.gen)
}

// Counts is a number of registers per class.
type Counts struct {
	Int    int `json:"int"`
	Float  int `json:"float"`
	Vector int `json:"vector"`
}

func (c *Counts) add(class insts.RegClass) {
	switch class {
	case insts.ClassInt:
		c.Int++
	case insts.ClassFloat:
		c.Float++
	case insts.ClassVector:
		c.Vector++
	}
}

// Total returns the sum over every class.
func (c Counts) Total() int {
	return c.Int + c.Float + c.Vector
}

// Inst is an instruction with its physical registers. PSrc follows the
// slots of Src.
type Inst struct {
	insts.Instruction

	PDst  PhysReg
	PSrc  [insts.MaxSources]PhysReg
	PMask PhysReg

	// DstWide is set when PDst has a partner register.
	DstWide bool
}

// Result is what Rename produces for one column.
type Result struct {
	Column ColumnID
	Insts  []Inst

	// Base and Offset hold the implicit x1 and x2.
	Base   PhysReg
	Offset PhysReg
}

// Config gives the size of each physical register file.
type Config struct {
	NumInt    int `json:"num_int"`
	NumFloat  int `json:"num_float"`
	NumVector int `json:"num_vector"`
}

// DefaultConfig returns the default register file sizes.
func DefaultConfig() Config {
	return Config{NumInt: 256, NumFloat: 256, NumVector: 256}
}

type column struct {
	live  bool
	gen   uint32
	owned []PhysReg
}

// Renamer owns the physical register files.
type Renamer struct {
	config Config

	free     [insts.NumRegClasses][]int32
	notReady [insts.NumRegClasses][]bool
	partner  []int32

	columns   []column
	freeSlots []uint32
}

// New creates a renamer with every register free and ready.
func New(config Config) *Renamer {
	r := &Renamer{config: config}

	sizes := [insts.NumRegClasses]int{
		config.NumInt, config.NumFloat, config.NumVector,
	}

	for c, n := range sizes {
		r.notReady[c] = make([]bool, n)

		first := 0
		if c == insts.ClassInt.Index() {
			first = 1
		}

		for id := first; id < n; id++ {
			r.free[c] = append(r.free[c], int32(id))
		}
	}

	r.partner = make([]int32, config.NumVector)
	for i := range r.partner {
		r.partner[i] = -1
	}

	return r
}

// Available returns the number of free registers per class.
func (r *Renamer) Available() Counts {
	return Counts{
		Int:    len(r.free[0]),
		Float:  len(r.free[1]),
		Vector: len(r.free[2]),
	}
}

// CanAdmit returns true if every class has enough free registers.
func (r *Renamer) CanAdmit(need Counts) bool {
	a := r.Available()
	return need.Int <= a.Int && need.Float <= a.Float &&
		need.Vector <= a.Vector
}

// RegCounts returns the registers Rename would allocate for seq.
func RegCounts(seq []insts.Instruction) (Counts, error) {
	var counts Counts

	w := newWalker(func(class insts.RegClass) PhysReg {
		counts.add(class)
		return PhysReg{Class: class, ID: int32(counts.Total())}
	})

	if _, err := w.walk(seq); err != nil {
		return Counts{}, err
	}

	return counts, nil
}

// Rename binds the column's registers. Either every register is allocated
// or none is.
func (r *Renamer) Rename(seq []insts.Instruction) (*Result, error) {
	need, err := RegCounts(seq)
	if err != nil {
		return nil, err
	}

	if !r.CanAdmit(need) {
		return nil, fmt.Errorf("%w: need %+v, have %+v",
			ErrNoRegisters, need, r.Available())
	}

	id := r.newColumn()
	col := &r.columns[id.slot]

	w := newWalker(func(class insts.RegClass) PhysReg {
		reg := r.take(class)
		col.owned = append(col.owned, reg)

		return reg
	})
	w.pair = func(reg PhysReg) {
		partner := r.take(insts.ClassVector)
		r.partner[reg.ID] = partner.ID
	}

	out, err := w.walk(seq)
	if err != nil {
		panic(fmt.Sprintf("rename failed after dry run: %v", err))
	}

	return &Result{
		Column: id,
		Insts:  out,
		Base:   w.bind[0][insts.RegBaseAddr],
		Offset: w.bind[0][insts.RegOffset],
	}, nil
}

func (r *Renamer) newColumn() ColumnID {
	if n := len(r.freeSlots); n > 0 {
		slot := r.freeSlots[n-1]
		r.freeSlots = r.freeSlots[:n-1]

		c := &r.columns[slot]
		c.live = true
		c.gen++

		return ColumnID{slot: slot, gen: c.gen}
	}

	r.columns = append(r.columns, column{live: true})

	return ColumnID{slot: uint32(len(r.columns) - 1)}
}

func (r *Renamer) take(class insts.RegClass) PhysReg {
	c := class.Index()
	id := r.free[c][0]
	r.free[c] = r.free[c][1:]

	return PhysReg{Class: class, ID: id}
}

func (r *Renamer) give(reg PhysReg) {
	c := reg.Class.Index()
	r.notReady[c][reg.ID] = false
	r.free[c] = append(r.free[c], reg.ID)
}

// Free releases every register of the column, partners included, and
// returns how many were released.
func (r *Renamer) Free(id ColumnID) (int, error) {
	if int(id.slot) >= len(r.columns) {
		return 0, fmt.Errorf("%w: %s", ErrDoubleFree, id)
	}

	col := &r.columns[id.slot]
	if !col.live || col.gen != id.gen {
		return 0, fmt.Errorf("%w: %s", ErrDoubleFree, id)
	}

	n := 0
	for _, reg := range col.owned {
		if reg.Class == insts.ClassVector && r.partner[reg.ID] >= 0 {
			r.give(PhysReg{Class: insts.ClassVector, ID: r.partner[reg.ID]})
			r.partner[reg.ID] = -1
			n++
		}

		r.give(reg)
		n++
	}

	col.owned = nil
	col.live = false
	r.freeSlots = append(r.freeSlots, id.slot)

	return n, nil
}

// Partner returns the second half of a double-width vector register.
func (r *Renamer) Partner(reg PhysReg) (PhysReg, bool) {
	if reg.Class != insts.ClassVector || r.partner[reg.ID] < 0 {
		return PhysReg{}, false
	}

	return PhysReg{Class: insts.ClassVector, ID: r.partner[reg.ID]}, true
}

// IsWide returns true if the register has a partner.
func (r *Renamer) IsWide(reg PhysReg) bool {
	_, ok := r.Partner(reg)
	return ok
}

// NotReady marks a register, and its partner, as having a pending write.
// The zero register is never marked.
func (r *Renamer) NotReady(reg PhysReg) {
	r.mark(reg, true)
}

// SetReady clears the pending write of a register and its partner.
func (r *Renamer) SetReady(reg PhysReg) {
	r.mark(reg, false)
}

func (r *Renamer) mark(reg PhysReg, pending bool) {
	if !reg.Valid() || reg == ZeroReg {
		return
	}

	r.notReady[reg.Class.Index()][reg.ID] = pending
	if p, ok := r.Partner(reg); ok {
		r.notReady[p.Class.Index()][p.ID] = pending
	}
}

// IsReady returns true if no write to the register is outstanding. Invalid
// handles are always ready.
func (r *Renamer) IsReady(reg PhysReg) bool {
	if !reg.Valid() {
		return true
	}

	if r.notReady[reg.Class.Index()][reg.ID] {
		return false
	}

	if p, ok := r.Partner(reg); ok {
		return !r.notReady[p.Class.Index()][p.ID]
	}

	return true
}

// NotReadyRegs returns every register with a pending write.
func (r *Renamer) NotReadyRegs() []PhysReg {
	var regs []PhysReg

	classes := [insts.NumRegClasses]insts.RegClass{
		insts.ClassInt, insts.ClassFloat, insts.ClassVector,
	}

	for c, set := range r.notReady {
		for id, pending := range set {
			if pending {
				regs = append(regs, PhysReg{Class: classes[c], ID: int32(id)})
			}
		}
	}

	return regs
}

// Live returns the number of columns holding registers.
func (r *Renamer) Live() int {
	return len(r.columns) - len(r.freeSlots)
}
