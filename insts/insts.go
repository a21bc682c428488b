// Package insts provides the decoded instruction model consumed by the NDP
// unit timing core.
//
// Instructions are immutable values. Every opcode maps to exactly one operand
// shape, and the shape determines the destination/source register classes,
// which source slot holds the address base, stride, index or store data, and
// how many immediates the instruction carries. Timing stages dispatch on the
// shape rather than on individual opcodes.
//
// Usage:
//
//	add := insts.MustMake(insts.OpADD, 3, 1, 2)      // x3 = x1 + x2
//	ld := insts.MustMake(insts.OpVLE32, 4, 1)        // v4 = mem[x1]
//	br := insts.MustBranch(insts.OpBNE, 3, 0, 7)     // if x3 != x0 goto 7
package insts

import (
	"errors"
	"fmt"
	"strings"
)

// MaxSources is the number of source slots an instruction carries.
const MaxSources = 5

// Implicit logical registers seeded for every column.
const (
	// RegZero is the hard-wired zero integer register.
	RegZero = 0
	// RegBaseAddr holds the base address of the originating request.
	RegBaseAddr = 1
	// RegOffset holds the per-column offset of the originating request.
	RegOffset = 2
	// RegMask is the vector register used as the active-lane mask.
	RegMask = 0
)

// ErrMalformed is returned when an instruction does not match its shape.
var ErrMalformed = errors.New("malformed instruction")

// RegClass tells what an operand slot holds.
type RegClass uint8

// Operand classes.
const (
	ClassNone RegClass = iota
	ClassInt
	ClassFloat
	ClassVector
	ClassImm
)

// NumRegClasses is the number of register (non-immediate) classes.
const NumRegClasses = 3

// IsReg returns true if the class names a register file.
func (c RegClass) IsReg() bool {
	return c == ClassInt || c == ClassFloat || c == ClassVector
}

// Index returns the position of a register class in per-class tables.
func (c RegClass) Index() int {
	switch c {
	case ClassInt:
		return 0
	case ClassFloat:
		return 1
	case ClassVector:
		return 2
	default:
		panic(fmt.Sprintf("class %d is not a register class", c))
	}
}

func (c RegClass) String() string {
	switch c {
	case ClassInt:
		return "x"
	case ClassFloat:
		return "f"
	case ClassVector:
		return "v"
	case ClassImm:
		return "#"
	default:
		return "-"
	}
}

// Operand is one slot of an instruction. For register classes Value is the
// register number (logical before renaming, physical after). For ClassImm it
// is the immediate.
type Operand struct {
	Class RegClass
	Value int64
}

// IsReg returns true if the operand names a register.
func (o Operand) IsReg() bool {
	return o.Class.IsReg()
}

func (o Operand) String() string {
	if o.Class == ClassNone {
		return "-"
	}

	return fmt.Sprintf("%s%d", o.Class, o.Value)
}

// Instruction is a decoded instruction.
type Instruction struct {
	Op  Opcode
	Dst Operand
	Src [MaxSources]Operand

	// Mask is the active-lane mask register; ClassNone if unmasked.
	Mask Operand

	// Target is the instruction index a branch or jump transfers to.
	Target int

	// Segments is the number of fields per element for segment accesses.
	Segments int
}

// Info returns the static properties of the instruction's opcode.
func (i *Instruction) Info() OpInfo {
	return opTable[i.Op]
}

// Shape returns the operand shape of the instruction.
func (i *Instruction) Shape() Shape {
	return opTable[i.Op].Shape
}

// Unit returns the functional unit class the instruction executes on.
func (i *Instruction) Unit() FUClass {
	return opTable[i.Op].Unit
}

// IsVector returns true if the instruction executes on a vector FU.
func (i *Instruction) IsVector() bool {
	return opTable[i.Op].Vector
}

// IsLoad returns true for loads.
func (i *Instruction) IsLoad() bool {
	return opTable[i.Op].Flags&FlagLoad != 0
}

// IsStore returns true for stores.
func (i *Instruction) IsStore() bool {
	return opTable[i.Op].Flags&FlagStore != 0
}

// IsAtomic returns true for atomic memory operations.
func (i *Instruction) IsAtomic() bool {
	return opTable[i.Op].Flags&FlagAtomic != 0
}

// IsAddress returns true for any instruction scheduled through the address
// unit and handed to the load/store pipeline.
func (i *Instruction) IsAddress() bool {
	return opTable[i.Op].Flags&(FlagLoad|FlagStore|FlagAtomic) != 0
}

// IsBranch returns true for branches and jumps.
func (i *Instruction) IsBranch() bool {
	return opTable[i.Op].Flags&FlagBranch != 0
}

// IsCSR returns true for instructions writing the vector CSR block.
func (i *Instruction) IsCSR() bool {
	return opTable[i.Op].Flags&FlagCSR != 0
}

// IsWidening returns true for vector ops producing double-width results.
func (i *Instruction) IsWidening() bool {
	return opTable[i.Op].Flags&FlagWiden != 0
}

// IsNarrowing returns true for vector ops consuming double-width sources.
func (i *Instruction) IsNarrowing() bool {
	return opTable[i.Op].Flags&FlagNarrow != 0
}

// IsMasked returns true if the instruction is predicated by a mask register.
func (i *Instruction) IsMasked() bool {
	return i.Mask.Class == ClassVector
}

// HasDst returns true if the instruction writes a register.
func (i *Instruction) HasDst() bool {
	return i.Dst.IsReg()
}

// MemBytes returns the element width of a memory access in bytes.
func (i *Instruction) MemBytes() int {
	return opTable[i.Op].MemBytes
}

// Base returns the address base operand of a memory instruction.
func (i *Instruction) Base() (Operand, bool) {
	return i.slot(shapeTable[i.Shape()].Base)
}

// Stride returns the stride operand of a strided memory instruction.
func (i *Instruction) Stride() (Operand, bool) {
	return i.slot(shapeTable[i.Shape()].Stride)
}

// Index returns the index vector operand of an indexed memory instruction.
func (i *Instruction) Index() (Operand, bool) {
	return i.slot(shapeTable[i.Shape()].Index)
}

// Offset returns the immediate offset of a scalar memory instruction.
func (i *Instruction) Offset() int64 {
	s := shapeTable[i.Shape()]
	for k := 0; k < len(s.Src); k++ {
		if s.Src[k] == ClassImm {
			return i.Src[k].Value
		}
	}

	return 0
}

func (i *Instruction) slot(k int) (Operand, bool) {
	if k < 0 {
		return Operand{}, false
	}

	return i.Src[k], true
}

// Sources returns every register source operand, including the mask.
func (i *Instruction) Sources() []Operand {
	srcs := make([]Operand, 0, MaxSources+1)
	for _, s := range i.Src {
		if s.IsReg() {
			srcs = append(srcs, s)
		}
	}

	if i.IsMasked() {
		srcs = append(srcs, i.Mask)
	}

	return srcs
}

func (i Instruction) String() string {
	var sb strings.Builder

	sb.WriteString(opTable[i.Op].Name)

	sep := " "
	if i.HasDst() {
		sb.WriteString(sep + i.Dst.String())
		sep = ", "
	}

	for _, s := range i.Src {
		if s.Class == ClassNone {
			continue
		}

		sb.WriteString(sep + s.String())
		sep = ", "
	}

	if i.IsBranch() {
		fmt.Fprintf(&sb, "%s@%d", sep, i.Target)
	}

	if i.IsMasked() {
		sb.WriteString(", " + i.Mask.String() + ".t")
	}

	return sb.String()
}

// Validate checks the operands against the opcode's shape.
func (i *Instruction) Validate() error {
	if int(i.Op) >= len(opTable) || i.Op == OpInvalid {
		return fmt.Errorf("%w: unknown opcode %d", ErrMalformed, i.Op)
	}

	s := shapeTable[i.Shape()]
	if i.Dst.Class != s.Dst {
		return fmt.Errorf("%w: %s expects dst class %s, got %s",
			ErrMalformed, i.Info().Name, s.Dst, i.Dst.Class)
	}

	for k := 0; k < MaxSources; k++ {
		if i.Src[k].Class != s.Src[k] {
			return fmt.Errorf("%w: %s expects src%d class %s, got %s",
				ErrMalformed, i.Info().Name, k, s.Src[k], i.Src[k].Class)
		}
	}

	if i.IsMasked() && !i.IsVector() {
		return fmt.Errorf("%w: %s cannot be masked", ErrMalformed,
			i.Info().Name)
	}

	return nil
}
