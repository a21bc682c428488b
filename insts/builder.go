package insts

import "fmt"

// Make builds an instruction from a flat operand list. The destination comes
// first when the shape has one, followed by the sources in slot order.
func Make(op Opcode, operands ...int64) (Instruction, error) {
	if op == OpInvalid || op >= numOpcodes {
		return Instruction{}, fmt.Errorf("%w: unknown opcode %d",
			ErrMalformed, op)
	}

	inst := Instruction{Op: op, Segments: 1}
	s := shapeTable[inst.Shape()]

	want := s.NumSources()
	if s.Dst != ClassNone {
		want++
	}

	if len(operands) != want {
		return Instruction{}, fmt.Errorf(
			"%w: %s takes %d operands, got %d",
			ErrMalformed, op, want, len(operands))
	}

	k := 0
	if s.Dst != ClassNone {
		inst.Dst = Operand{Class: s.Dst, Value: operands[0]}
		k++
	}

	for i, c := range s.Src {
		if c == ClassNone {
			continue
		}

		inst.Src[i] = Operand{Class: c, Value: operands[k]}
		k++
	}

	return inst, nil
}

// MustMake is like Make but panics on malformed operands.
func MustMake(op Opcode, operands ...int64) Instruction {
	inst, err := Make(op, operands...)
	if err != nil {
		panic(err)
	}

	return inst
}

// MustBranch builds a conditional branch to the instruction index target.
func MustBranch(op Opcode, rs1, rs2 int64, target int) Instruction {
	inst := MustMake(op, rs1, rs2)
	inst.Target = target

	return inst
}

// MustJump builds an unconditional jump that links into rd.
func MustJump(rd int64, target int) Instruction {
	inst := MustMake(OpJAL, rd)
	inst.Target = target

	return inst
}

// Masked returns a copy of the instruction predicated by v0.
func (i Instruction) Masked() Instruction {
	i.Mask = Operand{Class: ClassVector, Value: RegMask}
	return i
}

// WithSegments returns a copy with the given number of segment fields.
func (i Instruction) WithSegments(n int) Instruction {
	i.Segments = n
	return i
}

// EncodeVType packs the element width in bits and the register group
// multiplier into a vsetvli immediate.
func EncodeVType(sewBits, lmul int) int64 {
	return int64(sewBits)<<8 | int64(lmul)
}

// DecodeVType unpacks a vsetvli immediate.
func DecodeVType(imm int64) (sewBits, lmul int) {
	return int(imm >> 8), int(imm & 0xff)
}
