package insts

// Shape is the operand-class tag of an instruction. It fixes the number and
// classes of the destination and source operands.
type Shape uint8

// Operand shapes. The name lists the destination class first, then the
// sources: X integer, F float, V vector, I immediate.
const (
	ShapeNone Shape = iota
	ShapeXXX
	ShapeXXI
	ShapeXI
	ShapeFFF
	ShapeFF
	ShapeFFFF
	ShapeFX
	ShapeXF
	ShapeXFF
	ShapeV
	ShapeVV
	ShapeVVV
	ShapeVVX
	ShapeVVF
	ShapeVVI
	ShapeVX
	ShapeXV
	ShapeFV
	ShapeLoadX
	ShapeLoadF
	ShapeStoreX
	ShapeStoreF
	ShapeAmoX
	ShapeLoadV
	ShapeLoadVS
	ShapeLoadVX
	ShapeStoreV
	ShapeStoreVS
	ShapeStoreVX
	ShapeAmoV
	ShapeBranch
	ShapeJump
	ShapeCSR
	numShapes
)

// ShapeInfo describes the operand layout of a shape. Base, Stride, Index and
// Data are source slot numbers, -1 when the shape has no such operand.
type ShapeInfo struct {
	Dst    RegClass
	Src    [MaxSources]RegClass
	Base   int
	Stride int
	Index  int
	Data   int
}

// NumSources returns the number of used source slots.
func (s ShapeInfo) NumSources() int {
	n := 0
	for _, c := range s.Src {
		if c != ClassNone {
			n++
		}
	}

	return n
}

func alu(dst RegClass, srcs ...RegClass) ShapeInfo {
	s := ShapeInfo{Dst: dst, Base: -1, Stride: -1, Index: -1, Data: -1}
	copy(s.Src[:], srcs)

	return s
}

func mem(dst RegClass, base, stride, index, data int,
	srcs ...RegClass,
) ShapeInfo {
	s := ShapeInfo{
		Dst:    dst,
		Base:   base,
		Stride: stride,
		Index:  index,
		Data:   data,
	}
	copy(s.Src[:], srcs)

	return s
}

var shapeTable = [numShapes]ShapeInfo{
	ShapeNone:    alu(ClassNone),
	ShapeXXX:     alu(ClassInt, ClassInt, ClassInt),
	ShapeXXI:     alu(ClassInt, ClassInt, ClassImm),
	ShapeXI:      alu(ClassInt, ClassImm),
	ShapeFFF:     alu(ClassFloat, ClassFloat, ClassFloat),
	ShapeFF:      alu(ClassFloat, ClassFloat),
	ShapeFFFF:    alu(ClassFloat, ClassFloat, ClassFloat, ClassFloat),
	ShapeFX:      alu(ClassFloat, ClassInt),
	ShapeXF:      alu(ClassInt, ClassFloat),
	ShapeXFF:     alu(ClassInt, ClassFloat, ClassFloat),
	ShapeV:       alu(ClassVector),
	ShapeVV:      alu(ClassVector, ClassVector),
	ShapeVVV:     alu(ClassVector, ClassVector, ClassVector),
	ShapeVVX:     alu(ClassVector, ClassVector, ClassInt),
	ShapeVVF:     alu(ClassVector, ClassVector, ClassFloat),
	ShapeVVI:     alu(ClassVector, ClassVector, ClassImm),
	ShapeVX:      alu(ClassVector, ClassInt),
	ShapeXV:      alu(ClassInt, ClassVector),
	ShapeFV:      alu(ClassFloat, ClassVector),
	ShapeLoadX:   mem(ClassInt, 0, -1, -1, -1, ClassInt, ClassImm),
	ShapeLoadF:   mem(ClassFloat, 0, -1, -1, -1, ClassInt, ClassImm),
	ShapeStoreX:  mem(ClassNone, 1, -1, -1, 0, ClassInt, ClassInt, ClassImm),
	ShapeStoreF:  mem(ClassNone, 1, -1, -1, 0, ClassFloat, ClassInt, ClassImm),
	ShapeAmoX:    mem(ClassInt, 0, -1, -1, 1, ClassInt, ClassInt),
	ShapeLoadV:   mem(ClassVector, 0, -1, -1, -1, ClassInt),
	ShapeLoadVS:  mem(ClassVector, 0, 1, -1, -1, ClassInt, ClassInt),
	ShapeLoadVX:  mem(ClassVector, 0, -1, 1, -1, ClassInt, ClassVector),
	ShapeStoreV:  mem(ClassNone, 1, -1, -1, 0, ClassVector, ClassInt),
	ShapeStoreVS: mem(ClassNone, 1, 2, -1, 0, ClassVector, ClassInt, ClassInt),
	ShapeStoreVX: mem(ClassNone, 1, -1, 2, 0,
		ClassVector, ClassInt, ClassVector),
	ShapeAmoV: mem(ClassVector, 0, -1, 1, 2,
		ClassInt, ClassVector, ClassVector),
	ShapeBranch: alu(ClassNone, ClassInt, ClassInt),
	ShapeJump:   alu(ClassInt),
	ShapeCSR:    alu(ClassInt, ClassInt, ClassImm),
}

// Info returns the operand layout of the shape.
func (s Shape) Info() ShapeInfo {
	return shapeTable[s]
}

// VectorSources returns the source slots that hold vector registers.
func (s Shape) VectorSources() []int {
	var slots []int

	for k, c := range shapeTable[s].Src {
		if c == ClassVector {
			slots = append(slots, k)
		}
	}

	return slots
}
