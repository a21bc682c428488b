package rename

import "github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"

// WidthKind is the width class of a vector opcode.
type WidthKind uint8

// Width classes.
const (
	WidthNormal WidthKind = iota
	WidthWiden
	WidthNarrow
)

// KindOf returns the width class of an instruction.
func KindOf(inst *insts.Instruction) WidthKind {
	switch {
	case inst.IsWidening():
		return WidthWiden
	case inst.IsNarrowing():
		return WidthNarrow
	default:
		return WidthNormal
	}
}

// DestWidth decides whether a vector destination needs a double-width
// register pair. Widening results are always double and narrowing results
// always single; any other op produces double width iff one of its vector
// sources is double. The vector length multiplier plays no part: it is a
// run-time CSR value while bindings are fixed when the column is renamed.
func DestWidth(kind WidthKind, srcWide bool) bool {
	switch kind {
	case WidthWiden:
		return true
	case WidthNarrow:
		return false
	default:
		return srcWide
	}
}
