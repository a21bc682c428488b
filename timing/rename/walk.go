package rename

import (
	"fmt"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
)

// walker performs one pass over a column's instructions. The same pass is
// used as a dry run for RegCounts and for the real allocation.
type walker struct {
	alloc func(class insts.RegClass) PhysReg
	pair  func(reg PhysReg)

	bind [insts.NumRegClasses][NumLogical]PhysReg
	wide [NumLogical]bool
}

func newWalker(alloc func(class insts.RegClass) PhysReg) *walker {
	w := &walker{alloc: alloc}
	w.bind[0][insts.RegZero] = ZeroReg
	w.bind[0][insts.RegBaseAddr] = alloc(insts.ClassInt)
	w.bind[0][insts.RegOffset] = alloc(insts.ClassInt)

	return w
}

func (w *walker) walk(seq []insts.Instruction) ([]Inst, error) {
	out := make([]Inst, len(seq))

	for pc := range seq {
		in, err := w.inst(seq[pc])
		if err != nil {
			return nil, fmt.Errorf("pc %d: %w", pc, err)
		}

		out[pc] = in
	}

	return out, nil
}

func (w *walker) resolve(inst *insts.Instruction, op insts.Operand) (PhysReg, error) {
	if op.Value < 0 || op.Value >= NumLogical {
		return PhysReg{}, fmt.Errorf("%w: %s in %s",
			ErrUnresolvedRegister, op, inst)
	}

	reg := w.bind[op.Class.Index()][op.Value]
	if !reg.Valid() {
		return PhysReg{}, fmt.Errorf("%w: %s in %s",
			ErrUnresolvedRegister, op, inst)
	}

	return reg, nil
}

func (w *walker) inst(inst insts.Instruction) (Inst, error) {
	out := Inst{Instruction: inst}
	srcWide := false

	for k, op := range inst.Src {
		if !op.IsReg() {
			continue
		}

		reg, err := w.resolve(&inst, op)
		if err != nil {
			return out, err
		}

		out.PSrc[k] = reg
		if op.Class == insts.ClassVector && w.wide[op.Value] {
			srcWide = true
		}
	}

	if inst.IsMasked() {
		reg, err := w.resolve(&inst, inst.Mask)
		if err != nil {
			return out, err
		}

		out.PMask = reg
	}

	if !inst.HasDst() {
		return out, nil
	}

	dst := inst.Dst
	if dst.Value < 0 || dst.Value >= NumLogical {
		return out, fmt.Errorf("%w: %s in %s",
			ErrUnresolvedRegister, dst, &inst)
	}

	c := dst.Class.Index()
	if !w.bind[c][dst.Value].Valid() {
		w.bind[c][dst.Value] = w.alloc(dst.Class)
	}

	out.PDst = w.bind[c][dst.Value]

	if dst.Class == insts.ClassVector {
		if DestWidth(KindOf(&inst), srcWide) && !w.wide[dst.Value] {
			w.wide[dst.Value] = true
			w.pairWith(out.PDst)
		}

		out.DstWide = w.wide[dst.Value]
	}

	return out, nil
}

func (w *walker) pairWith(reg PhysReg) {
	if w.pair != nil {
		w.pair(reg)
		return
	}

	w.alloc(insts.ClassVector)
}
