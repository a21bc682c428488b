package emu

import (
	"math"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// trunc sign-extends the low bits of v.
func trunc(v int64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return v
	}

	shift := 64 - bits

	return v << shift >> shift
}

// active calls fn for every element below VL that the mask enables.
func (e *Emulator) active(in *rename.Inst, ctx *Context, fn func(i int)) {
	for i := 0; i < ctx.CSR.VL; i++ {
		if in.IsMasked() && !e.MaskBit(in.PMask, i) {
			continue
		}

		fn(i)
	}
}

// scalarOperand returns the second operand of a vector op for element i:
// a vector element, a scalar register or an immediate.
func (e *Emulator) scalarOperand(in *rename.Inst, i int) int64 {
	switch in.Src[1].Class {
	case insts.ClassVector:
		return int64(e.regs.Elem(in.PSrc[1], i))
	case insts.ClassInt:
		return e.x(in, 1)
	default:
		return in.Src[1].Value
	}
}

func vectorIntOp(widen bool, fn func(a, b int64) int64) handler {
	return func(e *Emulator, in *rename.Inst, ctx *Context) Outcome {
		bits := ctx.CSR.SEW
		if widen {
			bits *= 2
		}

		e.active(in, ctx, func(i int) {
			a := int64(e.regs.Elem(in.PSrc[0], i))
			v := trunc(fn(a, e.scalarOperand(in, i)), bits)
			e.regs.SetElem(in.PDst, i, uint64(v))
		})

		return Outcome{}
	}
}

func vectorFloatOp(fn func(a, b float64) float64) handler {
	return func(e *Emulator, in *rename.Inst, ctx *Context) Outcome {
		e.active(in, ctx, func(i int) {
			a := e.regs.FloatElem(in.PSrc[0], i)

			var b float64
			switch in.Src[1].Class {
			case insts.ClassVector:
				b = e.regs.FloatElem(in.PSrc[1], i)
			case insts.ClassFloat:
				b = e.f(in, 1)
			}

			e.regs.SetFloatElem(in.PDst, i, fn(a, b))
		})

		return Outcome{}
	}
}

func vectorFloatUnary(fn func(a float64) float64) handler {
	return vectorFloatOp(func(a, _ float64) float64 { return fn(a) })
}

func add(a, b int64) int64 { return a + b }
func mul(a, b int64) int64 { return a * b }

var vectorHandlers = map[insts.Opcode]handler{
	insts.OpVADDVV: vectorIntOp(false, add),
	insts.OpVADDVX: vectorIntOp(false, add),
	insts.OpVADDVI: vectorIntOp(false, add),
	insts.OpVSUBVV: vectorIntOp(false, func(a, b int64) int64 { return a - b }),
	insts.OpVMULVV: vectorIntOp(false, mul),
	insts.OpVMULVX: vectorIntOp(false, mul),
	insts.OpVANDVV: vectorIntOp(false, func(a, b int64) int64 { return a & b }),
	insts.OpVSLLVI: vectorIntOp(false, func(a, b int64) int64 { return a << (b & 63) }),
	insts.OpVMSEQVX: vectorIntOp(false, func(a, b int64) int64 {
		return boolInt(a == b)
	}),
	insts.OpVMVVX: func(e *Emulator, in *rename.Inst, ctx *Context) Outcome {
		x := trunc(e.x(in, 0), ctx.CSR.SEW)
		e.active(in, ctx, func(i int) {
			e.regs.SetElem(in.PDst, i, uint64(x))
		})

		return Outcome{}
	},
	insts.OpVMVXS: func(e *Emulator, in *rename.Inst, ctx *Context) Outcome {
		e.regs.WriteInt(in.PDst, trunc(int64(e.regs.Elem(in.PSrc[0], 0)),
			ctx.CSR.SEW))
		return Outcome{}
	},
	insts.OpVIDV: func(e *Emulator, in *rename.Inst, ctx *Context) Outcome {
		e.active(in, ctx, func(i int) {
			e.regs.SetElem(in.PDst, i, uint64(i))
		})

		return Outcome{}
	},
	insts.OpVREDSUMVS: func(e *Emulator, in *rename.Inst, ctx *Context) Outcome {
		sum := int64(e.regs.Elem(in.PSrc[1], 0))
		e.active(in, ctx, func(i int) {
			sum += int64(e.regs.Elem(in.PSrc[0], i))
		})
		e.regs.SetElem(in.PDst, 0, uint64(trunc(sum, ctx.CSR.SEW)))

		return Outcome{}
	},

	insts.OpVFADDVV: vectorFloatOp(func(a, b float64) float64 { return a + b }),
	insts.OpVFADDVF: vectorFloatOp(func(a, b float64) float64 { return a + b }),
	insts.OpVFMULVV: vectorFloatOp(func(a, b float64) float64 { return a * b }),
	insts.OpVFEXPV:  vectorFloatUnary(math.Exp),
	insts.OpVFSQRTV: vectorFloatUnary(math.Sqrt),
	insts.OpVFMVFS: func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		e.regs.WriteFloat(in.PDst, e.regs.FloatElem(in.PSrc[0], 0))
		return Outcome{}
	},

	insts.OpVWADDVV: vectorIntOp(true, add),
	insts.OpVWMULVV: vectorIntOp(true, mul),
	insts.OpVWADDUVX: vectorIntOp(true, func(a, b int64) int64 {
		return int64(uint64(a)) + b
	}),
	insts.OpVFWADDVV:  vectorFloatOp(func(a, b float64) float64 { return a + b }),
	insts.OpVFWCVTFFV: vectorFloatUnary(func(a float64) float64 { return a }),
	insts.OpVNSRLWI: func(e *Emulator, in *rename.Inst, ctx *Context) Outcome {
		shift := uint(in.Src[1].Value & 127)
		e.active(in, ctx, func(i int) {
			v := e.regs.Elem(in.PSrc[0], i) >> shift
			e.regs.SetElem(in.PDst, i, uint64(trunc(int64(v), ctx.CSR.SEW)))
		})

		return Outcome{}
	},
	insts.OpVFNCVTFFW: vectorFloatUnary(func(a float64) float64 {
		return float64(float32(a))
	}),
}
