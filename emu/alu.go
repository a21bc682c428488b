package emu

import (
	"math"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

func (e *Emulator) x(in *rename.Inst, k int) int64 {
	return e.regs.ReadInt(in.PSrc[k])
}

func (e *Emulator) f(in *rename.Inst, k int) float64 {
	return e.regs.ReadFloat(in.PSrc[k])
}

// intOp evaluates a two-source integer op. The second operand is a register
// or an immediate depending on the shape.
func intOp(fn func(a, b int64) int64) handler {
	return func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		a := e.x(in, 0)

		b := in.Src[1].Value
		if in.Src[1].Class == insts.ClassInt {
			b = e.x(in, 1)
		}

		e.regs.WriteInt(in.PDst, fn(a, b))

		return Outcome{}
	}
}

func div(a, b int64) int64 {
	if b == 0 {
		return -1
	}

	if a == math.MinInt64 && b == -1 {
		return a
	}

	return a / b
}

func rem(a, b int64) int64 {
	if b == 0 {
		return a
	}

	if a == math.MinInt64 && b == -1 {
		return 0
	}

	return a % b
}

var aluHandlers = map[insts.Opcode]handler{
	insts.OpADD:  intOp(func(a, b int64) int64 { return a + b }),
	insts.OpSUB:  intOp(func(a, b int64) int64 { return a - b }),
	insts.OpAND:  intOp(func(a, b int64) int64 { return a & b }),
	insts.OpOR:   intOp(func(a, b int64) int64 { return a | b }),
	insts.OpXOR:  intOp(func(a, b int64) int64 { return a ^ b }),
	insts.OpSLL:  intOp(func(a, b int64) int64 { return a << (b & 63) }),
	insts.OpSRL:  intOp(func(a, b int64) int64 { return int64(uint64(a) >> (b & 63)) }),
	insts.OpMUL:  intOp(func(a, b int64) int64 { return a * b }),
	insts.OpDIV:  intOp(div),
	insts.OpREM:  intOp(rem),
	insts.OpADDI: intOp(func(a, b int64) int64 { return a + b }),
	insts.OpANDI: intOp(func(a, b int64) int64 { return a & b }),
	insts.OpSLLI: intOp(func(a, b int64) int64 { return a << (b & 63) }),
	insts.OpSRLI: intOp(func(a, b int64) int64 { return int64(uint64(a) >> (b & 63)) }),
	insts.OpLI: func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		e.regs.WriteInt(in.PDst, in.Src[0].Value)
		return Outcome{}
	},

	// The timing core applies the new vector length to the column CSR
	// before executing vsetvli.
	insts.OpVSETVLI: func(e *Emulator, in *rename.Inst, ctx *Context) Outcome {
		e.regs.WriteInt(in.PDst, int64(ctx.CSR.VL))
		return Outcome{}
	},
}

func floatOp(fn func(a, b float64) float64) handler {
	return func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		e.regs.WriteFloat(in.PDst, fn(e.f(in, 0), e.f(in, 1)))
		return Outcome{}
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}

var floatHandlers = map[insts.Opcode]handler{
	insts.OpFADD: floatOp(func(a, b float64) float64 { return a + b }),
	insts.OpFSUB: floatOp(func(a, b float64) float64 { return a - b }),
	insts.OpFMUL: floatOp(func(a, b float64) float64 { return a * b }),
	insts.OpFDIV: floatOp(func(a, b float64) float64 { return a / b }),
	insts.OpFSQRT: func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		e.regs.WriteFloat(in.PDst, math.Sqrt(e.f(in, 0)))
		return Outcome{}
	},
	insts.OpFMADD: func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		e.regs.WriteFloat(in.PDst, e.f(in, 0)*e.f(in, 1)+e.f(in, 2))
		return Outcome{}
	},
	insts.OpFMVWX: func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		bits := uint32(e.x(in, 0))
		e.regs.WriteFloat(in.PDst, float64(math.Float32frombits(bits)))

		return Outcome{}
	},
	insts.OpFMVXW: func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		bits := math.Float32bits(float32(e.f(in, 0)))
		e.regs.WriteInt(in.PDst, int64(int32(bits)))

		return Outcome{}
	},
	insts.OpFEQ: func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		e.regs.WriteInt(in.PDst, boolInt(e.f(in, 0) == e.f(in, 1)))
		return Outcome{}
	},
	insts.OpFLT: func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		e.regs.WriteInt(in.PDst, boolInt(e.f(in, 0) < e.f(in, 1)))
		return Outcome{}
	},
}
