package emu

import (
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// Cond is a branch comparison.
type Cond func(a, b int64) bool

// Branch comparisons.
var (
	CondEQ Cond = func(a, b int64) bool { return a == b }
	CondNE Cond = func(a, b int64) bool { return a != b }
	CondLT Cond = func(a, b int64) bool { return a < b }
	CondGE Cond = func(a, b int64) bool { return a >= b }
)

func branch(cond Cond) handler {
	return func(e *Emulator, in *rename.Inst, _ *Context) Outcome {
		return Outcome{Taken: cond(e.x(in, 0), e.x(in, 1))}
	}
}

var branchHandlers = map[insts.Opcode]handler{
	insts.OpBEQ: branch(CondEQ),
	insts.OpBNE: branch(CondNE),
	insts.OpBLT: branch(CondLT),
	insts.OpBGE: branch(CondGE),

	// jal links the index of the next instruction.
	insts.OpJAL: func(e *Emulator, in *rename.Inst, ctx *Context) Outcome {
		e.regs.WriteInt(in.PDst, int64(ctx.PC+1))
		return Outcome{Taken: true}
	},
}
