package emu

import (
	"math"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// Address-class instructions are evaluated when the load/store pipeline
// completes them. ctx.Lanes carries the addresses the core generated.

func (e *Emulator) loadScalar(in *rename.Inst, ctx *Context) Outcome {
	if len(ctx.Lanes) == 0 {
		return Outcome{}
	}

	size := in.MemBytes()
	v := e.memory.Read(ctx.Lanes[0].Addr, size)

	if in.Dst.Class == insts.ClassFloat {
		e.regs.WriteFloat(in.PDst, float64(math.Float32frombits(uint32(v))))
		return Outcome{}
	}

	e.regs.WriteInt(in.PDst, trunc(int64(v), size*8))

	return Outcome{}
}

func (e *Emulator) storeScalar(in *rename.Inst, ctx *Context) Outcome {
	if len(ctx.Lanes) == 0 {
		return Outcome{}
	}

	var v uint64
	if in.Src[0].Class == insts.ClassFloat {
		v = uint64(math.Float32bits(float32(e.f(in, 0))))
	} else {
		v = uint64(e.x(in, 0))
	}

	e.memory.Write(ctx.Lanes[0].Addr, in.MemBytes(), v)

	return Outcome{}
}

func (e *Emulator) amoScalar(in *rename.Inst, ctx *Context) Outcome {
	if len(ctx.Lanes) == 0 {
		return Outcome{}
	}

	size := in.MemBytes()
	addr := ctx.Lanes[0].Addr
	old := trunc(int64(e.memory.Read(addr, size)), size*8)

	e.memory.Write(addr, size, uint64(old+e.x(in, 1)))
	e.regs.WriteInt(in.PDst, old)

	return Outcome{}
}

func elemIndex(in *rename.Inst, l Lane) int {
	if in.Segments <= 1 {
		return l.Elem
	}

	return l.Elem*in.Segments + l.Field
}

func (e *Emulator) loadVector(in *rename.Inst, ctx *Context) Outcome {
	size := in.MemBytes()
	for _, l := range ctx.Lanes {
		v := trunc(int64(e.memory.Read(l.Addr, size)), size*8)
		e.regs.SetElem(in.PDst, elemIndex(in, l), uint64(v))
	}

	return Outcome{}
}

func (e *Emulator) storeVector(in *rename.Inst, ctx *Context) Outcome {
	size := in.MemBytes()
	for _, l := range ctx.Lanes {
		v := e.regs.Elem(in.PSrc[0], elemIndex(in, l))
		e.memory.Write(l.Addr, size, v)
	}

	return Outcome{}
}

func (e *Emulator) amoVector(in *rename.Inst, ctx *Context) Outcome {
	size := in.MemBytes()
	for _, l := range ctx.Lanes {
		old := trunc(int64(e.memory.Read(l.Addr, size)), size*8)
		data := int64(e.regs.Elem(in.PSrc[2], l.Elem))

		e.memory.Write(l.Addr, size, uint64(old+data))
		e.regs.SetElem(in.PDst, l.Elem, uint64(old))
	}

	return Outcome{}
}

var loadStoreHandlers = map[insts.Opcode]handler{
	insts.OpLW:      (*Emulator).loadScalar,
	insts.OpLD:      (*Emulator).loadScalar,
	insts.OpFLW:     (*Emulator).loadScalar,
	insts.OpSW:      (*Emulator).storeScalar,
	insts.OpSD:      (*Emulator).storeScalar,
	insts.OpFSW:     (*Emulator).storeScalar,
	insts.OpAMOADDW: (*Emulator).amoScalar,
	insts.OpAMOADDD: (*Emulator).amoScalar,

	insts.OpVLE32:       (*Emulator).loadVector,
	insts.OpVLE64:       (*Emulator).loadVector,
	insts.OpVLSE32:      (*Emulator).loadVector,
	insts.OpVLUXEI32:    (*Emulator).loadVector,
	insts.OpVLSEGE32:    (*Emulator).loadVector,
	insts.OpVSE32:       (*Emulator).storeVector,
	insts.OpVSE64:       (*Emulator).storeVector,
	insts.OpVSSE32:      (*Emulator).storeVector,
	insts.OpVSUXEI32:    (*Emulator).storeVector,
	insts.OpVSSEGE32:    (*Emulator).storeVector,
	insts.OpVAMOADDEI32: (*Emulator).amoVector,
}
