package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/core"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/exec"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// tracer prints unit events. Level 1 shows retirements and faults, level 2
// adds issues and stalls.
type tracer struct {
	out   io.Writer
	unit  *core.Unit
	level int

	fault *color.Color
}

func attachTracer(out io.Writer, u *core.Unit, level int) *tracer {
	t := &tracer{
		out:   out,
		unit:  u,
		level: level,
		fault: color.New(color.FgRed),
	}

	u.AcceptHook(t)
	u.Exec.AcceptHook(t)

	return t
}

func (t *tracer) Func(ctx sim.HookCtx) {
	now := t.unit.Cycles()

	switch ctx.Pos {
	case core.HookPosFault:
		t.fault.Fprintf(t.out, "%8d  fault   %v\n", now, ctx.Item)
	case exec.HookPosColumnDone:
		fmt.Fprintf(t.out, "%8d  done    %s\n", now, ctx.Item.(*column.Column))
	case exec.HookPosIssue:
		if t.level >= 2 {
			in := ctx.Item.(*rename.Inst)
			fmt.Fprintf(t.out, "%8d  issue   %s\n", now, in.Instruction)
		}
	case exec.HookPosStall:
		if t.level >= 2 {
			fmt.Fprintf(t.out, "%8d  stall   %s: %v\n",
				now, ctx.Item.(*column.Column), ctx.Detail)
		}
	}
}
