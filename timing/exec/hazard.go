package exec

import (
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// WaitReason tells why an instruction could not issue this cycle.
type WaitReason int

// Wait reasons.
const (
	WaitNone WaitReason = iota
	WaitSourceNotReady
	WaitDestNotReady
	WaitMaskNotReady
	WaitMemoryOrder
	WaitResource
	NumWaitReasons
)

func (r WaitReason) String() string {
	switch r {
	case WaitNone:
		return "None"
	case WaitSourceNotReady:
		return "SourceNotReady"
	case WaitDestNotReady:
		return "DestNotReady"
	case WaitMaskNotReady:
		return "MaskNotReady"
	case WaitMemoryOrder:
		return "MemoryOrder"
	case WaitResource:
		return "Resource"
	default:
		return "Unknown"
	}
}

// memOrder counts a column's address-class instructions that have issued
// but not completed.
type memOrder struct {
	reads  int
	writes int
}

// CheckDependency returns the first reason the instruction cannot issue, or
// WaitNone. Source slots come from the operand shape. The destination must
// not have an outstanding write. Stores and atomics wait for every earlier
// memory instruction of the column; loads wait for earlier stores and
// atomics.
func (s *Stage) CheckDependency(in *rename.Inst, c *column.Column) WaitReason {
	for k, op := range in.Src {
		if op.IsReg() && !s.renamer.IsReady(in.PSrc[k]) {
			return WaitSourceNotReady
		}
	}

	if in.IsMasked() && !s.renamer.IsReady(in.PMask) {
		return WaitMaskNotReady
	}

	if in.HasDst() && !s.renamer.IsReady(in.PDst) {
		return WaitDestNotReady
	}

	if in.IsAddress() {
		o := s.order[c.UID]

		if in.IsLoad() && o.writes > 0 {
			return WaitMemoryOrder
		}

		if !in.IsLoad() && o.reads+o.writes > 0 {
			return WaitMemoryOrder
		}
	}

	return WaitNone
}

// CheckResource returns true if a unit of the instruction's pool can accept
// it this cycle.
func (s *Stage) CheckResource(in *rename.Inst) bool {
	return s.pickUnit(in) != nil
}
