package exec

import (
	"fmt"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/emu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// laneAddr computes the address of element i, field f of a vector memory
// access. Each shape reads its address operands from fixed slots.
type laneAddr func(v emu.ValueModel, in *rename.Inst, base int64, i, f int) uint64

func unitStride(_ emu.ValueModel, in *rename.Inst, base int64, i, f int) uint64 {
	size := int64(in.MemBytes())
	segs := int64(segments(in))

	return uint64(base + int64(i)*size*segs + int64(f)*size)
}

func strided(v emu.ValueModel, in *rename.Inst, base int64, i, f int) uint64 {
	stride := v.ReadInt(in.PSrc[in.Shape().Info().Stride])
	return uint64(base + int64(i)*stride + int64(f)*int64(in.MemBytes()))
}

func indexed(v emu.ValueModel, in *rename.Inst, base int64, i, f int) uint64 {
	off := v.ReadVectorElem(in.PSrc[in.Shape().Info().Index], i)
	return uint64(base + off + int64(f)*int64(in.MemBytes()))
}

var laneAddrs = map[insts.Shape]laneAddr{
	insts.ShapeLoadV:   unitStride,
	insts.ShapeStoreV:  unitStride,
	insts.ShapeLoadVS:  strided,
	insts.ShapeStoreVS: strided,
	insts.ShapeLoadVX:  indexed,
	insts.ShapeStoreVX: indexed,
	insts.ShapeAmoV:    indexed,
}

func segments(in *rename.Inst) int {
	if in.Segments < 1 {
		return 1
	}

	return in.Segments
}

// deriveLanes expands an address-class instruction into one access per
// active element and field. Scalar accesses have a single lane.
func deriveLanes(
	v emu.ValueModel,
	in *rename.Inst,
	csr column.CSR,
) ([]emu.Lane, error) {
	slot := in.Shape().Info().Base
	if slot < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, &in.Instruction)
	}

	base := v.ReadInt(in.PSrc[slot])

	if !in.IsVector() {
		return []emu.Lane{{Addr: uint64(base + in.Offset())}}, nil
	}

	fn, ok := laneAddrs[in.Shape()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, &in.Instruction)
	}

	segs := segments(in)
	lanes := make([]emu.Lane, 0, csr.VL*segs)

	for i := 0; i < csr.VL; i++ {
		if in.IsMasked() && !v.MaskBit(in.PMask, i) {
			continue
		}

		for f := 0; f < segs; f++ {
			lanes = append(lanes, emu.Lane{
				Elem:  i,
				Field: f,
				Addr:  fn(v, in, base, i, f),
			})
		}
	}

	return lanes, nil
}
