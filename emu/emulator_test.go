package emu_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/emu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

var _ = Describe("Emulator", func() {
	var (
		e     *emu.Emulator
		r     *rename.Renamer
		res   *rename.Result
		lanes map[int][]emu.Lane
		csr   column.CSR
	)

	BeforeEach(func() {
		config := rename.DefaultConfig()
		e = emu.NewEmulator(config)
		r = rename.New(config)
		lanes = map[int][]emu.Lane{}
		csr = column.CSR{VL: 4, SEW: 32, LMUL: 1}
	})

	run := func(seq ...insts.Instruction) []emu.Outcome {
		var err error
		res, err = r.Rename(seq)
		Expect(err).NotTo(HaveOccurred())

		outcomes := make([]emu.Outcome, len(res.Insts))
		for pc := range res.Insts {
			ctx := &emu.Context{PC: pc, CSR: csr, Lanes: lanes[pc]}
			out, err := e.Execute(&res.Insts[pc], ctx)
			Expect(err).NotTo(HaveOccurred())
			outcomes[pc] = out
		}

		return outcomes
	}

	xdst := func(pc int) int64 {
		return e.ReadInt(res.Insts[pc].PDst)
	}

	vdst := func(pc int) []int64 {
		out := make([]int64, csr.VL)
		for i := range out {
			out[i] = e.ReadVectorElem(res.Insts[pc].PDst, i)
		}

		return out
	}

	Context("scalar integer", func() {
		It("should evaluate arithmetic", func() {
			run(
				insts.MustMake(insts.OpLI, 3, 12),
				insts.MustMake(insts.OpLI, 4, 5),
				insts.MustMake(insts.OpADD, 5, 3, 4),
				insts.MustMake(insts.OpSUB, 6, 4, 3),
				insts.MustMake(insts.OpMUL, 7, 3, 4),
				insts.MustMake(insts.OpDIV, 8, 3, 4),
				insts.MustMake(insts.OpREM, 9, 3, 4),
				insts.MustMake(insts.OpSLLI, 10, 4, 2),
				insts.MustMake(insts.OpANDI, 11, 3, 4),
			)

			Expect(xdst(2)).To(Equal(int64(17)))
			Expect(xdst(3)).To(Equal(int64(-7)))
			Expect(xdst(4)).To(Equal(int64(60)))
			Expect(xdst(5)).To(Equal(int64(2)))
			Expect(xdst(6)).To(Equal(int64(2)))
			Expect(xdst(7)).To(Equal(int64(20)))
			Expect(xdst(8)).To(Equal(int64(4)))
			Expect(e.InstructionCount()).To(Equal(uint64(9)))
		})

		It("should not trap on division by zero", func() {
			run(
				insts.MustMake(insts.OpLI, 3, 9),
				insts.MustMake(insts.OpDIV, 4, 3, 0),
				insts.MustMake(insts.OpREM, 5, 3, 0),
			)

			Expect(xdst(1)).To(Equal(int64(-1)))
			Expect(xdst(2)).To(Equal(int64(9)))
		})

		It("should ignore writes to the zero register", func() {
			run(insts.MustMake(insts.OpLI, 0, 42))

			Expect(e.ReadInt(rename.ZeroReg)).To(Equal(int64(0)))
		})

		It("should write the vector length on vsetvli", func() {
			csr.VL = 8
			run(insts.MustMake(insts.OpVSETVLI, 3, 1,
				insts.EncodeVType(32, 1)))

			Expect(xdst(0)).To(Equal(int64(8)))
		})
	})

	Context("branches", func() {
		It("should report the branch outcome", func() {
			outs := run(
				insts.MustMake(insts.OpLI, 3, 1),
				insts.MustMake(insts.OpLI, 4, 2),
				insts.MustBranch(insts.OpBLT, 3, 4, 0),
				insts.MustBranch(insts.OpBEQ, 3, 4, 0),
				insts.MustBranch(insts.OpBNE, 3, 4, 0),
				insts.MustBranch(insts.OpBGE, 3, 4, 0),
			)

			Expect(outs[2].Taken).To(BeTrue())
			Expect(outs[3].Taken).To(BeFalse())
			Expect(outs[4].Taken).To(BeTrue())
			Expect(outs[5].Taken).To(BeFalse())
		})

		It("should link the next index on jal", func() {
			outs := run(
				insts.MustMake(insts.OpLI, 3, 1),
				insts.MustJump(5, 0),
			)

			Expect(outs[1].Taken).To(BeTrue())
			Expect(xdst(1)).To(Equal(int64(2)))
		})
	})

	Context("scalar float", func() {
		It("should move bits and compute", func() {
			run(
				insts.MustMake(insts.OpLI, 3,
					int64(math.Float32bits(1.5))),
				insts.MustMake(insts.OpFMVWX, 1, 3),
				insts.MustMake(insts.OpFADD, 2, 1, 1),
				insts.MustMake(insts.OpFMVXW, 4, 2),
				insts.MustMake(insts.OpFLT, 5, 1, 2),
				insts.MustMake(insts.OpFMADD, 6, 1, 2, 2),
			)

			Expect(xdst(3)).To(Equal(int64(math.Float32bits(3.0))))
			Expect(xdst(4)).To(Equal(int64(1)))
			Expect(e.RegFile().ReadFloat(res.Insts[5].PDst)).
				To(Equal(7.5))
		})
	})

	Context("vector", func() {
		It("should evaluate element-wise over the vector length", func() {
			run(
				insts.MustMake(insts.OpLI, 3, 3),
				insts.MustMake(insts.OpVMVVX, 1, 3),
				insts.MustMake(insts.OpVIDV, 2),
				insts.MustMake(insts.OpVADDVV, 3, 1, 2),
				insts.MustMake(insts.OpVMULVX, 4, 3, 3),
				insts.MustMake(insts.OpVREDSUMVS, 5, 3, 1),
				insts.MustMake(insts.OpVMVXS, 6, 5),
			)

			Expect(vdst(3)).To(Equal([]int64{3, 4, 5, 6}))
			Expect(vdst(4)).To(Equal([]int64{9, 12, 15, 18}))
			Expect(xdst(6)).To(Equal(int64(21)))
		})

		It("should skip inactive lanes", func() {
			run(
				insts.MustMake(insts.OpVIDV, 0),
				insts.MustMake(insts.OpVADDVI, 3, 0, 10).Masked(),
			)

			Expect(vdst(1)).To(Equal([]int64{0, 11, 0, 13}))
		})

		It("should truncate to the element width", func() {
			run(
				insts.MustMake(insts.OpLI, 3, math.MaxInt32),
				insts.MustMake(insts.OpVMVVX, 1, 3),
				insts.MustMake(insts.OpVADDVI, 2, 1, 1),
			)

			Expect(vdst(2)[0]).To(Equal(int64(math.MinInt32)))
		})

		It("should keep double-width results of widening ops", func() {
			run(
				insts.MustMake(insts.OpLI, 3, 1<<16),
				insts.MustMake(insts.OpVMVVX, 1, 3),
				insts.MustMake(insts.OpVWMULVV, 2, 1, 1),
				insts.MustMake(insts.OpVNSRLWI, 4, 2, 16),
			)

			Expect(res.Insts[2].DstWide).To(BeTrue())
			Expect(vdst(2)[0]).To(Equal(int64(1) << 32))
			Expect(vdst(3)[0]).To(Equal(int64(1) << 16))
		})

		It("should evaluate float vectors", func() {
			run(
				insts.MustMake(insts.OpVIDV, 1),
				insts.MustMake(insts.OpLI, 3,
					int64(math.Float32bits(4))),
				insts.MustMake(insts.OpFMVWX, 1, 3),
				insts.MustMake(insts.OpVFADDVF, 2, 1, 1),
				insts.MustMake(insts.OpVFSQRTV, 3, 2),
			)

			rf := e.RegFile()
			Expect(rf.FloatElem(res.Insts[4].PDst, 0)).To(Equal(2.0))
		})
	})

	Context("memory", func() {
		It("should load and store scalars at the derived address", func() {
			e.Memory().Write32(0x100, 0xfffffffe)
			lanes[0] = []emu.Lane{{Addr: 0x100}}
			lanes[2] = []emu.Lane{{Addr: 0x200}}
			lanes[3] = []emu.Lane{{Addr: 0x200}}

			run(
				insts.MustMake(insts.OpLW, 3, 1, 0),
				insts.MustMake(insts.OpLI, 4, 5),
				insts.MustMake(insts.OpSW, 4, 1, 0),
				insts.MustMake(insts.OpAMOADDW, 5, 1, 4),
			)

			Expect(xdst(0)).To(Equal(int64(-2)))
			Expect(xdst(3)).To(Equal(int64(5)))
			Expect(e.Memory().Read32(0x200)).To(Equal(uint32(10)))
		})

		It("should move vector elements lane by lane", func() {
			for i := 0; i < 4; i++ {
				e.Memory().Write32(0x100+uint64(i)*4, uint32(i+1))
			}

			for i := 0; i < 4; i++ {
				lanes[0] = append(lanes[0],
					emu.Lane{Elem: i, Addr: 0x100 + uint64(i)*4})
				lanes[1] = append(lanes[1],
					emu.Lane{Elem: i, Addr: 0x300 + uint64(i)*8})
			}

			run(
				insts.MustMake(insts.OpVLE32, 2, 1),
				insts.MustMake(insts.OpVSSE32, 2, 1, 2),
			)

			Expect(vdst(0)).To(Equal([]int64{1, 2, 3, 4}))
			Expect(e.Memory().Read32(0x318)).To(Equal(uint32(4)))
		})

		It("should do nothing without lanes", func() {
			run(insts.MustMake(insts.OpLW, 3, 1, 0))

			Expect(xdst(0)).To(Equal(int64(0)))
		})
	})

	It("should fail on an opcode it cannot evaluate", func() {
		in := &rename.Inst{}

		_, err := e.Execute(in, &emu.Context{})
		Expect(err).To(MatchError(emu.ErrNoHandler))
	})
})
