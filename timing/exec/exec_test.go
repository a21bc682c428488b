package exec_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"
	"go.uber.org/mock/gomock"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/emu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/exec"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/latency"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/lsu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

type columnList struct {
	cols   []*column.Column
	retire sim.Buffer
}

func (l *columnList) Columns() []*column.Column { return l.cols }

func (l *columnList) RetireBuffer() sim.Buffer { return l.retire }

type hookRecorder struct {
	ctxs []sim.HookCtx
}

func (h *hookRecorder) Func(ctx sim.HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

func (h *hookRecorder) count(pos *sim.HookPos) int {
	n := 0
	for _, c := range h.ctxs {
		if c.Pos == pos {
			n++
		}
	}

	return n
}

var _ = Describe("Stage", func() {
	var (
		config   exec.Config
		renamer  *rename.Renamer
		emulator *emu.Emulator
		values   emu.ValueModel
		src      *columnList
		hooks    *hookRecorder
		s        *exec.Stage
	)

	BeforeEach(func() {
		config = exec.DefaultConfig()
		renamer = rename.New(rename.DefaultConfig())
		emulator = emu.NewEmulator(rename.DefaultConfig())
		values = emulator
		src = &columnList{retire: sim.NewBuffer("Unit.RetireBuffer", 4)}
		hooks = &hookRecorder{}
	})

	JustBeforeEach(func() {
		s = exec.New("Unit.Exec", config, latency.NewTable(), renamer, values,
			src)
		s.AcceptHook(hooks)
	})

	deliver := func(c *column.Column) {
		if c.FetchEligible() {
			c.Current = &c.Insts[c.PC]
			c.State = column.Ready
		}
	}

	newColumn := func(uid column.ID, seq ...insts.Instruction) *column.Column {
		counts, err := rename.RegCounts(seq)
		Expect(err).NotTo(HaveOccurred())

		res, err := renamer.Rename(seq)
		Expect(err).NotTo(HaveOccurred())

		c := column.New(uid, column.Request{}, res, counts, 0)
		deliver(c)
		src.cols = append(src.cols, c)

		return c
	}

	cycle := func() {
		Expect(s.Cycle()).To(Succeed())
	}

	handToMemory := func() {
		e := s.LSUQueue().Pop()
		Expect(e).NotTo(BeNil())
		s.CompletionQueue().Push(e)
	}

	Context("with a mocked value model", func() {
		var (
			mockCtrl *gomock.Controller
			mock     *MockValueModel
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			mock = NewMockValueModel(mockCtrl)
			values = mock
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should make a result visible exactly latency cycles after issue",
			func() {
				mock.EXPECT().
					Execute(gomock.Any(), gomock.Any()).
					Return(emu.Outcome{}, nil).
					Times(1)

				c := newColumn(1, insts.MustMake(insts.OpMUL, 3, 1, 2))
				dst := c.Insts[0].PDst

				cycle()
				Expect(c.Current).To(BeNil())
				Expect(c.PC).To(Equal(1))
				Expect(renamer.IsReady(dst)).To(BeFalse())

				cycle()
				cycle()
				Expect(renamer.IsReady(dst)).To(BeFalse())

				Expect(hooks.count(exec.HookPosWriteback)).To(BeZero())

				cycle()
				Expect(renamer.IsReady(dst)).To(BeTrue())
				Expect(hooks.count(exec.HookPosIssue)).To(Equal(1))
				Expect(hooks.count(exec.HookPosWriteback)).To(Equal(1))
			})
	})

	It("should hand a finished column to retirement", func() {
		c := newColumn(1, insts.MustMake(insts.OpADD, 3, 1, 2))

		cycle()
		Expect(src.retire.Size()).To(BeZero())

		cycle()
		Expect(src.retire.Size()).To(Equal(1))
		Expect(src.retire.Pop()).To(BeIdenticalTo(c))
		Expect(c.State).To(Equal(column.Retired))
		Expect(s.Stats().ColumnsDone).To(Equal(uint64(1)))
		Expect(hooks.count(exec.HookPosColumnDone)).To(Equal(1))
		Expect(s.Busy()).To(BeFalse())

		cycle()
		Expect(s.Stats().ColumnsDone).To(Equal(uint64(1)))
	})

	It("should hold a unit for its reissue interval", func() {
		a := newColumn(1, insts.MustMake(insts.OpDIV, 3, 1, 2))
		b := newColumn(2, insts.MustMake(insts.OpDIV, 3, 1, 2))

		cycle()
		Expect(a.Current).To(BeNil())
		Expect(b.Current).NotTo(BeNil())
		Expect(s.Stats().Stalls[exec.WaitResource]).To(Equal(uint64(1)))

		for i := 1; i < 16; i++ {
			cycle()
		}
		Expect(b.Current).NotTo(BeNil())

		cycle()
		Expect(b.Current).To(BeNil())
		Expect(hooks.count(exec.HookPosStall)).To(Equal(16))
	})

	It("should wait for a source with an outstanding write", func() {
		c := newColumn(1,
			insts.MustMake(insts.OpMUL, 3, 1, 2),
			insts.MustMake(insts.OpADD, 4, 3, 1))

		cycle()
		deliver(c)
		Expect(s.CheckDependency(c.Current, c)).
			To(Equal(exec.WaitSourceNotReady))

		cycle()
		cycle()
		Expect(c.Current).NotTo(BeNil())

		cycle()
		Expect(c.Current).To(BeNil())
		Expect(s.Stats().Stalls[exec.WaitSourceNotReady]).To(Equal(uint64(2)))
	})

	It("should wait for a destination with an outstanding write", func() {
		c := newColumn(1,
			insts.MustMake(insts.OpMUL, 3, 1, 2),
			insts.MustMake(insts.OpADD, 3, 1, 2))

		cycle()
		deliver(c)

		Expect(s.CheckDependency(c.Current, c)).
			To(Equal(exec.WaitDestNotReady))
	})

	It("should block the column until a taken branch resolves", func() {
		c := newColumn(1,
			insts.MustBranch(insts.OpBEQ, 0, 0, 2),
			insts.MustMake(insts.OpADD, 3, 1, 2),
			insts.MustMake(insts.OpADD, 4, 1, 2))

		cycle()
		Expect(c.Block).To(BeTrue())
		Expect(c.State).To(Equal(column.Blocked))
		Expect(c.PC).To(Equal(0))
		Expect(c.FetchEligible()).To(BeFalse())

		cycle()
		Expect(c.Block).To(BeFalse())
		Expect(c.PC).To(Equal(2))
		Expect(c.State).To(Equal(column.Fetching))
		Expect(s.Stats().BranchesTaken).To(Equal(uint64(1)))
	})

	It("should fall through a branch that is not taken", func() {
		c := newColumn(1,
			insts.MustBranch(insts.OpBNE, 0, 0, 2),
			insts.MustMake(insts.OpADD, 3, 1, 2),
			insts.MustMake(insts.OpADD, 4, 1, 2))

		cycle()
		cycle()

		Expect(c.PC).To(Equal(1))
		Expect(s.Stats().BranchesTaken).To(BeZero())
	})

	DescribeTable("vsetvli",
		func(avlReg int64, avl int64, sew, lmul int, wantVL int) {
			c := newColumn(1, insts.MustMake(insts.OpVSETVLI, 3, avlReg,
				insts.EncodeVType(sew, lmul)))
			emulator.WriteInt(c.Base, avl)

			cycle()
			Expect(c.CSR).To(Equal(column.CSR{VL: wantVL, SEW: sew, LMUL: lmul}))

			cycle()
			Expect(emulator.ReadInt(c.Insts[0].PDst)).To(Equal(int64(wantVL)))
		},
		Entry("takes the requested length", int64(1), int64(5), 32, 1, 5),
		Entry("clamps to the maximum", int64(1), int64(100), 32, 1, 8),
		Entry("grows with the group multiplier", int64(1), int64(100), 16, 2, 32),
		Entry("treats x0 as the maximum", int64(0), int64(3), 64, 4, 16),
	)

	It("should reject an unsupported element width", func() {
		newColumn(1, insts.MustMake(insts.OpVSETVLI, 3, 1,
			insts.EncodeVType(12, 1)))

		Expect(s.Cycle()).To(MatchError(exec.ErrBadVType))
	})

	Context("with a narrow vector register", func() {
		BeforeEach(func() {
			config.VLEN = 64
		})

		It("should reject a write larger than the register", func() {
			c := newColumn(1,
				insts.MustMake(insts.OpVLSEGE32, 3, 1).WithSegments(8))
			c.CSR = column.CSR{VL: 8, SEW: 64, LMUL: 8}

			Expect(s.Cycle()).To(MatchError(exec.ErrRegisterOverflow))
		})
	})

	Context("with a single-entry load/store queue", func() {
		BeforeEach(func() {
			config.LSUQueueSize = 1
		})

		It("should keep memory instructions in their unit", func() {
			a := newColumn(1, insts.MustMake(insts.OpLW, 3, 1, 0))
			b := newColumn(2, insts.MustMake(insts.OpLW, 3, 1, 0))

			cycle()
			Expect(b.Current).NotTo(BeNil())

			cycle()
			Expect(b.Current).To(BeNil())
			Expect(a.Outstanding).To(Equal(1))
			Expect(a.State).To(Equal(column.AwaitingMemory))

			cycle()
			Expect(s.LSUQueue().Size()).To(Equal(1))
			Expect(b.InFlight).To(Equal(1))
			Expect(b.Outstanding).To(BeZero())

			handToMemory()
			cycle()
			Expect(a.Outstanding).To(BeZero())
			Expect(b.Outstanding).To(Equal(1))
			Expect(s.Stats().MemoryRetired).To(Equal(uint64(1)))
		})
	})

	It("should order a load after an earlier store", func() {
		c := newColumn(1,
			insts.MustMake(insts.OpSW, 2, 1, 0),
			insts.MustMake(insts.OpLW, 3, 1, 0))
		emulator.WriteInt(c.Base, 0x40)
		emulator.WriteInt(c.Offset, 42)

		cycle()
		deliver(c)
		Expect(s.CheckDependency(c.Current, c)).To(Equal(exec.WaitMemoryOrder))

		cycle()
		Expect(c.Current).NotTo(BeNil())

		handToMemory()
		cycle()
		Expect(c.Current).To(BeNil())

		cycle()
		handToMemory()
		cycle()

		Expect(emulator.ReadInt(c.Insts[1].PDst)).To(Equal(int64(42)))
		Expect(s.Stats().Stalls[exec.WaitMemoryOrder]).To(Equal(uint64(1)))
		Expect(s.Busy()).To(BeFalse())
	})

	It("should fail on a completion it did not issue", func() {
		c := newColumn(1, insts.MustMake(insts.OpLW, 3, 1, 0))
		c.Current = nil

		s.CompletionQueue().Push(&lsu.Instruction{
			Column: c,
			Inst:   &c.Insts[0],
		})

		Expect(s.Cycle()).To(MatchError(exec.ErrUnknownCompletion))
	})

	DescribeTable("Config.Validate",
		func(mutate func(*exec.Config)) {
			c := exec.DefaultConfig()
			mutate(&c)
			Expect(c.Validate()).NotTo(Succeed())
		},
		Entry("issue width", func(c *exec.Config) { c.IssueWidth = 0 }),
		Entry("vlen", func(c *exec.Config) { c.VLEN = 100 }),
		Entry("unit pool", func(c *exec.Config) { c.VectorSFUUnits = 0 }),
	)
})
