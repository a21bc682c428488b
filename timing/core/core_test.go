package core_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/config"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/memsys"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/core"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/exec"
)

const (
	dataBase = 0x20_0000
	outDelta = 0x1000
)

type faultRecorder struct {
	items []interface{}
}

func (r *faultRecorder) Func(ctx sim.HookCtx) {
	if ctx.Pos == core.HookPosFault {
		r.items = append(r.items, ctx.Item)
	}
}

// out[i] = in[i] + 5
func addFive() *column.Kernel {
	return &column.Kernel{
		ID:       1,
		Name:     "add5",
		CodeBase: 0x4000_0000,
		Bodies: [][]insts.Instruction{{
			insts.MustMake(insts.OpADD, 6, 1, 2),
			insts.MustMake(insts.OpLW, 7, 6, 0),
			insts.MustMake(insts.OpADDI, 7, 7, 5),
			insts.MustMake(insts.OpLI, 9, outDelta),
			insts.MustMake(insts.OpADD, 10, 6, 9),
			insts.MustMake(insts.OpSW, 7, 10, 0),
		}},
	}
}

func requests(n int) []column.Request {
	reqs := make([]column.Request, n)
	for i := range reqs {
		reqs[i] = column.Request{
			KernelID: 1,
			LaunchID: i,
			Phase:    column.Body(0),
			BaseAddr: dataBase,
			Offset:   uint64(i) * 4,
		}
	}

	return reqs
}

var _ = Describe("Unit", func() {
	var (
		cfg *config.Config
		u   *core.Unit
	)

	build := func(opts ...core.Option) {
		var err error
		u, err = core.NewUnit("Unit", cfg, opts...)
		Expect(err).NotTo(HaveOccurred())
		Expect(u.RegisterKernel(addFive())).To(Succeed())
	}

	fillInput := func(n int) {
		for i := 0; i < n; i++ {
			u.Emulator().Memory().Write32(dataBase+uint64(i)*4, uint32(10*i))
		}
	}

	expectOutput := func(n int) {
		for i := 0; i < n; i++ {
			Expect(u.Emulator().Memory().Read32(dataBase + outDelta +
				uint64(i)*4)).To(Equal(uint32(10*i + 5)))
		}
	}

	BeforeEach(func() {
		cfg = config.Default()
		cfg.Memory.Latency = 20
	})

	It("should reject an invalid configuration", func() {
		cfg.FrequencyMHz = 0

		_, err := core.NewUnit("Unit", cfg)
		Expect(err).To(HaveOccurred())
	})

	It("should start idle", func() {
		build()

		Expect(u.Idle()).To(BeTrue())
		Expect(u.Tick()).To(BeFalse())
		Expect(u.Err()).NotTo(HaveOccurred())
	})

	It("should run every column to retirement and free its registers", func() {
		build()
		free := u.Renamer().Available()

		n := cfg.Fetch.MaxColumns + 8
		fillInput(n)
		u.Submit(requests(n)...)

		Expect(u.Run(200_000)).To(Succeed())

		expectOutput(n)

		s := u.Stats()
		Expect(s.Fetch.Admitted).To(Equal(uint64(n)))
		Expect(s.Fetch.Retired).To(Equal(uint64(n)))
		Expect(s.Exec.ColumnsDone).To(Equal(uint64(n)))
		Expect(u.Fetch.Retired(1)).To(Equal(uint64(n)))
		Expect(u.Pending()).To(Equal(0))
		Expect(u.Renamer().Live()).To(Equal(0))
		Expect(u.Renamer().Available()).To(Equal(free))
		Expect(s.Executed).To(BeNumerically(">=", 6*n))
	})

	It("should report a run that does not finish in time", func() {
		build()
		fillInput(1)
		u.Submit(requests(1)...)

		err := u.Run(5)
		Expect(err).To(MatchError(ContainSubstring("not idle after 5")))
		Expect(u.Err()).NotTo(HaveOccurred())
	})

	It("should stop and report a fault", func() {
		build()

		bad := &column.Kernel{
			ID:       2,
			CodeBase: 0x5000_0000,
			Bodies: [][]insts.Instruction{{
				insts.MustMake(insts.OpLI, 10, 4),
				insts.MustMake(insts.OpVSETVLI, 5, 10,
					insts.EncodeVType(24, 1)),
			}},
		}
		Expect(u.RegisterKernel(bad)).To(Succeed())

		rec := &faultRecorder{}
		u.AcceptHook(rec)

		u.Submit(column.Request{KernelID: 2, Phase: column.Body(0)})

		err := u.Run(10_000)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, exec.ErrBadVType)).To(BeTrue())
		Expect(u.Err()).To(Equal(err))
		Expect(rec.items).To(HaveLen(1))

		Expect(u.Tick()).To(BeFalse())
		Expect(rec.items).To(HaveLen(1))
	})

	It("should reject a request for an unknown kernel", func() {
		build()

		u.Submit(column.Request{KernelID: 9, Phase: column.Body(0)})

		Expect(u.Tick()).To(BeFalse())
		Expect(u.Err()).To(HaveOccurred())
	})

	It("should leave memory to the owner when it is external", func() {
		build(core.WithExternalMemory())
		fillInput(4)
		u.Submit(requests(4)...)

		instMem := memsys.NewIdealMemory("InstMem", 10, 1)
		instMem.Connect(u.InstructionChannel())

		dataMem := memsys.NewIdealMemory("DataMem", 10, 1)
		for _, ch := range u.BankChannels() {
			dataMem.Connect(ch)
		}

		for i := 0; i < 10_000; i++ {
			busy := u.Tick()
			Expect(instMem.Cycle()).To(Succeed())
			Expect(dataMem.Cycle()).To(Succeed())

			if !busy && instMem.Pending() == 0 && dataMem.Pending() == 0 {
				break
			}
		}

		Expect(u.Err()).NotTo(HaveOccurred())
		Expect(u.Idle()).To(BeTrue())
		Expect(instMem.Served()).NotTo(BeZero())
		Expect(dataMem.Served()).NotTo(BeZero())
		expectOutput(4)
	})

	It("should run as a ticking component", func() {
		build()
		fillInput(4)
		u.Submit(requests(4)...)

		engine := sim.NewSerialEngine()
		comp := core.NewComponent(engine, 1*sim.GHz, u)
		comp.TickLater()

		Expect(engine.Run()).To(Succeed())
		Expect(u.Idle()).To(BeTrue())
		Expect(u.Stats().Cycles).NotTo(BeZero())
		expectOutput(4)
	})
})
