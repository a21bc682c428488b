package lsu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/emu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/memsys"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/lsu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

var _ = Describe("Pipeline", func() {
	var (
		config     lsu.Config
		input      sim.Buffer
		completion sim.Buffer
		p          *lsu.Pipeline
		col        *column.Column
		opts       []lsu.Option
		mem        *memsys.IdealMemory
	)

	BeforeEach(func() {
		config = lsu.DefaultConfig()
		config.Banks = 2
		config.TLB.PageTableInDRAM = false
		config.TLB.MissLatency = 4
		config.ScratchpadLatency = 3

		input = sim.NewBuffer("Unit.LSUQueue", 8)
		completion = sim.NewBuffer("Unit.CompletionQueue", 8)
		col = &column.Column{Req: column.Request{
			Scratchpad: column.ScratchpadMap{Base: 0x100000, Size: 0x1000},
		}}
		opts = nil
		mem = nil
	})

	JustBeforeEach(func() {
		p = lsu.New("Unit.LSU", config, input, completion, opts...)
	})

	load := func(addrs ...uint64) *lsu.Instruction {
		in := &lsu.Instruction{
			Column: col,
			Inst: &rename.Inst{
				Instruction: insts.MustMake(insts.OpLW, 5, 1, 0),
			},
		}

		for i, a := range addrs {
			in.Lanes = append(in.Lanes, emu.Lane{Elem: i, Addr: a})
		}

		return in
	}

	store := func(addr uint64) *lsu.Instruction {
		return &lsu.Instruction{
			Column: col,
			Inst: &rename.Inst{
				Instruction: insts.MustMake(insts.OpSW, 2, 1, 0),
			},
			Lanes: []emu.Lane{{Addr: addr}},
		}
	}

	step := func() []*lsu.Instruction {
		Expect(p.DrainMemory()).To(Succeed())
		Expect(p.Cycle()).To(Succeed())

		if mem != nil {
			Expect(mem.Cycle()).To(Succeed())
		}

		var out []*lsu.Instruction
		for {
			e := completion.Pop()
			if e == nil {
				return out
			}

			out = append(out, e.(*lsu.Instruction))
		}
	}

	// runUntilDone steps until n instructions completed and returns the
	// step each one completed on.
	runUntilDone := func(n, limit int) map[*lsu.Instruction]int {
		done := make(map[*lsu.Instruction]int)
		for s := 0; s < limit && len(done) < n; s++ {
			for _, in := range step() {
				done[in] = s
			}
		}

		Expect(done).To(HaveLen(n))

		return done
	}

	It("should complete an instruction without lanes at once", func() {
		in := load()
		input.Push(in)

		Expect(step()).To(ConsistOf(in))
		Expect(p.Busy()).To(BeFalse())
	})

	It("should serve scratchpad lanes after the scratchpad latency", func() {
		in := load(0x100010)
		input.Push(in)

		done := runUntilDone(1, 20)

		Expect(done[in]).To(Equal(3))
		Expect(p.Stats().ScratchpadAccesses).To(Equal(uint64(1)))
		Expect(p.Stats().MemoryReads).To(BeZero())
	})

	It("should coalesce lanes that touch the same line", func() {
		in := load(0x2000, 0x2004, 0x2008, 0x200c, 0x2010, 0x2014)
		input.Push(in)

		runUntilDone(1, 200)

		Expect(p.Stats().Accesses).To(Equal(uint64(1)))
		Expect(p.Stats().MemoryReads).To(Equal(uint64(1)))
	})

	It("should split a lane that crosses a line boundary", func() {
		in := load(0x207e)
		input.Push(in)

		runUntilDone(1, 200)

		Expect(p.Stats().Accesses).To(Equal(uint64(2)))
		Expect(p.Stats().MemoryReads).To(Equal(uint64(2)))
	})

	It("should complete merged loads to one block on the same cycle", func() {
		a := load(0x3000)
		b := load(0x3008)
		input.Push(a)
		input.Push(b)

		done := runUntilDone(2, 200)

		Expect(done[a]).To(Equal(done[b]))
		Expect(p.Stats().MemoryReads).To(Equal(uint64(1)))
		Expect(p.DCache().Stats().HitsReserved).To(Equal(uint64(1)))
	})

	It("should hit on a store to a filled line", func() {
		input.Push(load(0x4000))
		runUntilDone(1, 200)

		st := store(0x4004)
		input.Push(st)
		done := runUntilDone(1, 20)

		Expect(done).To(HaveKey(st))
		Expect(p.Stats().CacheHits).To(Equal(uint64(1)))
		Expect(p.Stats().MemoryWrites).To(BeZero())
		Expect(p.Busy()).To(BeFalse())
	})

	It("should hold completions while the completion buffer is full", func() {
		completion = sim.NewBuffer("Unit.CompletionQueue", 1)
		p = lsu.New("Unit.LSU", config, input, completion)

		a, b := load(), load()
		input.Push(a)
		input.Push(b)

		Expect(p.DrainMemory()).To(Succeed())
		Expect(p.Cycle()).To(Succeed())
		Expect(completion.Size()).To(Equal(1))
		Expect(completion.Pop()).To(BeIdenticalTo(a))

		Expect(step()).To(ConsistOf(b))
	})

	Context("with bank channels", func() {
		BeforeEach(func() {
			mem = memsys.NewIdealMemory("Memory", 5, 1)

			var chs []*memsys.Channel
			for i := 0; i < config.Banks; i++ {
				ch := memsys.NewChannel("Unit.Bank", 4)
				mem.Connect(ch)
				chs = append(chs, ch)
			}

			opts = []lsu.Option{lsu.WithBankChannels(chs), lsu.WithUnitID(7)}
		})

		It("should fetch missing lines from memory", func() {
			a := load(0x5000)
			b := load(0x5080)
			input.Push(a)
			input.Push(b)

			runUntilDone(2, 300)

			Expect(mem.Served()).To(Equal(uint64(2)))
			Expect(p.Stats().MemoryReads).To(Equal(uint64(2)))
			Expect(p.Busy()).To(BeFalse())
		})
	})

	It("should reject a configuration without banks", func() {
		config.Banks = 0
		Expect(config.Validate()).NotTo(Succeed())
	})
})
