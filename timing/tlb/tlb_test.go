package tlb_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/tlb"
)

type offsetPageTable struct {
	offset uint64
}

func (p offsetPageTable) Translate(vPage uint64) uint64 {
	return vPage + p.offset
}

var _ = Describe("TLB", func() {
	var (
		config    tlb.Config
		pageTable tlb.PageTable
		t         *tlb.TLB
		now       int
	)

	BeforeEach(func() {
		config = tlb.DefaultConfig()
		config.HitLatency = 1
		config.MissLatency = 5
		config.WalkLatency = 10
		config.PageTableInDRAM = false
		pageTable = nil
		now = 0
	})

	JustBeforeEach(func() {
		t = tlb.New("Unit.TLB", config, pageTable)
	})

	// step runs one cycle and returns the requests translated in it.
	step := func() []*tlb.Request {
		t.BankAccessCycle()

		var out []*tlb.Request
		for t.HasReady() {
			out = append(out, t.Pop())
		}

		t.Cycle()
		now++

		return out
	}

	runUntilReady := func(limit int) ([]*tlb.Request, int) {
		for now < limit {
			at := now
			if out := step(); len(out) > 0 {
				return out, at
			}
		}

		return nil, -1
	}

	It("should translate a miss after the miss latency", func() {
		Expect(t.Access(&tlb.Request{ID: "a", VAddr: 0x1234})).To(BeTrue())

		out, at := runUntilReady(50)
		Expect(at).To(Equal(6))
		Expect(out).To(HaveLen(1))
		Expect(out[0].PAddr).To(Equal(uint64(0x1234)))
		Expect(t.InFlight()).To(Equal(0))
		Expect(t.Stats().Misses).To(Equal(uint64(1)))
	})

	It("should hit after the hit latency once the page is cached", func() {
		t.Access(&tlb.Request{ID: "a", VAddr: 0x1000})
		runUntilReady(50)

		t.Access(&tlb.Request{ID: "b", VAddr: 0x1ff8})
		start := now
		_, at := runUntilReady(100)
		Expect(at - start).To(Equal(1))
		Expect(t.Stats().Hits).To(Equal(uint64(1)))
	})

	It("should merge two misses to the same page", func() {
		t.Access(&tlb.Request{ID: "a", VAddr: 0x2000})
		t.Access(&tlb.Request{ID: "b", VAddr: 0x2040})

		out, at := runUntilReady(50)
		Expect(at).To(Equal(6))
		Expect(out).To(HaveLen(2))
		Expect(t.Stats().Misses).To(Equal(uint64(1)))
		Expect(t.Stats().Merges).To(Equal(uint64(1)))
	})

	Context("with a DRAM-resident page table", func() {
		BeforeEach(func() {
			config.PageTableInDRAM = true
		})

		It("should walk the page before filling", func() {
			t.Access(&tlb.Request{ID: "a", VAddr: 0x3000})

			out, at := runUntilReady(100)
			Expect(at).To(Equal(16))
			Expect(out).To(HaveLen(1))
			Expect(t.Resolved(0x3008)).To(BeTrue())
			Expect(t.Stats().PageWalks).To(Equal(uint64(1)))
		})
	})

	Context("with a page table that relocates pages", func() {
		BeforeEach(func() {
			pageTable = offsetPageTable{offset: 0x100000}
		})

		It("should keep the page offset", func() {
			t.Access(&tlb.Request{ID: "a", VAddr: 0x4010})

			out, _ := runUntilReady(50)
			Expect(out[0].PAddr).To(Equal(uint64(0x104010)))
		})
	})

	Context("with a one-entry queue", func() {
		BeforeEach(func() {
			config.QueueSize = 1
		})

		It("should refuse a request when the queue is full", func() {
			Expect(t.Access(&tlb.Request{ID: "a", VAddr: 0})).To(BeTrue())
			Expect(t.Access(&tlb.Request{ID: "b", VAddr: 0})).To(BeFalse())
		})
	})

	It("should reject an entry larger than a page", func() {
		config.EntrySize = 8192
		Expect(config.Validate()).To(HaveOccurred())
	})
})
