package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/cache"
)

func read(addr uint64, size int) *cache.Request {
	return &cache.Request{Addr: addr, Size: size, Kind: cache.KindRead}
}

func write(addr uint64, size int) *cache.Request {
	return &cache.Request{Addr: addr, Size: size, Kind: cache.KindWrite}
}

func tags(c *cache.Cache) []uint64 {
	var t []uint64
	for _, l := range c.Lines() {
		t = append(t, l.Tag)
	}

	return t
}

var _ = Describe("Cache", func() {
	var (
		config cache.Config
		c      *cache.Cache
	)

	// 4 sets, 2 ways, 64B lines: 0x000, 0x100 and 0x200 share set 0.
	BeforeEach(func() {
		config = cache.Config{
			NumSets:       4,
			Associativity: 2,
			LineSize:      64,
			SectorSize:    64,
			MSHREntries:   4,
			MSHRMaxMerge:  2,
			Replacement:   cache.LRU,
			WritePolicy:   cache.WriteBack,
			WriteAllocate: cache.FetchOnWrite,
			HitLatency:    1,
		}
	})

	JustBeforeEach(func() {
		c = cache.New(config)
	})

	fill := func(addr uint64) {
		status, err := c.Fill(addr)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(cache.Filled))
	}

	Describe("reads", func() {
		It("should miss, reserve and hit after the fill", func() {
			req := read(0x1008, 8)

			res := c.Access(req)
			Expect(res.Status).To(Equal(cache.Miss))
			Expect(res.Waiting).To(BeTrue())
			Expect(res.Events).To(ConsistOf(cache.Event{
				Kind: cache.EventReadRequest,
				Addr: 0x1000,
				Size: 64,
				Req:  req,
			}))
			Expect(c.Probe(read(0x1010, 4))).To(Equal(cache.HitReserved))
			Expect(c.CheckInvariants()).To(Succeed())

			fill(0x1000)

			Expect(c.PopReady()).To(BeIdenticalTo(req))
			Expect(c.HasReady()).To(BeFalse())
			Expect(c.Access(read(0x1010, 4)).Status).To(Equal(cache.Hit))
			Expect(c.CheckInvariants()).To(Succeed())
		})

		It("should merge a second miss to the same block", func() {
			first := read(0x40, 4)
			second := read(0x48, 4)

			Expect(c.Access(first).Status).To(Equal(cache.Miss))
			res := c.Access(second)
			Expect(res.Status).To(Equal(cache.HitReserved))
			Expect(res.Waiting).To(BeTrue())
			Expect(res.Events).To(BeEmpty())

			Expect(c.MSHR().Len()).To(Equal(1))
			Expect(c.MSHR().Entries()[0].Waiters).To(HaveLen(2))

			fill(0x40)

			Expect(c.PopReady()).To(BeIdenticalTo(first))
			Expect(c.PopReady()).To(BeIdenticalTo(second))
			Expect(c.MSHR().Len()).To(Equal(0))
		})

		It("should fail a merge beyond the merge width", func() {
			c.Access(read(0x40, 4))
			c.Access(read(0x44, 4))

			Expect(c.Access(read(0x48, 4)).Status).
				To(Equal(cache.ReservationFail))
			Expect(c.Stats().ReservationFails).To(Equal(uint64(1)))
		})

		It("should fail when every way of the set is reserved", func() {
			c.Access(read(0x000, 4))
			c.Access(read(0x100, 4))

			Expect(c.Probe(read(0x200, 4))).To(Equal(cache.ReservationFail))
			Expect(c.Access(read(0x200, 4)).Status).
				To(Equal(cache.ReservationFail))
		})

		Context("with a small MSHR", func() {
			BeforeEach(func() {
				config.MSHREntries = 2
			})

			It("should fail when the MSHR is full", func() {
				c.Access(read(0x00, 4))
				c.Access(read(0x40, 4))

				Expect(c.Access(read(0x80, 4)).Status).
					To(Equal(cache.ReservationFail))
			})
		})
	})

	Describe("probe", func() {
		It("should not change any line", func() {
			c.Access(read(0x000, 4))
			fill(0x000)
			c.Access(read(0x100, 4))
			c.Cycle()

			before := c.Lines()
			entries := c.MSHR().Entries()

			for i := 0; i < 3; i++ {
				c.Probe(read(0x000, 4))
				c.Probe(read(0x100, 4))
				c.Probe(read(0x200, 4))
				c.Probe(write(0x000, 4))
			}

			Expect(c.Lines()).To(Equal(before))
			Expect(c.MSHR().Entries()).To(Equal(entries))
			Expect(c.Stats().Accesses).To(Equal(uint64(2)))
		})
	})

	Describe("replacement", func() {
		warm := func() {
			for _, addr := range []uint64{0x000, 0x100} {
				c.Access(read(addr, 4))
				fill(addr)
			}

			c.Access(read(0x000, 4))
			c.Access(read(0x200, 4))
			fill(0x200)
		}

		It("should evict the least recently used line", func() {
			warm()
			Expect(tags(c)).To(ConsistOf(uint64(0x000), uint64(0x200)))
			Expect(c.Stats().Evictions).To(Equal(uint64(1)))
		})

		Context("with FIFO replacement", func() {
			BeforeEach(func() {
				config.Replacement = cache.FIFO
			})

			It("should evict the oldest allocation", func() {
				warm()
				Expect(tags(c)).To(ConsistOf(uint64(0x100), uint64(0x200)))
			})
		})

		It("should write back a modified victim", func() {
			c.Access(write(0x000, 4))
			fill(0x000)
			c.Access(read(0x100, 4))
			fill(0x100)

			res := c.Access(read(0x200, 4))
			Expect(res.Status).To(Equal(cache.Miss))
			Expect(res.Events).To(ContainElement(cache.Event{
				Kind: cache.EventWriteBack,
				Addr: 0x000,
				Size: 64,
			}))
			Expect(c.Stats().Writebacks).To(Equal(uint64(1)))
		})
	})

	Describe("bandwidth", func() {
		BeforeEach(func() {
			config.DataPortWidth = 32
			config.FillPortWidth = 64
		})

		It("should report port busy until the data port drains", func() {
			c.Access(read(0x000, 4))
			fill(0x000)

			Expect(c.Access(read(0x000, 64)).Status).To(Equal(cache.PortBusy))
			c.Cycle()
			Expect(c.Access(read(0x000, 64)).Status).To(Equal(cache.Hit))
			Expect(c.Access(read(0x000, 4)).Status).To(Equal(cache.PortBusy))
			c.Cycle()
			Expect(c.Access(read(0x000, 4)).Status).To(Equal(cache.PortBusy))
			c.Cycle()
			Expect(c.Access(read(0x000, 4)).Status).To(Equal(cache.Hit))
		})

		It("should keep the entry when the fill port is busy", func() {
			c.Access(read(0x000, 4))
			c.Cycle()
			c.Access(read(0x040, 4))
			fill(0x000)

			status, err := c.Fill(0x040)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(cache.PortBusy))
			Expect(c.MSHR().Has(0x040)).To(BeTrue())

			c.Cycle()
			fill(0x040)
		})
	})

	Describe("sectors", func() {
		BeforeEach(func() {
			config.SectorSize = 16
		})

		It("should fetch only the missing sector", func() {
			c.Access(read(0x000, 4))
			fill(0x000)

			res := c.Access(read(0x020, 4))
			Expect(res.Status).To(Equal(cache.SectorMiss))
			Expect(res.Events[0].Size).To(Equal(16))

			Expect(c.Probe(read(0x004, 4))).To(Equal(cache.Hit))
			Expect(c.CheckInvariants()).To(Succeed())

			fill(0x000)
			Expect(c.Lines()[0].Sectors).To(Equal([cache.MaxSectors]cache.SectorState{
				cache.SectorValid, cache.SectorInvalid,
				cache.SectorValid, cache.SectorInvalid,
			}))
		})
	})

	Describe("write policies", func() {
		It("should mark a write-back hit modified", func() {
			c.Access(read(0x000, 4))
			fill(0x000)

			res := c.Access(write(0x000, 4))
			Expect(res.Status).To(Equal(cache.Hit))
			Expect(res.Events).To(BeEmpty())
			Expect(c.Lines()[0].Sectors[0]).To(Equal(cache.SectorModified))
		})

		It("should fetch on a write miss", func() {
			res := c.Access(write(0x000, 4))
			Expect(res.Status).To(Equal(cache.Miss))
			Expect(res.Waiting).To(BeTrue())

			fill(0x000)
			Expect(c.Lines()[0].Sectors[0]).To(Equal(cache.SectorModified))
		})

		Context("with write-through", func() {
			BeforeEach(func() {
				config.WritePolicy = cache.WriteThrough
			})

			It("should forward hits and misses", func() {
				c.Access(read(0x000, 4))
				fill(0x000)

				hit := c.Access(write(0x000, 4))
				Expect(hit.Status).To(Equal(cache.Hit))
				Expect(hit.WritesThrough()).To(BeTrue())

				miss := c.Access(write(0x400, 4))
				Expect(miss.Status).To(Equal(cache.Miss))
				Expect(miss.WritesThrough()).To(BeTrue())
				Expect(miss.Waiting).To(BeFalse())
				Expect(tags(c)).To(ConsistOf(uint64(0x000)))
			})
		})

		Context("with write-evict", func() {
			BeforeEach(func() {
				config.WritePolicy = cache.WriteEvict
			})

			It("should drop the line on a write hit", func() {
				c.Access(read(0x000, 4))
				fill(0x000)

				res := c.Access(write(0x000, 4))
				Expect(res.WritesThrough()).To(BeTrue())
				Expect(c.Probe(read(0x000, 4))).To(Equal(cache.Miss))
			})

			It("should ignore the fill of a line written while pending", func() {
				c.Access(read(0x000, 4))
				res := c.Access(write(0x000, 4))
				Expect(res.Status).To(Equal(cache.HitReserved))

				fill(0x000)
				Expect(c.Lines()).To(BeEmpty())
				Expect(c.CheckInvariants()).To(Succeed())
			})
		})

		Context("with local write-back and global write-through", func() {
			BeforeEach(func() {
				config.WritePolicy = cache.LocalWBGlobalWT
			})

			It("should only forward global writes", func() {
				c.Access(read(0x000, 4))
				fill(0x000)

				local := write(0x000, 4)
				local.Local = true
				Expect(c.Access(local).WritesThrough()).To(BeFalse())
				Expect(c.Access(write(0x000, 4)).WritesThrough()).To(BeTrue())
			})
		})

		Context("without write allocation", func() {
			BeforeEach(func() {
				config.WriteAllocate = cache.NoWriteAllocate
			})

			It("should pass a write miss through", func() {
				res := c.Access(write(0x000, 4))
				Expect(res.Status).To(Equal(cache.Miss))
				Expect(res.WritesThrough()).To(BeTrue())
				Expect(c.Lines()).To(BeEmpty())
			})
		})

		Context("with lazy fetch on read", func() {
			BeforeEach(func() {
				config.WriteAllocate = cache.LazyFetchOnRead
			})

			It("should allocate without fetching and fetch on read", func() {
				res := c.Access(write(0x000, 4))
				Expect(res.Status).To(Equal(cache.Miss))
				Expect(res.Waiting).To(BeFalse())
				Expect(res.Events).To(BeEmpty())

				rd := c.Access(read(0x000, 4))
				Expect(rd.Status).To(Equal(cache.Miss))
				Expect(rd.Waiting).To(BeTrue())

				fill(0x000)
				Expect(c.Lines()[0].Sectors[0]).To(Equal(cache.SectorModified))
				Expect(c.Access(read(0x000, 4)).Status).To(Equal(cache.Hit))
			})
		})
	})

	Describe("atomics", func() {
		It("should bypass the line and block merges", func() {
			c.Access(read(0x000, 4))
			fill(0x000)
			c.PopReady()

			amo := &cache.Request{Addr: 0x000, Size: 4, Kind: cache.KindAtomic}
			res := c.Access(amo)
			Expect(res.Status).To(Equal(cache.Miss))
			Expect(res.Waiting).To(BeTrue())
			Expect(c.MSHR().Entries()[0].HasAtomic).To(BeTrue())
			Expect(c.Lines()).To(BeEmpty())

			Expect(c.Access(read(0x000, 4)).Status).
				To(Equal(cache.ReservationFail))

			fill(0x000)
			Expect(c.PopReady()).To(BeIdenticalTo(amo))
		})
	})

	It("should reject a fill without an outstanding miss", func() {
		_, err := c.Fill(0x000)
		Expect(err).To(MatchError(cache.ErrUnexpectedFill))
	})

	It("should write back modified lines on flush", func() {
		c.Access(write(0x000, 4))
		fill(0x000)
		c.Access(read(0x040, 4))
		fill(0x040)

		events := c.Flush()
		Expect(events).To(ConsistOf(cache.Event{
			Kind: cache.EventWriteBack,
			Addr: 0x000,
			Size: 64,
		}))
		Expect(c.Lines()).To(BeEmpty())
	})

	Describe("configuration", func() {
		It("should accept the defaults", func() {
			Expect(cache.DefaultL1IConfig().Validate()).To(Succeed())
			Expect(cache.DefaultL1DConfig().Validate()).To(Succeed())
			Expect(cache.DefaultL1DConfig().NumSectors()).To(Equal(4))
		})

		It("should reject too many sectors", func() {
			config.SectorSize = 8
			Expect(config.Validate()).To(HaveOccurred())
		})
	})
})
