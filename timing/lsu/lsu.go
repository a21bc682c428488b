// Package lsu implements the load/store pipeline of the NDP unit.
//
// Address-class instructions arrive from the address units with their
// derived address sets. Scratchpad lanes are served by a fixed-latency
// queue. Other lanes are coalesced per cache line and queued at the bank
// that owns the line. Each bank presents one access per cycle to the data
// cache. Cache misses and write traffic are translated by the TLB and sent
// to memory on the bank's channel. An instruction completes when its last
// access completes.
package lsu

import (
	"errors"
	"fmt"

	"github.com/rs/xid"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/memsys"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/cache"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/delayqueue"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/tlb"
)

// ErrUnexpectedResponse is returned for a memory response that matches no
// outstanding access.
var ErrUnexpectedResponse = errors.New("unexpected memory response")

// Config configures the load/store pipeline.
type Config struct {
	Banks            int    `json:"banks"`
	BankQueueSize    int    `json:"bank_queue_size"`
	BankLatency      uint64 `json:"bank_latency"`
	AccessesPerCycle int    `json:"accesses_per_cycle"`

	ScratchpadLatency   uint64 `json:"scratchpad_latency"`
	ScratchpadQueueSize int    `json:"scratchpad_queue_size"`

	// Accesses inside the local range are local for the
	// LocalWBGlobalWT write policy.
	LocalBase uint64 `json:"local_base"`
	LocalSize uint64 `json:"local_size"`

	DCache cache.Config `json:"dcache"`
	TLB    tlb.Config   `json:"tlb"`
}

// DefaultConfig returns the default load/store pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Banks:               4,
		BankQueueSize:       8,
		BankLatency:         1,
		AccessesPerCycle:    4,
		ScratchpadLatency:   2,
		ScratchpadQueueSize: 16,
		DCache:              cache.DefaultL1DConfig(),
		TLB:                 tlb.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Banks <= 0 {
		return fmt.Errorf("banks must be > 0")
	}

	if c.BankQueueSize <= 0 || c.ScratchpadQueueSize <= 0 {
		return fmt.Errorf("bank and scratchpad queue sizes must be > 0")
	}

	if c.AccessesPerCycle <= 0 {
		return fmt.Errorf("accesses_per_cycle must be > 0")
	}

	if err := c.DCache.Validate(); err != nil {
		return fmt.Errorf("dcache: %w", err)
	}

	if err := c.TLB.Validate(); err != nil {
		return fmt.Errorf("tlb: %w", err)
	}

	return nil
}

// Statistics holds load/store pipeline counters.
type Statistics struct {
	Instructions       uint64
	Accesses           uint64
	ScratchpadAccesses uint64
	CacheHits          uint64
	CacheMisses        uint64
	BankRetries        uint64
	QueueFullStalls    uint64
	MemoryReads        uint64
	MemoryWrites       uint64
	MemoryAtomics      uint64
}

// access is one line-sized piece of an instruction's address set.
type access struct {
	inst *Instruction
	addr uint64
	size int
	kind cache.Kind
}

// outbound is a memory access waiting for translation or a response.
type outbound struct {
	mem   *memsys.Access
	block uint64
	bank  int

	// req is the cache request a write acknowledgement completes.
	req *cache.Request
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBankChannels connects one memory channel per bank.
func WithBankChannels(chs []*memsys.Channel) Option {
	return func(p *Pipeline) {
		p.channels = chs
	}
}

// WithUnitID sets the unit id carried by memory accesses.
func WithUnitID(id int) Option {
	return func(p *Pipeline) {
		p.unitID = id
	}
}

// WithPageTable sets the page table the TLB translates with.
func WithPageTable(pt tlb.PageTable) Option {
	return func(p *Pipeline) {
		p.pageTable = pt
	}
}

// Pipeline is the load/store pipeline.
type Pipeline struct {
	name   string
	config Config
	unitID int

	input      sim.Buffer
	completion sim.Buffer

	dcache     *cache.Cache
	tlb        *tlb.TLB
	pageTable  tlb.PageTable
	banks      []*delayqueue.DelayQueue[*access]
	hits       *delayqueue.DelayQueue[*access]
	scratchpad *delayqueue.DelayQueue[*access]

	channels []*memsys.Channel
	toTLB    []*outbound
	outboxes [][]*memsys.Access
	inflight map[string]*outbound
	fills    []uint64
	done     []*Instruction

	stats Statistics
}

// New creates a load/store pipeline that takes instructions from input and
// returns them on completion.
func New(
	name string,
	config Config,
	input, completion sim.Buffer,
	opts ...Option,
) *Pipeline {
	if err := config.Validate(); err != nil {
		panic(err)
	}

	p := &Pipeline{
		name:       name,
		config:     config,
		input:      input,
		completion: completion,
		dcache:     cache.New(config.DCache),
		hits:       delayqueue.New[*access](name+".HitQueue", 0),
		scratchpad: delayqueue.New[*access](name+".Scratchpad",
			config.ScratchpadQueueSize),
		outboxes: make([][]*memsys.Access, config.Banks),
		inflight: make(map[string]*outbound),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.tlb = tlb.New(name+".TLB", config.TLB, p.pageTable)

	for i := 0; i < config.Banks; i++ {
		p.banks = append(p.banks, delayqueue.New[*access](
			fmt.Sprintf("%s.Bank[%d]", name, i), config.BankQueueSize))
	}

	return p
}

// Name returns the name of the pipeline.
func (p *Pipeline) Name() string {
	return p.name
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Statistics {
	return p.stats
}

// DCache returns the data cache.
func (p *Pipeline) DCache() *cache.Cache {
	return p.dcache
}

// TLB returns the address translator.
func (p *Pipeline) TLB() *tlb.TLB {
	return p.tlb
}

// Busy returns true while any instruction or memory access is in flight.
func (p *Pipeline) Busy() bool {
	if p.input.Size() > 0 || p.scratchpad.Len() > 0 || p.hits.Len() > 0 ||
		len(p.toTLB) > 0 ||
		len(p.inflight) > 0 || len(p.fills) > 0 || len(p.done) > 0 {
		return true
	}

	for _, b := range p.banks {
		if b.Len() > 0 {
			return true
		}
	}

	return p.dcache.MSHR().Len() > 0 || p.tlb.InFlight() > 0
}

func (p *Pipeline) bankOf(addr uint64) int {
	return int(addr / uint64(p.config.DCache.LineSize) %
		uint64(p.config.Banks))
}

func (p *Pipeline) local(addr uint64) bool {
	return p.config.LocalSize > 0 && addr >= p.config.LocalBase &&
		addr-p.config.LocalBase < p.config.LocalSize
}

// DrainMemory receives memory responses, fills the data cache, and
// completes accesses whose data arrived.
func (p *Pipeline) DrainMemory() error {
	for bank, ch := range p.channels {
		for {
			a := ch.Receive()
			if a == nil {
				break
			}

			if err := p.respond(bank, a); err != nil {
				return err
			}
		}
	}

	for len(p.fills) > 0 {
		status, err := p.dcache.Fill(p.fills[0])
		if err != nil {
			return err
		}

		if status == cache.PortBusy {
			break
		}

		p.fills = p.fills[1:]
	}

	for p.dcache.HasReady() {
		p.complete(p.dcache.PopReady().Payload.(*access))
	}

	for !p.hits.Empty() {
		p.complete(p.hits.Pop())
	}

	for !p.scratchpad.Empty() {
		p.complete(p.scratchpad.Pop())
	}

	return nil
}

func (p *Pipeline) respond(bank int, a *memsys.Access) error {
	o, ok := p.inflight[a.ID]
	if !ok {
		return fmt.Errorf("%w: %s on bank %d", ErrUnexpectedResponse, a,
			bank)
	}

	delete(p.inflight, a.ID)

	switch {
	case a.Type != memsys.Write:
		p.fills = append(p.fills, o.block)
	case o.req != nil:
		p.complete(o.req.Payload.(*access))
	}

	return nil
}

func (p *Pipeline) complete(a *access) {
	a.inst.remaining--
	if a.inst.remaining == 0 {
		p.done = append(p.done, a.inst)
	}
}

// Cycle accepts instructions, presents one access per bank to the data
// cache, moves misses through the TLB to memory, returns completed
// instructions, and advances every queue.
func (p *Pipeline) Cycle() error {
	p.accept()
	p.accessBanks()

	if err := p.translate(); err != nil {
		return err
	}

	if err := p.send(); err != nil {
		return err
	}

	p.retire()

	for _, b := range p.banks {
		b.Cycle()
	}

	p.hits.Cycle()
	p.scratchpad.Cycle()
	p.dcache.Cycle()
	p.tlb.Cycle()

	return nil
}

func (p *Pipeline) accept() {
	budget := p.config.AccessesPerCycle

	for budget > 0 {
		e := p.input.Peek()
		if e == nil {
			return
		}

		in := e.(*Instruction)
		if in.accesses == nil {
			p.split(in)
		}

		for in.next < len(in.accesses) && budget > 0 {
			a := in.accesses[in.next]
			if !p.enqueue(a) {
				p.stats.QueueFullStalls++
				return
			}

			in.next++
			budget--
		}

		if in.next < len(in.accesses) {
			return
		}

		p.input.Pop()
		p.stats.Instructions++

		if len(in.accesses) == 0 {
			p.done = append(p.done, in)
		}
	}
}

func (p *Pipeline) enqueue(a *access) bool {
	if a.inst.Column.Req.Scratchpad.Contains(a.addr) {
		if p.scratchpad.Full() {
			return false
		}

		p.scratchpad.Push(a, p.config.ScratchpadLatency)
		p.stats.ScratchpadAccesses++

		return true
	}

	b := p.banks[p.bankOf(a.addr)]
	if b.Full() {
		return false
	}

	b.Push(a, p.config.BankLatency)
	p.stats.Accesses++

	return true
}

// split coalesces the instruction's lanes into one access per touched line
// and per scratchpad lane.
func (p *Pipeline) split(in *Instruction) {
	kind := cache.KindRead
	switch in.Type() {
	case memsys.Write:
		kind = cache.KindWrite
	case memsys.Atomic:
		kind = cache.KindAtomic
	}

	lineSize := uint64(p.config.DCache.LineSize)
	size := uint64(in.Inst.MemBytes())
	byLine := make(map[uint64]*access)
	in.accesses = make([]*access, 0, len(in.Lanes))

	add := func(addr, n uint64) {
		if in.Column.Req.Scratchpad.Contains(addr) || kind == cache.KindAtomic {
			in.accesses = append(in.accesses, &access{
				inst: in, addr: addr, size: int(n), kind: kind})
			return
		}

		line := addr / lineSize * lineSize
		if a, ok := byLine[line]; ok {
			lo := min(a.addr, addr)
			hi := max(a.addr+uint64(a.size), addr+n)
			a.addr, a.size = lo, int(hi-lo)

			return
		}

		a := &access{inst: in, addr: addr, size: int(n), kind: kind}
		byLine[line] = a
		in.accesses = append(in.accesses, a)
	}

	for _, l := range in.Lanes {
		end := l.Addr + size
		next := l.Addr/lineSize*lineSize + lineSize

		if end > next && !in.Column.Req.Scratchpad.Contains(l.Addr) {
			add(l.Addr, next-l.Addr)
			add(next, end-next)

			continue
		}

		add(l.Addr, size)
	}

	in.remaining = len(in.accesses)
}

func (p *Pipeline) accessBanks() {
	for _, b := range p.banks {
		if b.Empty() {
			continue
		}

		a := b.Top()
		req := &cache.Request{
			ID:      xid.New().String(),
			Addr:    a.addr,
			Size:    a.size,
			Kind:    a.kind,
			Local:   p.local(a.addr),
			Payload: a,
		}

		res := p.dcache.Access(req)

		switch res.Status {
		case cache.ReservationFail, cache.PortBusy:
			p.stats.BankRetries++
			continue
		case cache.Hit:
			p.stats.CacheHits++
		default:
			p.stats.CacheMisses++
		}

		b.Pop()

		acked := false
		for _, ev := range res.Events {
			o := p.outboundFor(ev)
			if ev.Kind == cache.EventWriteRequest && ev.Req == req {
				o.req = req
				acked = true
			}

			p.toTLB = append(p.toTLB, o)
		}

		if !res.Waiting && !acked {
			p.hits.Push(a, p.config.DCache.HitLatency)
		}
	}
}

func (p *Pipeline) outboundFor(ev cache.Event) *outbound {
	t := memsys.Read

	switch {
	case ev.Kind != cache.EventReadRequest:
		t = memsys.Write
	case ev.Req != nil && ev.Req.Kind == cache.KindAtomic:
		t = memsys.Atomic
	}

	bank := p.bankOf(ev.Addr)

	return &outbound{
		mem:   memsys.NewAccess(t, ev.Addr, ev.Size, p.unitID, bank),
		block: p.dcache.BlockAddr(ev.Addr),
		bank:  bank,
	}
}

func (p *Pipeline) translate() error {
	for len(p.toTLB) > 0 {
		o := p.toTLB[0]
		if !p.tlb.Access(&tlb.Request{
			ID:      o.mem.ID,
			VAddr:   o.mem.Addr,
			Payload: o,
		}) {
			break
		}

		p.inflight[o.mem.ID] = o
		p.toTLB = p.toTLB[1:]
	}

	p.tlb.BankAccessCycle()

	for p.tlb.HasReady() {
		req := p.tlb.Pop()
		o := req.Payload.(*outbound)
		o.mem.Addr = req.PAddr

		if len(p.channels) > 0 && o.bank >= len(p.channels) {
			return fmt.Errorf("%w: bank %d of %d", memsys.ErrBadChannel,
				o.bank, len(p.channels))
		}

		p.outboxes[o.bank] = append(p.outboxes[o.bank], o.mem)
	}

	return nil
}

func (p *Pipeline) send() error {
	for bank, box := range p.outboxes {
		for len(box) > 0 {
			a := box[0]

			if len(p.channels) == 0 {
				if err := p.respond(bank, a); err != nil {
					return err
				}
			} else if !p.channels[bank].Send(a) {
				break
			}

			p.count(a)
			box = box[1:]
		}

		p.outboxes[bank] = box
	}

	return nil
}

func (p *Pipeline) count(a *memsys.Access) {
	switch a.Type {
	case memsys.Read:
		p.stats.MemoryReads++
	case memsys.Write:
		p.stats.MemoryWrites++
	case memsys.Atomic:
		p.stats.MemoryAtomics++
	}
}

func (p *Pipeline) retire() {
	for len(p.done) > 0 && p.completion.CanPush() {
		p.completion.Push(p.done[0])
		p.done = p.done[1:]
	}
}
