// Package tlb implements the address translator in front of the data cache
// miss path.
//
// The TLB is a page-keyed instance of the generic cache. Requests pass a
// hit-latency queue before they look up the tag array. When the page table
// lives in DRAM, a miss on a page that was never walked is parked in a
// page-walk queue first, then retried.
package tlb

import (
	"fmt"

	"github.com/google/btree"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/cache"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/delayqueue"
)

// Config holds TLB parameters.
type Config struct {
	PageSize      int `json:"page_size"`
	EntrySize     int `json:"entry_size"`
	NumSets       int `json:"num_sets"`
	Associativity int `json:"associativity"`
	MSHREntries   int `json:"mshr_entries"`
	MSHRMaxMerge  int `json:"mshr_max_merge"`
	QueueSize     int `json:"queue_size"`

	HitLatency  uint64 `json:"hit_latency"`
	MissLatency uint64 `json:"miss_latency"`
	WalkLatency uint64 `json:"walk_latency"`

	// PageTableInDRAM enables the page-walk path.
	PageTableInDRAM bool `json:"page_table_in_dram"`

	Replacement cache.Replacement `json:"replacement"`
}

// DefaultConfig returns the default TLB configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:        4096,
		EntrySize:       8,
		NumSets:         16,
		Associativity:   4,
		MSHREntries:     8,
		MSHRMaxMerge:    8,
		QueueSize:       16,
		HitLatency:      1,
		MissLatency:     20,
		WalkLatency:     100,
		PageTableInDRAM: true,
		Replacement:     cache.LRU,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.EntrySize <= 0 || c.EntrySize > c.PageSize {
		return fmt.Errorf("entry_size must be in (0, page_size]")
	}

	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be >= 0")
	}

	return c.cacheConfig().Validate()
}

func (c Config) cacheConfig() cache.Config {
	return cache.Config{
		NumSets:       c.NumSets,
		Associativity: c.Associativity,
		LineSize:      c.PageSize,
		SectorSize:    c.PageSize,
		MSHREntries:   c.MSHREntries,
		MSHRMaxMerge:  c.MSHRMaxMerge,
		Replacement:   c.Replacement,
		WritePolicy:   cache.WriteBack,
		WriteAllocate: cache.NoWriteAllocate,
		HitLatency:    c.HitLatency,
	}
}

// PageTable maps a virtual page address to a physical page address.
type PageTable interface {
	Translate(vPage uint64) uint64
}

// IdentityPageTable maps every page to itself.
type IdentityPageTable struct{}

// Translate returns vPage.
func (IdentityPageTable) Translate(vPage uint64) uint64 {
	return vPage
}

// Request is one address to translate. PAddr is set when the request comes
// out of the TLB.
type Request struct {
	ID      string
	VAddr   uint64
	PAddr   uint64
	Payload interface{}
}

// Statistics holds TLB statistics.
type Statistics struct {
	Accesses   uint64
	Hits       uint64
	Merges     uint64
	Misses     uint64
	PageWalks  uint64
	StallCycle uint64
}

type page uint64

func (p page) Less(than btree.Item) bool {
	return p < than.(page)
}

// TLB is the address translator.
type TLB struct {
	name      string
	config    Config
	pageTable PageTable

	tags      *cache.Cache
	hitQueue  *delayqueue.DelayQueue[*Request]
	walkQueue *delayqueue.DelayQueue[*Request]
	fillQueue *delayqueue.DelayQueue[uint64]

	retry    []*Request
	resolved *btree.BTree
	inFlight map[string]bool
	ready    []*Request

	stats Statistics
}

// New creates a TLB. A nil page table means identity translation.
func New(name string, config Config, pageTable PageTable) *TLB {
	if err := config.Validate(); err != nil {
		panic(err)
	}

	if pageTable == nil {
		pageTable = IdentityPageTable{}
	}

	sim.NameMustBeValid(name)

	return &TLB{
		name:      name,
		config:    config,
		pageTable: pageTable,
		tags:      cache.New(config.cacheConfig()),
		hitQueue: delayqueue.New[*Request](
			name+".HitQueue", config.QueueSize),
		walkQueue: delayqueue.New[*Request](name+".WalkQueue", 0),
		fillQueue: delayqueue.New[uint64](name+".FillQueue", 0),
		resolved:  btree.New(8),
		inFlight:  make(map[string]bool),
	}
}

// Name returns the name of the TLB.
func (t *TLB) Name() string {
	return t.name
}

// Stats returns TLB statistics.
func (t *TLB) Stats() Statistics {
	return t.stats
}

// Tags exposes the underlying tag array.
func (t *TLB) Tags() *cache.Cache {
	return t.tags
}

func (t *TLB) pageOf(addr uint64) uint64 {
	return addr / uint64(t.config.PageSize) * uint64(t.config.PageSize)
}

// Access enqueues a request. It returns false when the hit queue is full.
func (t *TLB) Access(req *Request) bool {
	if t.hitQueue.Full() {
		return false
	}

	t.hitQueue.Push(req, t.config.HitLatency)
	t.inFlight[req.ID] = false
	t.stats.Accesses++

	return true
}

// Resolved returns true if the page of addr has been walked.
func (t *TLB) Resolved(addr uint64) bool {
	return t.resolved.Has(page(t.pageOf(addr)))
}

// InFlight returns the number of requests accepted but not yet translated.
func (t *TLB) InFlight() int {
	return len(t.inFlight)
}

// BankAccessCycle drains the fill and page-walk queues and then the hit
// queue into the tag array.
func (t *TLB) BankAccessCycle() {
	t.drainFills()
	t.drainWalks()

	for {
		req, fromRetry := t.next()
		if req == nil {
			return
		}

		if !t.lookup(req) {
			t.stats.StallCycle++
			return
		}

		if fromRetry {
			t.retry[0] = nil
			t.retry = t.retry[1:]
		} else {
			t.hitQueue.Pop()
		}
	}
}

func (t *TLB) next() (*Request, bool) {
	if len(t.retry) > 0 {
		return t.retry[0], true
	}

	if t.hitQueue.Empty() {
		return nil, false
	}

	return t.hitQueue.Top(), false
}

func (t *TLB) drainFills() {
	for !t.fillQueue.Empty() {
		status, err := t.tags.Fill(t.fillQueue.Top())
		if err != nil {
			panic(err)
		}

		if status == cache.PortBusy {
			break
		}

		t.fillQueue.Pop()
	}

	for t.tags.HasReady() {
		req := t.tags.PopReady().Payload.(*Request)
		t.finish(req)
	}
}

func (t *TLB) drainWalks() {
	for !t.walkQueue.Empty() {
		req := t.walkQueue.Pop()
		t.resolved.ReplaceOrInsert(page(t.pageOf(req.VAddr)))
		t.inFlight[req.ID] = true
		t.retry = append(t.retry, req)
	}
}

// lookup presents one request to the tag array. It returns false if the
// request must stay queued.
func (t *TLB) lookup(req *Request) bool {
	vPage := t.pageOf(req.VAddr)
	creq := &cache.Request{
		ID:      req.ID,
		Addr:    vPage,
		Size:    t.config.EntrySize,
		Kind:    cache.KindRead,
		Payload: req,
	}

	status := t.tags.Probe(creq)
	if status == cache.Miss && t.needsWalk(req, vPage) {
		t.stats.PageWalks++
		t.walkQueue.Push(req, t.config.WalkLatency)

		return true
	}

	res := t.tags.Access(creq)

	switch res.Status {
	case cache.Hit:
		t.stats.Hits++
		t.finish(req)
	case cache.HitReserved:
		t.stats.Merges++
	case cache.Miss:
		t.stats.Misses++
		t.fillQueue.Push(vPage, t.config.MissLatency)
	default:
		return false
	}

	return true
}

func (t *TLB) needsWalk(req *Request, vPage uint64) bool {
	if !t.config.PageTableInDRAM || t.inFlight[req.ID] {
		return false
	}

	return !t.resolved.Has(page(vPage))
}

func (t *TLB) finish(req *Request) {
	vPage := t.pageOf(req.VAddr)
	req.PAddr = t.pageTable.Translate(vPage) + (req.VAddr - vPage)

	delete(t.inFlight, req.ID)
	t.ready = append(t.ready, req)
}

// HasReady returns true if a translated request is available.
func (t *TLB) HasReady() bool {
	return len(t.ready) > 0
}

// Pop removes and returns the oldest translated request.
func (t *TLB) Pop() *Request {
	if len(t.ready) == 0 {
		return nil
	}

	req := t.ready[0]
	t.ready[0] = nil
	t.ready = t.ready[1:]

	return req
}

// Cycle advances every internal queue and the tag array by one tick.
func (t *TLB) Cycle() {
	t.hitQueue.Cycle()
	t.walkQueue.Cycle()
	t.fillQueue.Cycle()
	t.tags.Cycle()
}
