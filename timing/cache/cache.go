// Package cache provides the generic set-associative cache used for the
// instruction cache, the data cache and the TLB.
//
// Tags, sets and replacement order are kept in an Akita cache directory.
// Sector state, fill flags and timestamps live next to it, indexed by
// (setID * associativity + wayID). Misses are tracked in an MSHR; the cache
// never talks to the next level itself but returns events the owner must
// forward, and is completed with Fill.
package cache

import (
	"errors"
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// ErrUnexpectedFill is returned when a fill arrives for a block without an
// MSHR entry.
var ErrUnexpectedFill = errors.New("fill without outstanding miss")

// Statistics holds cache performance statistics.
type Statistics struct {
	Accesses         uint64
	Hits             uint64
	HitsReserved     uint64
	Misses           uint64
	SectorMisses     uint64
	ReservationFails uint64
	PortBusy         uint64
	Fills            uint64
	Evictions        uint64
	Writebacks       uint64
}

type action uint8

const (
	actFail action = iota
	actHit
	actHitWriteThrough
	actEvictHit
	actMerge
	actPassReserved
	actPassThrough
	actFetch
	actLazyAllocate
	actAtomic
)

type decision struct {
	status    Status
	act       action
	blockAddr uint64
	needs     sectorMask
	block     *akitacache.Block
	line      *line
}

// Cache is a sectored set-associative cache with an MSHR and bandwidth
// limited data and fill ports.
type Cache struct {
	config Config

	directory *akitacache.DirectoryImpl
	lines     []line
	mshr      *MSHR
	ready     []*Request

	now          uint64
	dataPortBusy uint64
	fillPortBusy uint64

	stats Statistics
}

// New creates a cache. The configuration must be valid.
func New(config Config) *Cache {
	if err := config.Validate(); err != nil {
		panic(err)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			config.NumSets,
			config.Associativity,
			config.LineSize,
			akitacache.NewLRUVictimFinder(),
		),
		lines: make([]line, config.NumSets*config.Associativity),
		mshr:  NewMSHR(config.MSHREntries, config.MSHRMaxMerge),
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// MSHR exposes the miss table for inspection.
func (c *Cache) MSHR() *MSHR {
	return c.mshr
}

// Now returns the internal cycle count.
func (c *Cache) Now() uint64 {
	return c.now
}

// BlockAddr returns the line-aligned address.
func (c *Cache) BlockAddr(addr uint64) uint64 {
	return addr / uint64(c.config.LineSize) * uint64(c.config.LineSize)
}

func (c *Cache) setID(blockAddr uint64) int {
	return int(blockAddr / uint64(c.config.LineSize) % uint64(c.config.NumSets))
}

func (c *Cache) lineIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) sectorsOf(addr uint64, size int) sectorMask {
	if size <= 0 {
		size = 1
	}

	offset := int(addr % uint64(c.config.LineSize))
	last := offset + size - 1
	if last >= c.config.LineSize {
		last = c.config.LineSize - 1
	}

	var m sectorMask
	for s := offset / c.config.SectorSize; s <= last/c.config.SectorSize; s++ {
		m |= 1 << s
	}

	return m
}

// coveredSectors returns the sectors the request overwrites completely.
func (c *Cache) coveredSectors(addr uint64, size int) sectorMask {
	offset := int(addr % uint64(c.config.LineSize))
	end := offset + size

	var m sectorMask
	for s := 0; s < c.config.NumSectors(); s++ {
		lo := s * c.config.SectorSize
		if offset <= lo && end >= lo+c.config.SectorSize {
			m |= 1 << s
		}
	}

	return m
}

func (c *Cache) lookup(blockAddr uint64) (*akitacache.Block, *line) {
	set := c.directory.GetSets()[c.setID(blockAddr)]

	for _, b := range set.Blocks {
		l := &c.lines[c.lineIndex(b)]
		if b.Tag == blockAddr && l.allocated() {
			return b, l
		}
	}

	return nil, nil
}

func (c *Cache) victim(blockAddr uint64) *akitacache.Block {
	v := c.directory.FindVictim(blockAddr)
	if v == nil || v.IsLocked {
		return nil
	}

	return v
}

func (c *Cache) writePolicy(req *Request) WritePolicy {
	if c.config.WritePolicy != LocalWBGlobalWT {
		return c.config.WritePolicy
	}

	if req.Local {
		return WriteBack
	}

	return WriteThrough
}

// Probe classifies the request without changing any state.
func (c *Cache) Probe(req *Request) Status {
	return c.plan(req).status
}

func (c *Cache) plan(req *Request) decision {
	d := decision{
		blockAddr: c.BlockAddr(req.Addr),
		needs:     c.sectorsOf(req.Addr, req.Size),
	}
	d.block, d.line = c.lookup(d.blockAddr)

	if req.Kind == KindAtomic {
		return c.planAtomic(d)
	}

	if d.block == nil {
		return c.planMiss(req, d)
	}

	reserved := d.line.mask(SectorReserved) & d.needs
	present := d.line.present() & d.needs
	if req.Kind == KindRead {
		present &^= d.line.unreadable
	}

	missing := d.needs &^ present &^ reserved

	switch {
	case missing != 0:
		return c.planSectorMiss(req, d)
	case reserved != 0:
		return c.planReserved(req, d)
	default:
		return c.planHit(req, d)
	}
}

func (c *Cache) planHit(req *Request, d decision) decision {
	d.status = Hit
	d.act = actHit

	if req.Kind == KindWrite {
		switch c.writePolicy(req) {
		case WriteThrough:
			d.act = actHitWriteThrough
		case WriteEvict:
			d.act = actEvictHit
		}
	}

	return d
}

func (c *Cache) planReserved(req *Request, d decision) decision {
	d.status = HitReserved

	if req.Kind == KindWrite && c.writePolicy(req) != WriteBack {
		d.act = actPassReserved
		return d
	}

	if !c.mshr.CanMerge(d.blockAddr) {
		d.status = ReservationFail
		d.act = actFail

		return d
	}

	d.act = actMerge

	return d
}

func (c *Cache) missStatus() Status {
	if c.config.NumSectors() > 1 {
		return SectorMiss
	}

	return Miss
}

func (c *Cache) planSectorMiss(req *Request, d decision) decision {
	d.status = c.missStatus()

	if req.Kind == KindWrite {
		policy := c.writePolicy(req)

		switch {
		case policy == WriteBack &&
			c.config.WriteAllocate == LazyFetchOnRead:
			d.act = actLazyAllocate
			return d
		case policy != WriteBack ||
			c.config.WriteAllocate == NoWriteAllocate:
			d.act = actPassThrough
			return d
		}
	}

	if c.mshr.Has(d.blockAddr) || c.mshr.Full() {
		d.status = ReservationFail
		d.act = actFail

		return d
	}

	d.act = actFetch

	return d
}

func (c *Cache) planMiss(req *Request, d decision) decision {
	d.status = Miss

	if req.Kind == KindWrite {
		policy := c.writePolicy(req)

		if policy != WriteBack ||
			c.config.WriteAllocate == NoWriteAllocate {
			d.act = actPassThrough
			return d
		}

		if c.config.WriteAllocate == LazyFetchOnRead {
			if c.victim(d.blockAddr) == nil {
				d.status = ReservationFail
				d.act = actFail

				return d
			}

			d.act = actLazyAllocate

			return d
		}
	}

	if c.mshr.Has(d.blockAddr) || c.mshr.Full() ||
		c.victim(d.blockAddr) == nil {
		d.status = ReservationFail
		d.act = actFail

		return d
	}

	d.act = actFetch

	return d
}

func (c *Cache) planAtomic(d decision) decision {
	if c.mshr.Has(d.blockAddr) || c.mshr.Full() ||
		(d.line != nil && d.line.mask(SectorReserved) != 0) {
		d.status = ReservationFail
		d.act = actFail

		return d
	}

	d.status = Miss
	d.act = actAtomic

	return d
}

// Access performs the request. A busy data port reports PortBusy and leaves
// every state untouched.
func (c *Cache) Access(req *Request) AccessResult {
	if c.dataPortBusy > 0 {
		c.stats.PortBusy++
		return AccessResult{Status: PortBusy}
	}

	d := c.plan(req)
	res := AccessResult{Status: d.status}

	switch d.act {
	case actFail:
		c.stats.ReservationFails++
		return res
	case actHit:
		c.touch(d.block, d.line)
		if req.Kind == KindWrite {
			d.line.set(d.needs, SectorModified)
		}
	case actHitWriteThrough:
		c.touch(d.block, d.line)
		res.Events = append(res.Events, c.writeEvent(req))
	case actEvictHit:
		d.line.set(d.needs, SectorInvalid)
		res.Events = append(res.Events, c.writeEvent(req))
	case actMerge:
		c.mshr.Add(d.blockAddr, req)
		res.Waiting = true

		if req.Kind == KindWrite {
			reserved := d.line.mask(SectorReserved) & d.needs
			d.line.modifyOnFill |= reserved
			d.line.set(d.line.present()&d.needs, SectorModified)
		}
	case actPassReserved:
		if c.writePolicy(req) == WriteEvict {
			d.line.ignoreOnFill |= d.line.mask(SectorReserved) & d.needs
			d.line.set(d.line.present()&d.needs, SectorInvalid)
		}

		res.Events = append(res.Events, c.writeEvent(req))
	case actPassThrough:
		if d.line != nil && c.writePolicy(req) == WriteEvict {
			d.line.set(d.line.present()&d.needs, SectorInvalid)
		}

		res.Events = append(res.Events, c.writeEvent(req))
	case actFetch:
		res.Events = c.fetch(req, &d, res.Events)
		res.Waiting = true
	case actLazyAllocate:
		res.Events = c.lazyAllocate(req, &d, res.Events)
	case actAtomic:
		res.Events = c.atomic(req, &d, res.Events)
		res.Waiting = true
	}

	if d.block != nil {
		c.sync(d.block, d.line)
	}

	c.count(d.status)
	c.stats.Accesses++
	c.dataPortBusy += c.portCycles(req.Size, c.config.DataPortWidth)

	return res
}

func (c *Cache) count(s Status) {
	switch s {
	case Hit:
		c.stats.Hits++
	case HitReserved:
		c.stats.HitsReserved++
	case Miss:
		c.stats.Misses++
	case SectorMiss:
		c.stats.SectorMisses++
	}
}

func (c *Cache) writeEvent(req *Request) Event {
	return Event{
		Kind: EventWriteRequest,
		Addr: req.Addr,
		Size: req.Size,
		Req:  req,
	}
}

func (c *Cache) touch(block *akitacache.Block, l *line) {
	l.lastAccess = c.now
	if c.config.Replacement == LRU {
		c.directory.Visit(block)
	}
}

// allocate evicts a victim and claims it for blockAddr.
func (c *Cache) allocate(d *decision, events []Event) []Event {
	v := c.victim(d.blockAddr)
	vl := &c.lines[c.lineIndex(v)]

	if vl.allocated() {
		c.stats.Evictions++

		if dirty := vl.mask(SectorModified); dirty != 0 {
			c.stats.Writebacks++
			events = append(events, Event{
				Kind: EventWriteBack,
				Addr: v.Tag,
				Size: dirty.count() * c.config.SectorSize,
			})
		}
	}

	vl.clear()
	vl.allocTime = c.now
	vl.lastAccess = c.now
	v.Tag = d.blockAddr
	c.directory.Visit(v)

	d.block = v
	d.line = vl

	return events
}

func (c *Cache) fetch(req *Request, d *decision, events []Event) []Event {
	if d.block == nil {
		events = c.allocate(d, events)
	}

	l := d.line
	missing := d.needs &^ l.mask(SectorReserved)
	if req.Kind == KindRead {
		missing &^= l.present() &^ l.unreadable
	} else {
		missing &^= l.present()
	}

	l.modifyOnFill |= missing & l.mask(SectorModified)
	if req.Kind == KindWrite {
		l.modifyOnFill |= d.needs
		l.set(l.present()&d.needs, SectorModified)
	}

	l.set(missing, SectorReserved)
	c.mshr.Add(d.blockAddr, req)

	return append(events, Event{
		Kind: EventReadRequest,
		Addr: d.blockAddr,
		Size: missing.count() * c.config.SectorSize,
		Req:  req,
	})
}

func (c *Cache) lazyAllocate(
	req *Request,
	d *decision,
	events []Event,
) []Event {
	if d.block == nil {
		events = c.allocate(d, events)
	} else {
		c.touch(d.block, d.line)
	}

	l := d.line
	reserved := l.mask(SectorReserved) & d.needs
	writable := d.needs &^ reserved
	covered := c.coveredSectors(req.Addr, req.Size)

	l.modifyOnFill |= reserved
	l.unreadable |= writable &^ covered &^ l.present()
	l.unreadable &^= covered
	l.set(writable, SectorModified)

	return events
}

func (c *Cache) atomic(req *Request, d *decision, events []Event) []Event {
	if d.block != nil {
		if dirty := d.line.mask(SectorModified); dirty != 0 {
			c.stats.Writebacks++
			events = append(events, Event{
				Kind: EventWriteBack,
				Addr: d.blockAddr,
				Size: dirty.count() * c.config.SectorSize,
			})
		}

		d.line.clear()
	}

	c.mshr.Add(d.blockAddr, req)

	return append(events, Event{
		Kind: EventReadRequest,
		Addr: req.Addr,
		Size: req.Size,
		Req:  req,
	})
}

// sync mirrors the sector state onto the directory block. A line with a
// reserved sector is locked and never valid.
func (c *Cache) sync(block *akitacache.Block, l *line) {
	block.IsLocked = l.mask(SectorReserved) != 0
	block.IsValid = !block.IsLocked && l.present() != 0
	block.IsDirty = l.mask(SectorModified) != 0
}

func (c *Cache) portCycles(size, width int) uint64 {
	if width == 0 {
		return 0
	}

	if size <= 0 {
		size = 1
	}

	return uint64((size + width - 1) / width)
}

// Fill completes the outstanding miss on blockAddr. Reserved sectors become
// valid (or modified, or stay invalid when a write evicted them meanwhile)
// and every waiter moves to the ready queue.
func (c *Cache) Fill(blockAddr uint64) (Status, error) {
	blockAddr = c.BlockAddr(blockAddr)

	if c.fillPortBusy > 0 {
		c.stats.PortBusy++
		return PortBusy, nil
	}

	waiters, ok := c.mshr.Remove(blockAddr)
	if !ok {
		return Filled, fmt.Errorf("%w: block 0x%x", ErrUnexpectedFill,
			blockAddr)
	}

	if block, l := c.lookup(blockAddr); block != nil {
		reserved := l.mask(SectorReserved)

		l.set(reserved&l.ignoreOnFill, SectorInvalid)
		l.set(reserved&l.modifyOnFill&^l.ignoreOnFill, SectorModified)
		l.set(reserved&^l.modifyOnFill&^l.ignoreOnFill, SectorValid)
		l.unreadable &^= reserved
		l.ignoreOnFill &^= reserved
		l.modifyOnFill &^= reserved

		c.sync(block, l)
	}

	c.ready = append(c.ready, waiters...)
	c.stats.Fills++
	c.fillPortBusy += c.portCycles(c.config.LineSize, c.config.FillPortWidth)

	return Filled, nil
}

// HasReady returns true if a filled request is waiting to be popped.
func (c *Cache) HasReady() bool {
	return len(c.ready) > 0
}

// Ready returns the oldest filled request without removing it.
func (c *Cache) Ready() *Request {
	if len(c.ready) == 0 {
		return nil
	}

	return c.ready[0]
}

// PopReady removes and returns the oldest filled request.
func (c *Cache) PopReady() *Request {
	if len(c.ready) == 0 {
		return nil
	}

	req := c.ready[0]
	c.ready[0] = nil
	c.ready = c.ready[1:]

	return req
}

// Cycle advances time and drains one cycle of port occupancy.
func (c *Cache) Cycle() {
	c.now++

	if c.dataPortBusy > 0 {
		c.dataPortBusy--
	}

	if c.fillPortBusy > 0 {
		c.fillPortBusy--
	}
}

// Invalidate drops the line holding addr unless it has a pending fill.
func (c *Cache) Invalidate(addr uint64) {
	block, l := c.lookup(c.BlockAddr(addr))
	if block == nil || l.mask(SectorReserved) != 0 {
		return
	}

	l.clear()
	c.sync(block, l)
}

// Flush invalidates every line without a pending fill and returns the
// write-backs of modified sectors.
func (c *Cache) Flush() []Event {
	var events []Event

	for _, set := range c.directory.GetSets() {
		for _, b := range set.Blocks {
			l := &c.lines[c.lineIndex(b)]
			if !l.allocated() || l.mask(SectorReserved) != 0 {
				continue
			}

			if dirty := l.mask(SectorModified); dirty != 0 {
				c.stats.Writebacks++
				events = append(events, Event{
					Kind: EventWriteBack,
					Addr: b.Tag,
					Size: dirty.count() * c.config.SectorSize,
				})
			}

			l.clear()
			c.sync(b, l)
		}
	}

	return events
}

// Reset invalidates all lines and drops outstanding misses and statistics.
func (c *Cache) Reset() {
	c.directory.Reset()
	for i := range c.lines {
		c.lines[i].clear()
	}

	c.mshr.Reset()
	c.ready = nil
	c.dataPortBusy = 0
	c.fillPortBusy = 0
	c.stats = Statistics{}
}

// Lines returns a snapshot of every allocated line.
func (c *Cache) Lines() []LineInfo {
	var infos []LineInfo

	for _, set := range c.directory.GetSets() {
		for _, b := range set.Blocks {
			l := &c.lines[c.lineIndex(b)]
			if !l.allocated() {
				continue
			}

			infos = append(infos, LineInfo{
				Set:        b.SetID,
				Way:        b.WayID,
				Tag:        b.Tag,
				Valid:      b.IsValid,
				Sectors:    l.sectors,
				AllocTime:  l.allocTime,
				LastAccess: l.lastAccess,
			})
		}
	}

	return infos
}

// CheckInvariants verifies that no valid line has a reserved sector or an
// MSHR entry, and that no block is held by two lines.
func (c *Cache) CheckInvariants() error {
	seen := make(map[uint64]bool)

	for _, set := range c.directory.GetSets() {
		for _, b := range set.Blocks {
			l := &c.lines[c.lineIndex(b)]
			if !l.allocated() {
				continue
			}

			if seen[b.Tag] {
				return fmt.Errorf("block 0x%x held by two lines", b.Tag)
			}

			seen[b.Tag] = true

			if !b.IsValid {
				continue
			}

			if l.mask(SectorReserved) != 0 {
				return fmt.Errorf("valid line 0x%x has a reserved sector",
					b.Tag)
			}

			if c.mshr.Has(b.Tag) {
				return fmt.Errorf("valid line 0x%x has an mshr entry", b.Tag)
			}
		}
	}

	return nil
}
