// Package fetch implements instruction admission and fetch. Execution
// requests wait in an admission queue until their registers can be
// allocated, become columns, and have their instructions fetched through an
// instruction cache one at a time.
package fetch

import (
	"errors"
	"fmt"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/emu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/memsys"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/cache"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/delayqueue"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// Errors.
var (
	ErrUnknownKernel  = errors.New("unknown kernel")
	ErrUnknownPhase   = errors.New("unknown kernel phase")
	ErrKernelExists   = errors.New("kernel already registered")
	ErrNotLive        = errors.New("column is not live")
	ErrUnexpectedLine = errors.New("unexpected instruction line")
)

// Config configures the fetch stage.
type Config struct {
	AdmissionQueueSize int    `json:"admission_queue_size"`
	AdmissionLatency   uint64 `json:"admission_latency"`
	MaxColumns         int    `json:"max_columns"`
	FetchWidth         int    `json:"fetch_width"`
	WordSize           uint64 `json:"word_size"`
	RetireBufferSize   int    `json:"retire_buffer_size"`

	ICache cache.Config `json:"icache"`
}

// DefaultConfig returns the default fetch configuration.
func DefaultConfig() Config {
	return Config{
		AdmissionQueueSize: 16,
		AdmissionLatency:   1,
		MaxColumns:         32,
		FetchWidth:         2,
		WordSize:           8,
		RetireBufferSize:   8,
		ICache:             cache.DefaultL1IConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.AdmissionQueueSize <= 0 {
		return fmt.Errorf("admission_queue_size must be > 0")
	}

	if c.MaxColumns <= 0 {
		return fmt.Errorf("max_columns must be > 0")
	}

	if c.FetchWidth <= 0 {
		return fmt.Errorf("fetch_width must be > 0")
	}

	if c.WordSize == 0 {
		return fmt.Errorf("word_size must be > 0")
	}

	if c.RetireBufferSize <= 0 {
		return fmt.Errorf("retire_buffer_size must be > 0")
	}

	if err := c.ICache.Validate(); err != nil {
		return fmt.Errorf("icache: %w", err)
	}

	return nil
}

// Statistics holds fetch stage counters.
type Statistics struct {
	Fetches         uint64
	FetchStalls     uint64
	ICacheMisses    uint64
	AdmissionStalls uint64
	Admitted        uint64
	Retired         uint64
}

type phaseEntry struct {
	seq    []insts.Instruction
	counts rename.Counts
	base   uint64
}

type kernelEntry struct {
	kernel *column.Kernel
	phases map[column.Phase]phaseEntry

	admitted uint64
	retired  uint64
}

// Option configures a Stage.
type Option func(*Stage)

// WithInstructionChannel makes the stage request instruction lines on ch.
func WithInstructionChannel(ch *memsys.Channel) Option {
	return func(s *Stage) {
		s.channel = ch
	}
}

// WithUnitID sets the unit id carried by memory accesses.
func WithUnitID(id int) Option {
	return func(s *Stage) {
		s.unitID = id
	}
}

// Stage is the admission and fetch stage.
type Stage struct {
	name    string
	config  Config
	renamer *rename.Renamer
	values  emu.ValueModel
	icache  *cache.Cache

	channel  *memsys.Channel
	unitID   int
	outbox   []*memsys.Access
	inflight map[string]uint64
	fills    []uint64

	admission *delayqueue.DelayQueue[column.Request]
	hits      *delayqueue.DelayQueue[*column.Column]
	retire    sim.Buffer

	kernels map[int]*kernelEntry
	columns []*column.Column
	next    int
	nextUID column.ID

	stats Statistics
}

// New creates a fetch stage. Columns get their registers from renamer and
// their implicit registers are seeded through values.
func New(
	name string,
	config Config,
	renamer *rename.Renamer,
	values emu.ValueModel,
	opts ...Option,
) *Stage {
	if err := config.Validate(); err != nil {
		panic(err)
	}

	s := &Stage{
		name:     name,
		config:   config,
		renamer:  renamer,
		values:   values,
		icache:   cache.New(config.ICache),
		inflight: make(map[string]uint64),
		admission: delayqueue.New[column.Request](name+".AdmissionQueue",
			config.AdmissionQueueSize),
		hits:    delayqueue.New[*column.Column](name+".HitQueue", 0),
		retire:  sim.NewBuffer(name+".RetireBuffer", config.RetireBufferSize),
		kernels: make(map[int]*kernelEntry),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the name of the stage.
func (s *Stage) Name() string {
	return s.name
}

// Stats returns the stage counters.
func (s *Stage) Stats() Statistics {
	return s.stats
}

// ICache returns the instruction cache.
func (s *Stage) ICache() *cache.Cache {
	return s.icache
}

// RetireBuffer is where finished columns are handed back for retirement.
func (s *Stage) RetireBuffer() sim.Buffer {
	return s.retire
}

// Columns returns the live columns in ring order. The slice must not be
// modified.
func (s *Stage) Columns() []*column.Column {
	return s.columns
}

// Idle returns true if no request or column is in the stage.
func (s *Stage) Idle() bool {
	return len(s.columns) == 0 && s.admission.Len() == 0 &&
		s.retire.Size() == 0 && len(s.outbox) == 0 && len(s.inflight) == 0
}

// RegisterKernel stores the phases of a kernel and precomputes the register
// counts of each. Phases are laid out back to back from the kernel's code
// base.
func (s *Stage) RegisterKernel(k *column.Kernel) error {
	if _, ok := s.kernels[k.ID]; ok {
		return fmt.Errorf("%w: %d", ErrKernelExists, k.ID)
	}

	e := &kernelEntry{kernel: k, phases: make(map[column.Phase]phaseEntry)}
	base := k.CodeBase

	add := func(p column.Phase, seq []insts.Instruction) error {
		counts, err := rename.RegCounts(seq)
		if err != nil {
			return fmt.Errorf("kernel %d %s: %w", k.ID, p, err)
		}

		e.phases[p] = phaseEntry{seq: seq, counts: counts, base: base}
		base += uint64(len(seq)) * s.config.WordSize

		return nil
	}

	if err := add(column.Init, k.Init); err != nil {
		return err
	}

	for i, body := range k.Bodies {
		if err := add(column.Body(i), body); err != nil {
			return err
		}
	}

	if err := add(column.Final, k.Final); err != nil {
		return err
	}

	s.kernels[k.ID] = e

	return nil
}

// Counts returns the registers a column of the kernel phase needs.
func (s *Stage) Counts(kernelID int, p column.Phase) (rename.Counts, error) {
	e, err := s.phase(kernelID, p)
	if err != nil {
		return rename.Counts{}, err
	}

	return e.counts, nil
}

func (s *Stage) phase(kernelID int, p column.Phase) (phaseEntry, error) {
	k, ok := s.kernels[kernelID]
	if !ok {
		return phaseEntry{}, fmt.Errorf("%w: %d", ErrUnknownKernel, kernelID)
	}

	e, ok := k.phases[p]
	if !ok {
		return phaseEntry{}, fmt.Errorf("%w: kernel %d %s",
			ErrUnknownPhase, kernelID, p)
	}

	return e, nil
}

// Admit queues an execution request. It returns false if the admission
// queue is full.
func (s *Stage) Admit(req column.Request) (bool, error) {
	if _, err := s.phase(req.KernelID, req.Phase); err != nil {
		return false, err
	}

	if s.admission.Full() {
		return false, nil
	}

	s.admission.Push(req, s.config.AdmissionLatency)

	return true, nil
}

// Admitted returns how many columns of the kernel have been created.
func (s *Stage) Admitted(kernelID int) uint64 {
	if k, ok := s.kernels[kernelID]; ok {
		return k.admitted
	}

	return 0
}

// Retired returns how many columns of the kernel have retired.
func (s *Stage) Retired(kernelID int) uint64 {
	if k, ok := s.kernels[kernelID]; ok {
		return k.retired
	}

	return 0
}

// DrainMemory receives instruction lines, fills the instruction cache, and
// delivers fetched instructions to their columns.
func (s *Stage) DrainMemory() error {
	if s.channel != nil {
		for {
			a := s.channel.Receive()
			if a == nil {
				break
			}

			block, ok := s.inflight[a.ID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnexpectedLine, a)
			}

			delete(s.inflight, a.ID)
			s.fills = append(s.fills, block)
		}
	}

	for len(s.fills) > 0 {
		status, err := s.icache.Fill(s.fills[0])
		if err != nil {
			return err
		}

		if status == cache.PortBusy {
			break
		}

		s.fills = s.fills[1:]
	}

	for s.icache.HasReady() {
		req := s.icache.PopReady()
		s.deliver(req.Payload.(*column.Column))
	}

	for !s.hits.Empty() {
		s.deliver(s.hits.Pop())
	}

	return nil
}

func (s *Stage) deliver(c *column.Column) {
	c.Current = &c.Insts[c.PC]
	c.Pending = false
	c.State = column.Ready
}

// Cycle retires finished columns, admits visible requests, fetches for up
// to FetchWidth columns, and advances the stage's queues.
func (s *Stage) Cycle() error {
	if err := s.drainRetirements(); err != nil {
		return err
	}

	if err := s.admit(); err != nil {
		return err
	}

	s.fetch()
	s.send()

	s.admission.Cycle()
	s.hits.Cycle()
	s.icache.Cycle()

	return nil
}

func (s *Stage) drainRetirements() error {
	for {
		e := s.retire.Pop()
		if e == nil {
			return nil
		}

		if err := s.Retire(e.(*column.Column)); err != nil {
			return err
		}
	}
}

func (s *Stage) admit() error {
	for !s.admission.Empty() {
		req := s.admission.Top()

		e, err := s.phase(req.KernelID, req.Phase)
		if err != nil {
			return err
		}

		if len(s.columns) >= s.config.MaxColumns ||
			!s.renamer.CanAdmit(e.counts) {
			s.stats.AdmissionStalls++
			return nil
		}

		res, err := s.renamer.Rename(e.seq)
		if err != nil {
			return fmt.Errorf("kernel %d %s: %w", req.KernelID, req.Phase,
				err)
		}

		s.admission.Pop()

		c := column.New(s.nextUID, req, res, e.counts, e.base)
		s.nextUID++

		s.values.WriteInt(res.Base, int64(req.BaseAddr))
		s.values.WriteInt(res.Offset, int64(req.Offset))

		s.columns = append(s.columns, c)
		s.kernels[req.KernelID].admitted++
		s.stats.Admitted++
	}

	return nil
}

func (s *Stage) fetch() {
	n := len(s.columns)
	if n == 0 {
		return
	}

	served := 0
	last := -1

	for i := 0; i < n && served < s.config.FetchWidth; i++ {
		idx := (s.next + i) % n
		c := s.columns[idx]

		if !c.FetchEligible() {
			continue
		}

		if !s.fetchOne(c) {
			s.stats.FetchStalls++
			break
		}

		served++
		last = idx
	}

	if last >= 0 {
		s.next = (last + 1) % n
	}
}

func (s *Stage) fetchOne(c *column.Column) bool {
	req := &cache.Request{
		ID:      fmt.Sprintf("%d.%d", c.UID, c.PC),
		Addr:    c.CodeBase + uint64(c.PC)*s.config.WordSize,
		Size:    int(s.config.WordSize),
		Kind:    cache.KindRead,
		Payload: c,
	}

	res := s.icache.Access(req)
	switch res.Status {
	case cache.Hit:
		s.hits.Push(c, s.config.ICache.HitLatency)
	case cache.HitReserved, cache.Miss, cache.SectorMiss:
		s.stats.ICacheMisses++
	default:
		return false
	}

	for _, ev := range res.Events {
		if ev.Kind != cache.EventReadRequest {
			continue
		}

		a := memsys.NewAccess(memsys.Read, ev.Addr, ev.Size, s.unitID, 0)
		s.inflight[a.ID] = ev.Addr
		s.outbox = append(s.outbox, a)
	}

	c.Pending = true
	c.State = column.Fetching
	s.stats.Fetches++

	return true
}

func (s *Stage) send() {
	if s.channel == nil {
		for _, a := range s.outbox {
			delete(s.inflight, a.ID)
			s.fills = append(s.fills, a.Addr)
		}

		s.outbox = s.outbox[:0]

		return
	}

	for len(s.outbox) > 0 && s.channel.Send(s.outbox[0]) {
		s.outbox = s.outbox[1:]
	}
}

// Retire removes a finished column from the ring and frees its registers.
func (s *Stage) Retire(c *column.Column) error {
	idx := -1
	for i, live := range s.columns {
		if live == c {
			idx = i
			break
		}
	}

	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotLive, c)
	}

	if _, err := s.renamer.Free(c.Regs); err != nil {
		return fmt.Errorf("%s: %w", c, err)
	}

	s.columns = append(s.columns[:idx], s.columns[idx+1:]...)
	if idx < s.next {
		s.next--
	}

	if len(s.columns) == 0 || s.next >= len(s.columns) {
		s.next = 0
	}

	c.State = column.Retired
	s.kernels[c.Req.KernelID].retired++
	s.stats.Retired++

	return nil
}
