// Package core assembles one NDP unit from its stages and advances it cycle
// by cycle.
//
// Each cycle runs in a fixed order: memory responses are drained into the
// instruction and data caches, the fetch stage admits, retires and fetches,
// the execution stage retires and issues, the load/store pipeline accesses
// its banks, and finally the attached memory is advanced.
package core

import (
	"fmt"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/config"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/emu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/memsys"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/exec"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/fetch"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/latency"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/lsu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/tlb"
)

// HookPosFault is invoked with the error that stopped the unit.
var HookPosFault = &sim.HookPos{Name: "Fault"}

// Stats holds performance statistics for the unit.
type Stats struct {
	// Cycles is the number of cycles simulated.
	Cycles uint64

	Fetch fetch.Statistics
	Exec  exec.Statistics
	LSU   lsu.Statistics
	TLB   tlb.Statistics

	// Executed is the number of instructions the value model evaluated.
	Executed uint64
}

// Option configures a Unit.
type Option func(*Unit)

// WithValueModel replaces the built-in emulator.
func WithValueModel(v emu.ValueModel) Option {
	return func(u *Unit) {
		u.values = v
	}
}

// WithPageTable sets the page table of the data TLB.
func WithPageTable(pt tlb.PageTable) Option {
	return func(u *Unit) {
		u.pageTable = pt
	}
}

// WithExternalMemory leaves the memory channels unconnected. The owner
// serves InstructionChannel and BankChannels itself.
func WithExternalMemory() Option {
	return func(u *Unit) {
		u.external = true
	}
}

// Unit is one NDP unit.
type Unit struct {
	*sim.HookableBase

	name   string
	config *config.Config

	renamer  *rename.Renamer
	emulator *emu.Emulator
	values   emu.ValueModel

	Fetch *fetch.Stage
	Exec  *exec.Stage
	LSU   *lsu.Pipeline

	pageTable tlb.PageTable
	external  bool

	instCh  *memsys.Channel
	bankChs []*memsys.Channel
	instMem *memsys.IdealMemory
	dataMem *memsys.IdealMemory

	// pending holds submitted requests not yet accepted by admission.
	pending []column.Request

	cycles uint64
	err    error
}

// NewUnit creates a unit from a validated configuration.
func NewUnit(name string, cfg *config.Config, opts ...Option) (*Unit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid unit config: %w", err)
	}

	u := &Unit{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		config:       cfg.Clone(),
		renamer:      rename.New(cfg.Rename),
	}

	for _, opt := range opts {
		opt(u)
	}

	if u.values == nil {
		u.emulator = emu.NewEmulator(cfg.Rename)
		u.values = u.emulator
	}

	u.buildChannels()
	u.buildStages()

	return u, nil
}

func (u *Unit) buildChannels() {
	capacity := u.config.Memory.ChannelCapacity

	u.instCh = memsys.NewChannel(u.name+".InstChannel", capacity)
	for i := 0; i < u.config.LSU.Banks; i++ {
		u.bankChs = append(u.bankChs, memsys.NewChannel(
			fmt.Sprintf("%s.BankChannel[%d]", u.name, i), capacity))
	}

	if u.external {
		return
	}

	u.instMem = memsys.NewIdealMemory(u.name+".InstMemory",
		u.config.Memory.Latency, u.config.Memory.Bandwidth)
	u.instMem.Connect(u.instCh)

	u.dataMem = memsys.NewIdealMemory(u.name+".DataMemory",
		u.config.Memory.Latency, u.config.Memory.Bandwidth)
	for _, ch := range u.bankChs {
		u.dataMem.Connect(ch)
	}
}

func (u *Unit) buildStages() {
	id := u.config.UnitID

	u.Fetch = fetch.New(u.name+".Fetch", u.config.Fetch, u.renamer, u.values,
		fetch.WithInstructionChannel(u.instCh),
		fetch.WithUnitID(id))

	u.Exec = exec.New(u.name+".Exec", u.config.Exec,
		latency.NewTableWithConfig(u.config.Timing), u.renamer, u.values,
		u.Fetch)

	u.LSU = lsu.New(u.name+".LSU", u.config.LSU,
		u.Exec.LSUQueue(), u.Exec.CompletionQueue(),
		lsu.WithBankChannels(u.bankChs),
		lsu.WithUnitID(id),
		lsu.WithPageTable(u.pageTable))
}

// Name returns the name of the unit.
func (u *Unit) Name() string {
	return u.name
}

// Config returns the configuration the unit was built with.
func (u *Unit) Config() *config.Config {
	return u.config
}

// Renamer returns the physical register allocator.
func (u *Unit) Renamer() *rename.Renamer {
	return u.renamer
}

// Emulator returns the built-in value model, or nil when another one was
// supplied.
func (u *Unit) Emulator() *emu.Emulator {
	return u.emulator
}

// InstructionChannel is the channel instruction lines are requested on.
func (u *Unit) InstructionChannel() *memsys.Channel {
	return u.instCh
}

// BankChannels are the data channels, one per load/store bank.
func (u *Unit) BankChannels() []*memsys.Channel {
	return u.bankChs
}

// RegisterKernel makes a kernel available for admission.
func (u *Unit) RegisterKernel(k *column.Kernel) error {
	return u.Fetch.RegisterKernel(k)
}

// Admit queues an execution request. It returns false when the admission
// queue is full.
func (u *Unit) Admit(req column.Request) (bool, error) {
	return u.Fetch.Admit(req)
}

// Submit queues requests to be admitted in order as admission has room.
func (u *Unit) Submit(reqs ...column.Request) {
	u.pending = append(u.pending, reqs...)
}

// Pending returns the number of submitted requests not yet admitted.
func (u *Unit) Pending() int {
	return len(u.pending)
}

func (u *Unit) admitPending() error {
	for len(u.pending) > 0 {
		ok, err := u.Fetch.Admit(u.pending[0])
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}

		u.pending = u.pending[1:]
	}

	return nil
}

// Cycles returns the number of cycles simulated so far.
func (u *Unit) Cycles() uint64 {
	return u.cycles
}

// Err returns the fault that stopped the unit, if any.
func (u *Unit) Err() error {
	return u.err
}

// Idle returns true when no column, instruction or memory access is in
// flight.
func (u *Unit) Idle() bool {
	if len(u.pending) > 0 || !u.Fetch.Idle() || u.Exec.Busy() ||
		u.LSU.Busy() {
		return false
	}

	if u.instMem != nil && u.instMem.Pending() > 0 {
		return false
	}

	return u.dataMem == nil || u.dataMem.Pending() == 0
}

// Tick advances the unit by one cycle. It returns false once the unit is
// idle or has faulted.
func (u *Unit) Tick() bool {
	if u.err != nil {
		return false
	}

	if err := u.cycle(); err != nil {
		u.err = fmt.Errorf("%s cycle %d: %w", u.name, u.cycles, err)
		u.InvokeHook(sim.HookCtx{Domain: u, Pos: HookPosFault, Item: u.err})

		return false
	}

	u.cycles++

	return !u.Idle()
}

func (u *Unit) cycle() error {
	if err := u.admitPending(); err != nil {
		return err
	}

	if err := u.Fetch.DrainMemory(); err != nil {
		return err
	}

	if err := u.LSU.DrainMemory(); err != nil {
		return err
	}

	if err := u.Fetch.Cycle(); err != nil {
		return err
	}

	if err := u.Exec.Cycle(); err != nil {
		return err
	}

	if err := u.LSU.Cycle(); err != nil {
		return err
	}

	if u.instMem != nil {
		if err := u.instMem.Cycle(); err != nil {
			return err
		}
	}

	if u.dataMem != nil {
		if err := u.dataMem.Cycle(); err != nil {
			return err
		}
	}

	return nil
}

// Run ticks the unit until it is idle, faults, or maxCycles have passed.
// A maxCycles of 0 means no limit.
func (u *Unit) Run(maxCycles uint64) error {
	for maxCycles == 0 || u.cycles < maxCycles {
		if !u.Tick() {
			return u.err
		}
	}

	return fmt.Errorf("%s: not idle after %d cycles", u.name, maxCycles)
}

// Stats returns performance statistics for the unit.
func (u *Unit) Stats() Stats {
	s := Stats{
		Cycles: u.cycles,
		Fetch:  u.Fetch.Stats(),
		Exec:   u.Exec.Stats(),
		LSU:    u.LSU.Stats(),
		TLB:    u.LSU.TLB().Stats(),
	}

	if u.emulator != nil {
		s.Executed = u.emulator.InstructionCount()
	}

	return s
}

// Component drives a Unit from an akita engine.
type Component struct {
	*sim.TickingComponent

	Unit *Unit

	// Limit stops ticking once the unit has run this many cycles. 0 means
	// no limit.
	Limit uint64
}

// NewComponent wraps the unit in a ticking component clocked at freq.
func NewComponent(engine sim.Engine, freq sim.Freq, u *Unit) *Component {
	c := &Component{Unit: u}
	c.TickingComponent = sim.NewTickingComponent(u.Name(), engine, freq, c)

	return c
}

// Tick implements sim.Ticker.
func (c *Component) Tick() bool {
	if c.Limit > 0 && c.Unit.Cycles() >= c.Limit {
		return false
	}

	return c.Unit.Tick()
}
