// Package exec implements the execution stage of the NDP unit: dependency
// and resource checks, issue into functional unit pools, and retirement of
// finished functional unit work.
package exec

import (
	"errors"
	"fmt"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/emu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/delayqueue"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/latency"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/lsu"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/rename"
)

// MaxLMUL is the largest register group multiplier. A physical vector
// register holds VLEN*MaxLMUL bits, twice that when paired.
const MaxLMUL = 8

// Errors.
var (
	ErrNoHandler         = errors.New("no handler for operand shape")
	ErrRegisterOverflow  = errors.New("vector write exceeds register storage")
	ErrBadVType          = errors.New("unsupported vtype")
	ErrUnknownCompletion = errors.New("completion for an unknown instruction")
)

// Hook positions.
var (
	// HookPosIssue is invoked with the issued *rename.Inst.
	HookPosIssue = &sim.HookPos{Name: "Issue"}

	// HookPosStall is invoked with the stalled column and the WaitReason.
	HookPosStall = &sim.HookPos{Name: "Stall"}

	// HookPosColumnDone is invoked with a column handed to retirement.
	HookPosColumnDone = &sim.HookPos{Name: "ColumnDone"}

	// HookPosWriteback is invoked with the *rename.Inst whose destination
	// just became ready.
	HookPosWriteback = &sim.HookPos{Name: "Writeback"}
)

// Config configures the execution stage. Each unit count is the number of
// queues in that pool.
type Config struct {
	IssueWidth    int `json:"issue_width"`
	VLEN          int `json:"vlen"`
	UnitQueueSize int `json:"unit_queue_size"`
	LSUQueueSize  int `json:"lsu_queue_size"`

	IntUnits         int `json:"int_units"`
	FloatUnits       int `json:"float_units"`
	SFUUnits         int `json:"sfu_units"`
	AddrUnits        int `json:"addr_units"`
	VectorIntUnits   int `json:"vector_int_units"`
	VectorFloatUnits int `json:"vector_float_units"`
	VectorSFUUnits   int `json:"vector_sfu_units"`
	VectorAddrUnits  int `json:"vector_addr_units"`
}

// DefaultConfig returns the default execution stage configuration.
func DefaultConfig() Config {
	return Config{
		IssueWidth:       2,
		VLEN:             256,
		UnitQueueSize:    8,
		LSUQueueSize:     8,
		IntUnits:         2,
		FloatUnits:       1,
		SFUUnits:         1,
		AddrUnits:        1,
		VectorIntUnits:   1,
		VectorFloatUnits: 1,
		VectorSFUUnits:   1,
		VectorAddrUnits:  1,
	}
}

func (c Config) units(vector bool, class insts.FUClass) int {
	if vector {
		return [...]int{c.VectorIntUnits, c.VectorFloatUnits,
			c.VectorSFUUnits, c.VectorAddrUnits}[class]
	}

	return [...]int{c.IntUnits, c.FloatUnits, c.SFUUnits, c.AddrUnits}[class]
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.IssueWidth <= 0 {
		return fmt.Errorf("issue_width must be > 0")
	}

	if c.VLEN <= 0 || c.VLEN%64 != 0 {
		return fmt.Errorf("vlen must be a positive multiple of 64")
	}

	if c.UnitQueueSize <= 0 || c.LSUQueueSize <= 0 {
		return fmt.Errorf("unit_queue_size and lsu_queue_size must be > 0")
	}

	for _, vector := range []bool{false, true} {
		for class := insts.FUClass(0); class < insts.NumFUClasses; class++ {
			if c.units(vector, class) <= 0 {
				return fmt.Errorf("every unit pool needs at least one "+
					"unit, %s has none", poolName(vector, class))
			}
		}
	}

	return nil
}

func poolName(vector bool, class insts.FUClass) string {
	if vector {
		return "Vector" + class.String()
	}

	return "Scalar" + class.String()
}

// Statistics holds execution stage counters.
type Statistics struct {
	Issued         uint64
	Stalls         [NumWaitReasons]uint64
	BranchesTaken  uint64
	MemoryRetired  uint64
	ColumnsDone    uint64
	UnitBusyCycles [2][insts.NumFUClasses]uint64
}

// ColumnSource provides the live columns and the path finished columns are
// handed to.
type ColumnSource interface {
	Columns() []*column.Column
	RetireBuffer() sim.Buffer
}

type unitItem struct {
	col   *column.Column
	inst  *rename.Inst
	pc    int
	csr   column.CSR
	taken bool
	lanes []emu.Lane
}

type pool struct {
	units []*delayqueue.DelayQueue[*unitItem]
}

// Stage is the execution stage.
type Stage struct {
	*sim.HookableBase

	name    string
	config  Config
	table   *latency.Table
	renamer *rename.Renamer
	values  emu.ValueModel
	columns ColumnSource

	pools [2][insts.NumFUClasses]pool
	next  int

	toLSU      sim.Buffer
	completion sim.Buffer
	order      map[column.ID]memOrder

	stats Statistics
}

// New creates an execution stage.
func New(
	name string,
	config Config,
	table *latency.Table,
	renamer *rename.Renamer,
	values emu.ValueModel,
	columns ColumnSource,
) *Stage {
	if err := config.Validate(); err != nil {
		panic(err)
	}

	s := &Stage{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		config:       config,
		table:        table,
		renamer:      renamer,
		values:       values,
		columns:      columns,
		toLSU:        sim.NewBuffer(name+".LSUQueue", config.LSUQueueSize),
		completion: sim.NewBuffer(name+".CompletionQueue",
			config.LSUQueueSize),
		order: make(map[column.ID]memOrder),
	}

	for v, vector := range []bool{false, true} {
		for class := insts.FUClass(0); class < insts.NumFUClasses; class++ {
			n := config.units(vector, class)
			p := &s.pools[v][class]

			for i := 0; i < n; i++ {
				p.units = append(p.units, delayqueue.New[*unitItem](
					fmt.Sprintf("%s.%s[%d]", name, poolName(vector, class),
						i),
					config.UnitQueueSize))
			}
		}
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

// LSUQueue is the hand-off FIFO from the address units to the load/store
// pipeline. It carries *lsu.Instruction.
func (s *Stage) LSUQueue() sim.Buffer {
	return s.toLSU
}

// CompletionQueue is where the load/store pipeline returns completed
// instructions.
func (s *Stage) CompletionQueue() sim.Buffer {
	return s.completion
}

// Busy returns true if any functional unit holds work or a memory
// instruction is outstanding.
func (s *Stage) Busy() bool {
	for v := range s.pools {
		for c := range s.pools[v] {
			for _, u := range s.pools[v][c].units {
				if u.Len() > 0 {
					return true
				}
			}
		}
	}

	return len(s.order) > 0 || s.toLSU.Size() > 0 || s.completion.Size() > 0
}

func (s *Stage) poolOf(in *rename.Inst) *pool {
	v := 0
	if in.IsVector() {
		v = 1
	}

	return &s.pools[v][in.Unit()]
}

func (s *Stage) pickUnit(in *rename.Inst) *delayqueue.DelayQueue[*unitItem] {
	for _, u := range s.poolOf(in).units {
		if !u.Full() {
			return u
		}
	}

	return nil
}

// Cycle retires visible functional unit work, writes back completed memory
// instructions, issues up to IssueWidth instructions, hands finished
// columns to retirement, and advances every unit.
func (s *Stage) Cycle() error {
	s.retireUnits()

	if err := s.drainCompletions(); err != nil {
		return err
	}

	if err := s.issueRoundRobin(); err != nil {
		return err
	}

	s.finishColumns()
	s.advance()

	return nil
}

func (s *Stage) issueRoundRobin() error {
	cols := s.columns.Columns()
	n := len(cols)
	if n == 0 {
		return nil
	}

	issued := 0
	last := -1

	for i := 0; i < n && issued < s.config.IssueWidth; i++ {
		idx := (s.next + i) % n
		c := cols[idx]

		if c.Current == nil {
			continue
		}

		reason := s.CheckDependency(c.Current, c)
		if reason == WaitNone && !s.CheckResource(c.Current) {
			reason = WaitResource
		}

		if reason != WaitNone {
			s.stats.Stalls[reason]++
			s.InvokeHook(sim.HookCtx{
				Domain: s,
				Pos:    HookPosStall,
				Item:   c,
				Detail: reason,
			})

			continue
		}

		if err := s.Issue(c); err != nil {
			return err
		}

		issued++
		last = idx
	}

	if last >= 0 {
		s.next = (last + 1) % n
	}

	return nil
}

// Issue sends the column's current instruction to a functional unit. The
// caller must have checked dependencies and resources.
func (s *Stage) Issue(c *column.Column) error {
	in := c.Current
	item := &unitItem{col: c, inst: in, pc: c.PC}

	if in.IsCSR() {
		if err := s.setVType(c, in); err != nil {
			return err
		}
	}

	item.csr = c.CSR

	if err := s.checkOverflow(c, in); err != nil {
		return err
	}

	if in.IsAddress() {
		lanes, err := deriveLanes(s.values, in, c.CSR)
		if err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}

		item.lanes = lanes
	}

	if !in.IsAddress() || in.IsStore() {
		out, err := s.values.Execute(in, s.context(item))
		if err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}

		item.taken = out.Taken
	}

	if in.HasDst() {
		s.renamer.NotReady(in.PDst)
	}

	if in.IsAddress() {
		o := s.order[c.UID]
		if in.IsLoad() {
			o.reads++
		} else {
			o.writes++
		}
		s.order[c.UID] = o
	}

	lat, interval := s.table.Timing(&in.Instruction, c.CSR.LMUL)
	s.pickUnit(in).PushThrottled(item, lat, interval)

	c.Current = nil
	c.InFlight++

	if in.IsBranch() {
		c.Block = true
		c.State = column.Blocked
	} else {
		c.PC++
		c.State = column.Issued
	}

	s.stats.Issued++
	s.InvokeHook(sim.HookCtx{Domain: s, Pos: HookPosIssue, Item: in})

	return nil
}

func (s *Stage) context(item *unitItem) *emu.Context {
	return &emu.Context{
		Column: item.col.UID,
		PC:     item.pc,
		CSR:    item.csr,
		Lanes:  item.lanes,
	}
}

// setVType applies a vsetvli to the column's CSR. An AVL operand of x0
// requests the maximum vector length.
func (s *Stage) setVType(c *column.Column, in *rename.Inst) error {
	sew, lmul := insts.DecodeVType(in.Src[1].Value)

	switch sew {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("%s: %w: sew %d", c, ErrBadVType, sew)
	}

	switch lmul {
	case 1, 2, 4, MaxLMUL:
	default:
		return fmt.Errorf("%s: %w: lmul %d", c, ErrBadVType, lmul)
	}

	vlmax := s.config.VLEN * lmul / sew

	vl := vlmax
	if in.Src[0].Value != insts.RegZero {
		avl := s.values.ReadInt(in.PSrc[0])
		if avl >= 0 && avl < int64(vlmax) {
			vl = int(avl)
		}
	}

	c.CSR = column.CSR{VL: vl, SEW: sew, LMUL: lmul}

	return nil
}

// checkOverflow fails a vector write larger than the destination's
// storage.
func (s *Stage) checkOverflow(c *column.Column, in *rename.Inst) error {
	if !in.HasDst() || in.Dst.Class != insts.ClassVector {
		return nil
	}

	elemBits := c.CSR.SEW
	switch {
	case in.IsAddress():
		elemBits = in.MemBytes() * 8 * segments(in)
	case in.IsWidening():
		elemBits *= 2
	}

	capacity := s.config.VLEN * MaxLMUL
	if in.DstWide {
		capacity *= 2
	}

	if c.CSR.VL*elemBits > capacity {
		return fmt.Errorf("%s: %s: %w: %d bits into %d",
			c, &in.Instruction, ErrRegisterOverflow, c.CSR.VL*elemBits,
			capacity)
	}

	return nil
}

func (s *Stage) retireUnits() {
	for v := range s.pools {
		for class := range s.pools[v] {
			for _, u := range s.pools[v][class].units {
				s.retireUnit(u)
			}
		}
	}
}

func (s *Stage) retireUnit(u *delayqueue.DelayQueue[*unitItem]) {
	for !u.Empty() {
		item := u.Top()
		c := item.col

		if item.inst.IsAddress() {
			if !s.toLSU.CanPush() {
				return
			}

			s.toLSU.Push(&lsu.Instruction{
				Column: c,
				Inst:   item.inst,
				PC:     item.pc,
				CSR:    item.csr,
				Lanes:  item.lanes,
			})

			u.Pop()
			c.InFlight--
			c.Outstanding++

			if c.InFlight == 0 && c.State == column.Issued {
				c.State = column.AwaitingMemory
			}

			continue
		}

		u.Pop()
		c.InFlight--

		if item.inst.HasDst() {
			s.writeback(item.inst)
		}

		if item.inst.IsBranch() {
			s.resolveBranch(item)
		}
	}
}

func (s *Stage) writeback(in *rename.Inst) {
	s.renamer.SetReady(in.PDst)
	s.InvokeHook(sim.HookCtx{Domain: s, Pos: HookPosWriteback, Item: in})
}

func (s *Stage) resolveBranch(item *unitItem) {
	c := item.col

	if item.taken {
		c.PC = item.inst.Target
		s.stats.BranchesTaken++
	} else {
		c.PC = item.pc + 1
	}

	c.Block = false
	c.State = column.Fetching
}

func (s *Stage) drainCompletions() error {
	for {
		e := s.completion.Pop()
		if e == nil {
			return nil
		}

		mi := e.(*lsu.Instruction)
		c := mi.Column
		in := mi.Inst

		if in.IsLoad() || in.IsAtomic() {
			_, err := s.values.Execute(in, &emu.Context{
				Column: c.UID,
				PC:     mi.PC,
				CSR:    mi.CSR,
				Lanes:  mi.Lanes,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", c, err)
			}
		}

		if in.HasDst() {
			s.writeback(in)
		}

		o, ok := s.order[c.UID]
		if !ok {
			return fmt.Errorf("%w: %s pc %d", ErrUnknownCompletion, c, mi.PC)
		}

		if in.IsLoad() {
			o.reads--
		} else {
			o.writes--
		}

		if o.reads == 0 && o.writes == 0 {
			delete(s.order, c.UID)
		} else {
			s.order[c.UID] = o
		}

		c.Outstanding--
		s.stats.MemoryRetired++
	}
}

func (s *Stage) finishColumns() {
	retire := s.columns.RetireBuffer()

	for _, c := range s.columns.Columns() {
		if c.State == column.Retired || !c.Finished() {
			continue
		}

		if !retire.CanPush() {
			return
		}

		retire.Push(c)
		c.State = column.Retired
		s.stats.ColumnsDone++

		s.InvokeHook(sim.HookCtx{Domain: s, Pos: HookPosColumnDone, Item: c})
	}
}

func (s *Stage) advance() {
	for v := range s.pools {
		for class := range s.pools[v] {
			busy := false

			for _, u := range s.pools[v][class].units {
				if u.Len() > 0 {
					busy = true
				}

				u.Cycle()
			}

			if busy {
				s.stats.UnitBusyCycles[v][class]++
			}
		}
	}
}
