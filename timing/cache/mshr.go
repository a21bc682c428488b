package cache

import "github.com/google/btree"

// MSHREntry describes one in-flight block.
type MSHREntry struct {
	BlockAddr uint64
	Waiters   []*Request
	HasAtomic bool
}

type mshrItem struct {
	MSHREntry
}

func (i *mshrItem) Less(than btree.Item) bool {
	return i.BlockAddr < than.(*mshrItem).BlockAddr
}

// MSHR is the miss-status-holding table. Entries are kept ordered by block
// address so that iteration is deterministic.
type MSHR struct {
	numEntries int
	maxMerge   int
	table      *btree.BTree
}

// NewMSHR creates a table with numEntries blocks of up to maxMerge waiters.
func NewMSHR(numEntries, maxMerge int) *MSHR {
	return &MSHR{
		numEntries: numEntries,
		maxMerge:   maxMerge,
		table:      btree.New(8),
	}
}

func (m *MSHR) get(blockAddr uint64) *mshrItem {
	item := m.table.Get(&mshrItem{MSHREntry{BlockAddr: blockAddr}})
	if item == nil {
		return nil
	}

	return item.(*mshrItem)
}

// Has returns true if the block has an entry.
func (m *MSHR) Has(blockAddr uint64) bool {
	return m.get(blockAddr) != nil
}

// Full returns true if no new block can be tracked.
func (m *MSHR) Full() bool {
	return m.table.Len() >= m.numEntries
}

// CanMerge returns true if a request can wait on the existing entry for the
// block. Entries holding an atomic never accept merges.
func (m *MSHR) CanMerge(blockAddr uint64) bool {
	e := m.get(blockAddr)
	if e == nil {
		return false
	}

	return !e.HasAtomic && len(e.Waiters) < m.maxMerge
}

// Add appends the request to the block's entry, creating one if needed.
func (m *MSHR) Add(blockAddr uint64, req *Request) {
	e := m.get(blockAddr)
	if e == nil {
		if m.Full() {
			panic("mshr is full")
		}

		e = &mshrItem{MSHREntry{BlockAddr: blockAddr}}
		m.table.ReplaceOrInsert(e)
	} else if !m.CanMerge(blockAddr) {
		panic("mshr entry cannot merge")
	}

	e.Waiters = append(e.Waiters, req)
	if req.Kind == KindAtomic {
		e.HasAtomic = true
	}
}

// Remove deletes the block's entry and returns its waiters in arrival order.
func (m *MSHR) Remove(blockAddr uint64) ([]*Request, bool) {
	item := m.table.Delete(&mshrItem{MSHREntry{BlockAddr: blockAddr}})
	if item == nil {
		return nil, false
	}

	return item.(*mshrItem).Waiters, true
}

// Len returns the number of tracked blocks.
func (m *MSHR) Len() int {
	return m.table.Len()
}

// Entries returns a copy of every entry in block address order.
func (m *MSHR) Entries() []MSHREntry {
	entries := make([]MSHREntry, 0, m.table.Len())

	m.table.Ascend(func(i btree.Item) bool {
		e := i.(*mshrItem).MSHREntry
		e.Waiters = append([]*Request(nil), e.Waiters...)
		entries = append(entries, e)

		return true
	})

	return entries
}

// Reset drops every entry.
func (m *MSHR) Reset() {
	m.table.Clear(false)
}
