package cache

import "math/bits"

// SectorState is the state of one sector of a line.
type SectorState uint8

// Sector states.
const (
	SectorInvalid SectorState = iota
	SectorReserved
	SectorValid
	SectorModified
)

func (s SectorState) String() string {
	switch s {
	case SectorInvalid:
		return "I"
	case SectorReserved:
		return "R"
	case SectorValid:
		return "V"
	case SectorModified:
		return "M"
	default:
		return "?"
	}
}

// sectorMask has one bit per sector.
type sectorMask uint8

func (m sectorMask) count() int {
	return bits.OnesCount8(uint8(m))
}

// line is the per-way state kept next to the akita directory block.
type line struct {
	sectors [MaxSectors]SectorState

	// unreadable marks sectors written without a fetch; a read needs to
	// fetch them first.
	unreadable sectorMask

	ignoreOnFill sectorMask
	modifyOnFill sectorMask

	allocTime  uint64
	lastAccess uint64
}

func (l *line) mask(state SectorState) sectorMask {
	var m sectorMask

	for i, s := range l.sectors {
		if s == state {
			m |= 1 << i
		}
	}

	return m
}

func (l *line) present() sectorMask {
	return l.mask(SectorValid) | l.mask(SectorModified)
}

func (l *line) allocated() bool {
	return l.mask(SectorInvalid) != sectorMask(1<<MaxSectors-1)
}

func (l *line) set(m sectorMask, state SectorState) {
	for i := range l.sectors {
		if m&(1<<i) != 0 {
			l.sectors[i] = state
		}
	}
}

func (l *line) clear() {
	*l = line{}
}

// LineInfo is a read-only snapshot of one line.
type LineInfo struct {
	Set        int
	Way        int
	Tag        uint64
	Valid      bool
	Sectors    [MaxSectors]SectorState
	AllocTime  uint64
	LastAccess uint64
}
