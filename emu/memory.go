package emu

const pageBits = 12

// Memory is a sparse little-endian byte-addressable memory.
type Memory struct {
	pages map[uint64]*[1 << pageBits]byte
}

// NewMemory creates an empty memory. Unwritten bytes read as 0.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint64]*[1 << pageBits]byte)}
}

func (m *Memory) page(addr uint64, create bool) *[1 << pageBits]byte {
	key := addr >> pageBits

	p := m.pages[key]
	if p == nil && create {
		p = new([1 << pageBits]byte)
		m.pages[key] = p
	}

	return p
}

// Read8 reads one byte.
func (m *Memory) Read8(addr uint64) byte {
	p := m.page(addr, false)
	if p == nil {
		return 0
	}

	return p[addr&(1<<pageBits-1)]
}

// Write8 writes one byte.
func (m *Memory) Write8(addr uint64, v byte) {
	m.page(addr, true)[addr&(1<<pageBits-1)] = v
}

// Read reads size bytes (at most 8) as an unsigned value.
func (m *Memory) Read(addr uint64, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(m.Read8(addr+uint64(i))) << (8 * i)
	}

	return v
}

// Write writes the low size bytes (at most 8) of v.
func (m *Memory) Write(addr uint64, size int, v uint64) {
	for i := 0; i < size; i++ {
		m.Write8(addr+uint64(i), byte(v>>(8*i)))
	}
}

// Read32 reads a 32-bit word.
func (m *Memory) Read32(addr uint64) uint32 {
	return uint32(m.Read(addr, 4))
}

// Write32 writes a 32-bit word.
func (m *Memory) Write32(addr uint64, v uint32) {
	m.Write(addr, 4, uint64(v))
}

// Read64 reads a 64-bit word.
func (m *Memory) Read64(addr uint64) uint64 {
	return m.Read(addr, 8)
}

// Write64 writes a 64-bit word.
func (m *Memory) Write64(addr uint64, v uint64) {
	m.Write(addr, 8, v)
}
