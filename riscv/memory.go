package riscv

import (
	"fmt"
	"sync"
)

// MemoryRegion is one span of the physical address space. Addresses handed to
// ReadByte/WriteByte are absolute; a region only ever sees addresses inside
// [Base, Base+Size). The present flag is false when the region cannot back
// the byte (used by device regions with holes).
type MemoryRegion interface {
	Base() uint32
	Size() uint32
	ReadByte(addr uint32) (uint8, bool)
	WriteByte(addr uint32, v uint8) bool
}

// hostSized is implemented by regions that can report how much host memory
// they have actually committed; regions without it count their full span.
type hostSized interface {
	HostBytes() uint32
}

// Memory composes regions into the shared physical fabric. One Memory is
// shared by every hart; the single mutex covers region lookup, the
// reservation table, and the atomic read-modify-write sequences, which makes
// LR/SC and the AMO family linearisable across harts.
type Memory struct {
	mu           sync.Mutex
	regions      []MemoryRegion
	reservations map[uint32]uint32 // hart id -> reserved word address
}

func NewMemory() *Memory {
	return &Memory{
		reservations: make(map[uint32]uint32),
	}
}

// AddMemoryRegion attaches a region. Overlapping spans are illegal.
func (m *Memory) AddMemoryRegion(region MemoryRegion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	base, end := region.Base(), uint64(region.Base())+uint64(region.Size())
	for _, r := range m.regions {
		rbase, rend := r.Base(), uint64(r.Base())+uint64(r.Size())
		if uint64(base) < rend && uint64(rbase) < end {
			return fmt.Errorf("%w: 0x%08x-0x%08x", ErrRegionOverlap, base, end-1)
		}
	}
	m.regions = append(m.regions, region)
	return nil
}

func (m *Memory) findRegion(addr uint32) MemoryRegion {
	for _, r := range m.regions {
		if addr >= r.Base() && uint64(addr) < uint64(r.Base())+uint64(r.Size()) {
			return r
		}
	}
	return nil
}

func (m *Memory) readByte(addr uint32) (uint8, bool) {
	r := m.findRegion(addr)
	if r == nil {
		return 0, false
	}
	return r.ReadByte(addr)
}

func (m *Memory) writeByte(addr uint32, v uint8) bool {
	r := m.findRegion(addr)
	if r == nil {
		return false
	}
	return r.WriteByte(addr, v)
}

// dropReservations invalidates every hart's reservation covering the word at
// addr. Any write path lands here, which is what makes a racing SC fail.
func (m *Memory) dropReservations(addr uint32) {
	word := addr &^ 3
	for hart, reserved := range m.reservations {
		if reserved == word {
			delete(m.reservations, hart)
		}
	}
}

func (m *Memory) ReadByte(addr uint32) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.readByte(addr)
	if !ok {
		return 0, fmt.Errorf("%w: read byte 0x%08x", ErrAccessFault, addr)
	}
	return v, nil
}

func (m *Memory) ReadHalf(addr uint32) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var v uint16
	for i := uint32(0); i < 2; i++ {
		b, ok := m.readByte(addr + i)
		if !ok {
			return 0, fmt.Errorf("%w: read half 0x%08x", ErrAccessFault, addr)
		}
		v |= uint16(b) << (i * 8)
	}
	return v, nil
}

func (m *Memory) ReadWord(addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.readWord(addr)
	if !ok {
		return 0, fmt.Errorf("%w: read word 0x%08x", ErrAccessFault, addr)
	}
	return v, nil
}

func (m *Memory) readWord(addr uint32) (uint32, bool) {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		b, ok := m.readByte(addr + i)
		if !ok {
			return 0, false
		}
		v |= uint32(b) << (i * 8)
	}
	return v, true
}

func (m *Memory) writeWord(addr uint32, v uint32) bool {
	for i := uint32(0); i < 4; i++ {
		if !m.writeByte(addr+i, uint8(v>>(i*8))) {
			return false
		}
	}
	return true
}

func (m *Memory) WriteByte(addr uint32, v uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.writeByte(addr, v) {
		return fmt.Errorf("%w: write byte 0x%08x", ErrAccessFault, addr)
	}
	m.dropReservations(addr)
	return nil
}

func (m *Memory) WriteHalf(addr uint32, v uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := uint32(0); i < 2; i++ {
		if !m.writeByte(addr+i, uint8(v>>(i*8))) {
			return fmt.Errorf("%w: write half 0x%08x", ErrAccessFault, addr)
		}
	}
	m.dropReservations(addr)
	m.dropReservations(addr + 1)
	return nil
}

func (m *Memory) WriteWord(addr uint32, v uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.writeWord(addr, v) {
		return fmt.Errorf("%w: write word 0x%08x", ErrAccessFault, addr)
	}
	m.dropReservations(addr)
	m.dropReservations(addr + 3)
	return nil
}

// PeekWord reads without faulting; the second result reports presence. The
// debugger and the address translator probe memory this way.
func (m *Memory) PeekWord(addr uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readWord(addr)
}

// PeekWords bulk-snapshots count words starting at base for the assembly
// view. Missing words read as zero with a false present mark.
func (m *Memory) PeekWords(base uint32, count uint32) ([]uint32, []bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	words := make([]uint32, count)
	present := make([]bool, count)
	for i := uint32(0); i < count; i++ {
		words[i], present[i] = m.readWord(base + i*4)
	}
	return words, present
}

// ReadWordReserved performs a load-reserved: the read installs a reservation
// on the word for the given hart, replacing any previous one it held.
func (m *Memory) ReadWordReserved(addr uint32, hart uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.readWord(addr)
	if !ok {
		return 0, fmt.Errorf("%w: read reserved 0x%08x", ErrAccessFault, addr)
	}
	m.reservations[hart] = addr &^ 3
	return v, nil
}

// WriteWordConditional performs a store-conditional: the write happens only
// if the hart still holds a valid reservation on the word. The success flag
// is the instruction-visible result; the error reports access faults only.
func (m *Memory) WriteWordConditional(addr uint32, v uint32, hart uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reserved, ok := m.reservations[hart]
	if !ok || reserved != addr&^3 {
		return false, nil
	}
	if !m.writeWord(addr, v) {
		return false, fmt.Errorf("%w: write conditional 0x%08x", ErrAccessFault, addr)
	}
	m.dropReservations(addr)
	return true, nil
}

func (m *Memory) rmw(addr uint32, f func(old uint32) uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.readWord(addr)
	if !ok {
		return 0, fmt.Errorf("%w: atomic 0x%08x", ErrAccessFault, addr)
	}
	if !m.writeWord(addr, f(old)) {
		return 0, fmt.Errorf("%w: atomic 0x%08x", ErrAccessFault, addr)
	}
	m.dropReservations(addr)
	return old, nil
}

func (m *Memory) AtomicSwap(addr uint32, v uint32) (uint32, error) {
	return m.rmw(addr, func(uint32) uint32 { return v })
}

func (m *Memory) AtomicAdd(addr uint32, v uint32) (uint32, error) {
	return m.rmw(addr, func(old uint32) uint32 { return old + v })
}

func (m *Memory) AtomicXor(addr uint32, v uint32) (uint32, error) {
	return m.rmw(addr, func(old uint32) uint32 { return old ^ v })
}

func (m *Memory) AtomicAnd(addr uint32, v uint32) (uint32, error) {
	return m.rmw(addr, func(old uint32) uint32 { return old & v })
}

func (m *Memory) AtomicOr(addr uint32, v uint32) (uint32, error) {
	return m.rmw(addr, func(old uint32) uint32 { return old | v })
}

func (m *Memory) AtomicMin(addr uint32, v uint32) (uint32, error) {
	return m.rmw(addr, func(old uint32) uint32 {
		if int32(old) < int32(v) {
			return old
		}
		return v
	})
}

func (m *Memory) AtomicMax(addr uint32, v uint32) (uint32, error) {
	return m.rmw(addr, func(old uint32) uint32 {
		if int32(old) > int32(v) {
			return old
		}
		return v
	})
}

func (m *Memory) AtomicMinU(addr uint32, v uint32) (uint32, error) {
	return m.rmw(addr, func(old uint32) uint32 {
		if old < v {
			return old
		}
		return v
	})
}

func (m *Memory) AtomicMaxU(addr uint32, v uint32) (uint32, error) {
	return m.rmw(addr, func(old uint32) uint32 {
		if old > v {
			return old
		}
		return v
	})
}

// GetTotalMemory reports the sum of region capacities.
func (m *Memory) GetTotalMemory() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, r := range m.regions {
		total += uint64(r.Size())
	}
	return total
}

// GetUsedMemory reports host bytes actually committed by sparse regions.
func (m *Memory) GetUsedMemory() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var used uint64
	for _, r := range m.regions {
		if hs, ok := r.(hostSized); ok {
			used += uint64(hs.HostBytes())
		} else {
			used += uint64(r.Size())
		}
	}
	return used
}

const ramPageSize = 0x1000

// RAMRegion is a sparse span of RAM: pages are committed on first write and
// uncommitted pages read as zero.
type RAMRegion struct {
	base  uint32
	size  uint32
	pages map[uint32]*[ramPageSize]byte
}

func NewRAMRegion(base, size uint32) *RAMRegion {
	return &RAMRegion{
		base:  base,
		size:  size,
		pages: make(map[uint32]*[ramPageSize]byte),
	}
}

func (r *RAMRegion) Base() uint32 { return r.base }
func (r *RAMRegion) Size() uint32 { return r.size }

func (r *RAMRegion) HostBytes() uint32 {
	return uint32(len(r.pages)) * ramPageSize
}

func (r *RAMRegion) ReadByte(addr uint32) (uint8, bool) {
	offset := addr - r.base
	page, ok := r.pages[offset/ramPageSize]
	if !ok {
		return 0, true
	}
	return page[offset%ramPageSize], true
}

func (r *RAMRegion) WriteByte(addr uint32, v uint8) bool {
	offset := addr - r.base
	page, ok := r.pages[offset/ramPageSize]
	if !ok {
		page = new([ramPageSize]byte)
		r.pages[offset/ramPageSize] = page
	}
	page[offset%ramPageSize] = v
	return true
}
