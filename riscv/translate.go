package riscv

import "fmt"

const pageSize = 0x1000

// pte is one Sv32 page-table entry.
type pte uint32

func (p pte) v() bool { return p&(1<<0) != 0 }
func (p pte) r() bool { return p&(1<<1) != 0 }
func (p pte) w() bool { return p&(1<<2) != 0 }
func (p pte) x() bool { return p&(1<<3) != 0 }
func (p pte) a() bool { return p&(1<<6) != 0 }
func (p pte) d() bool { return p&(1<<7) != 0 }

func (p pte) leaf() bool { return p.r() || p.w() || p.x() }

func (p pte) ppn() uint32  { return uint32(p) >> 10 }
func (p pte) ppn0() uint32 { return uint32(p) >> 10 & 0x3ff }
func (p pte) ppn1() uint32 { return uint32(p) >> 20 & 0xfff }

// MemoryAccess is the result of a permission probe for one address.
type MemoryAccess struct {
	MachineRead       bool
	MachineWrite      bool
	MachineExecute    bool
	SupervisorRead    bool
	SupervisorWrite   bool
	SupervisorExecute bool
	UserRead          bool
	UserWrite         bool
	UserExecute       bool
	AddressPresent    bool
	TranslatedAddress uint32
}

// CheckMemoryAccess is the probe the interpreter consults before a fetch.
// It grants everything and maps the address onto itself; consulting the leaf
// R/W/X/U bits and the privilege level remains an open gap. The real Sv32
// walk lives in TranslateMemoryAddress.
func (vm *VirtualMachine) CheckMemoryAccess(address uint32) MemoryAccess {
	return MemoryAccess{
		MachineRead:       true,
		MachineWrite:      true,
		MachineExecute:    true,
		SupervisorRead:    true,
		SupervisorWrite:   true,
		SupervisorExecute: true,
		UserRead:          true,
		UserWrite:         true,
		UserExecute:       true,
		AddressPresent:    true,
		TranslatedAddress: address,
	}
}

// TranslateMemoryAddress walks the two-level Sv32 table rooted at satp.
// A first-level leaf is a 4 MiB superpage and must be megapage-aligned.
// The accessed bit must be set, and the dirty bit too when translating for
// a write.
func (vm *VirtualMachine) TranslateMemoryAddress(address uint32, isWrite bool) (uint32, error) {
	vpn1 := address >> 22 & 0x3ff
	vpn0 := address >> 12 & 0x3ff
	offset := address & 0xfff

	rootTable := vm.csrs[SATP] << 12

	readPTE := func(addr uint32) (pte, error) {
		word, present := vm.memory.PeekWord(addr)
		if !present {
			return 0, fmt.Errorf("%w: PTE at 0x%08x", ErrAccessFault, addr)
		}
		entry := pte(word)
		if !entry.v() || (!entry.r() && entry.w()) {
			return 0, fmt.Errorf("%w: PTE at 0x%08x = 0x%08x", ErrPageFault, addr, word)
		}
		return entry, nil
	}

	entry1, err := readPTE(rootTable + vpn1*4)
	if err != nil {
		return 0, err
	}

	leaf := entry1
	super := entry1.leaf()
	if !super {
		leaf, err = readPTE(entry1.ppn()*pageSize + vpn0*4)
		if err != nil {
			return 0, err
		}
		if !leaf.leaf() {
			return 0, fmt.Errorf("%w: non-leaf second-level PTE for 0x%08x", ErrPageFault, address)
		}
	}

	if super && leaf.ppn0() != 0 {
		return 0, fmt.Errorf("%w: misaligned superpage for 0x%08x", ErrPageFault, address)
	}

	if !leaf.a() || (isWrite && !leaf.d()) {
		return 0, fmt.Errorf("%w: accessed/dirty for 0x%08x", ErrPageFault, address)
	}

	if super {
		return leaf.ppn1()<<22 | vpn0<<12 | offset, nil
	}
	return leaf.ppn()<<12 | offset, nil
}
