package riscv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteA = 1 << 6
	pteD = 1 << 7
)

// buildPageTable installs a root table at 0x1000 (satp = 1) mapping
// virtual 0x00400000 to physical 0x5000 through a second-level table at
// 0x2000, and virtual 0x00800000 onto a 4 MiB superpage at 0x00400000.
func buildPageTable(t *testing.T, vm *VirtualMachine, memory *Memory, leafFlags uint32) {
	t.Helper()
	vm.csrs[SATP] = 1

	// Root entry 1: pointer to the second-level table (ppn 2).
	require.NoError(t, memory.WriteWord(0x1000+1*4, 2<<10|pteV))
	// Second-level entry 0: leaf at physical page 5.
	require.NoError(t, memory.WriteWord(0x2000+0*4, 5<<10|leafFlags))
	// Root entry 2: superpage leaf, ppn1 = 1.
	require.NoError(t, memory.WriteWord(0x1000+2*4, 1<<20|leafFlags))
}

func TestTranslateTwoLevel(t *testing.T) {
	vm, memory := newTestVM(t, 0, 0x100000)
	buildPageTable(t, vm, memory, pteV|pteR|pteW|pteA|pteD)

	phys, err := vm.TranslateMemoryAddress(0x00400123, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x5123), phys)

	phys, err = vm.TranslateMemoryAddress(0x00400fff, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x5fff), phys)
}

func TestTranslateSuperpage(t *testing.T) {
	vm, memory := newTestVM(t, 0, 0x100000)
	buildPageTable(t, vm, memory, pteV|pteR|pteA|pteD)

	phys, err := vm.TranslateMemoryAddress(0x00801234, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<22|1<<12|0x234), phys)
}

func TestTranslateFaults(t *testing.T) {
	tests := []struct {
		name    string
		flags   uint32
		vaddr   uint32
		isWrite bool
		wantErr error
	}{
		{"accessed clear", pteV | pteR | pteD, 0x00400000, false, ErrPageFault},
		{"dirty clear on write", pteV | pteR | pteA, 0x00400000, true, ErrPageFault},
		{"dirty clear on read is fine", pteV | pteR | pteA, 0x00400000, false, nil},
		{"invalid entry", pteR | pteA | pteD, 0x00400000, false, ErrPageFault},
		{"write only", pteV | pteW | pteA | pteD, 0x00400000, false, ErrPageFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, memory := newTestVM(t, 0, 0x100000)
			buildPageTable(t, vm, memory, tt.flags)

			_, err := vm.TranslateMemoryAddress(tt.vaddr, tt.isWrite)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestTranslateNonLeafSecondLevel(t *testing.T) {
	vm, memory := newTestVM(t, 0, 0x100000)
	vm.csrs[SATP] = 1
	require.NoError(t, memory.WriteWord(0x1000+1*4, 2<<10|pteV))
	// Second-level entry is a pointer again: only one level remains, so
	// this is a fault.
	require.NoError(t, memory.WriteWord(0x2000+0*4, 3<<10|pteV))

	_, err := vm.TranslateMemoryAddress(0x00400000, false)
	assert.ErrorIs(t, err, ErrPageFault)
}

func TestTranslateMisalignedSuperpage(t *testing.T) {
	vm, memory := newTestVM(t, 0, 0x100000)
	vm.csrs[SATP] = 1
	// Superpage leaf with a nonzero low PPN half.
	require.NoError(t, memory.WriteWord(0x1000+2*4, 1<<20|5<<10|pteV|pteR|pteA|pteD))

	_, err := vm.TranslateMemoryAddress(0x00800000, false)
	assert.ErrorIs(t, err, ErrPageFault)
}

func TestTranslatePTEOutsideMemory(t *testing.T) {
	vm, _ := newTestVM(t, 0, 0x100000)
	// satp points past the RAM region.
	vm.csrs[SATP] = 0x80000

	_, err := vm.TranslateMemoryAddress(0x00400000, false)
	assert.ErrorIs(t, err, ErrAccessFault)
}

func TestCheckMemoryAccessIdentity(t *testing.T) {
	vm, _ := newTestVM(t, 0, 0x1000)
	maccess := vm.CheckMemoryAccess(0x1234)
	assert.True(t, maccess.AddressPresent)
	assert.Equal(t, uint32(0x1234), maccess.TranslatedAddress)
	assert.True(t, maccess.UserRead && maccess.SupervisorWrite && maccess.MachineExecute)
}

func TestCustTVAInstruction(t *testing.T) {
	vm, memory := newTestVM(t, 0, 0x100000)
	buildPageTable(t, vm, memory, pteV|pteR|pteW|pteA|pteD)

	*vm.GetRegister(1) = 0x00400123
	require.NoError(t, memory.WriteWord(0, encR(0b0001011, 0, 0, 1, 0b000, 2)))

	stepVM(t, vm, 1)
	assert.Equal(t, uint32(0x5123), *vm.GetRegister(2))
}
