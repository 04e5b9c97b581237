package riscv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Instruction-word builders for the tests, one per encoding form.

func encR(opcode, funct7, rs2, rs1, funct3, rd uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encI(opcode, funct3, rd, rs1, imm uint32) uint32 {
	return imm&0xfff<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encS(opcode, funct3, rs1, rs2, imm uint32) uint32 {
	return imm>>5&0x7f<<25 | rs2<<20 | rs1<<15 | funct3<<12 | imm&0x1f<<7 | opcode
}

func encB(funct3, rs1, rs2, imm uint32) uint32 {
	word := uint32(0b1100011) | funct3<<12 | rs1<<15 | rs2<<20
	word |= imm >> 12 & 1 << 31
	word |= imm >> 5 & 0x3f << 25
	word |= imm >> 1 & 0xf << 8
	word |= imm >> 11 & 1 << 7
	return word
}

func encU(opcode, rd, imm uint32) uint32 {
	return imm&0xfffff000 | rd<<7 | opcode
}

func encJ(rd, imm uint32) uint32 {
	word := uint32(0b1101111) | rd<<7
	word |= imm >> 20 & 1 << 31
	word |= imm >> 1 & 0x3ff << 21
	word |= imm >> 11 & 1 << 20
	word |= imm & 0xff000
	return word
}

func encCSR(funct3, rd, rs1, csr uint32) uint32 {
	return encI(0b1110011, funct3, rd, rs1, csr)
}

func encAMO(funct5, rd, rs1, rs2 uint32) uint32 {
	return encR(0b0101111, funct5<<2, rs2, rs1, 0b010, rd)
}

const ebreakWord = 0x00100073

// newTestVM builds a hart over a fresh memory with one RAM region and the
// PC parked at base.
func newTestVM(t *testing.T, base, size uint32) (*VirtualMachine, *Memory) {
	t.Helper()
	memory := NewMemory()
	require.NoError(t, memory.AddMemoryRegion(NewRAMRegion(base, size)))
	vm, err := NewVirtualMachine(memory, base, 0)
	require.NoError(t, err)
	return vm, memory
}

// stepVM executes up to count instructions, stopping early on a breakpoint,
// and fails the test on any fault. It returns whether a breakpoint was hit.
func stepVM(t *testing.T, vm *VirtualMachine, count uint32) bool {
	t.Helper()
	hit, err := vm.Step(count)
	require.NoError(t, err)
	return hit
}
