package riscv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	memory := NewMemory()
	require.NoError(t, memory.AddMemoryRegion(NewRAMRegion(0x1000, 0x4000)))
	return memory
}

func TestMemoryRoundTrip(t *testing.T) {
	memory := newTestMemory(t)

	require.NoError(t, memory.WriteWord(0x1000, 0xdeadbeef))
	v, err := memory.ReadWord(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v)

	require.NoError(t, memory.WriteHalf(0x2000, 0xcafe))
	h, err := memory.ReadHalf(0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xcafe), h)

	require.NoError(t, memory.WriteByte(0x3000, 0xff))
	b, err := memory.ReadByte(0x3000)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xff), b)

	// Little-endian composition across the byte accessors.
	lo, err := memory.ReadByte(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xef), lo)
}

func TestMemoryAccessFaults(t *testing.T) {
	memory := newTestMemory(t)

	_, err := memory.ReadWord(0x9000)
	assert.ErrorIs(t, err, ErrAccessFault)

	assert.ErrorIs(t, memory.WriteWord(0x9000, 1), ErrAccessFault)

	// A word straddling the end of the region faults too.
	_, err = memory.ReadWord(0x4ffe)
	assert.ErrorIs(t, err, ErrAccessFault)
}

func TestMemoryPeek(t *testing.T) {
	memory := newTestMemory(t)
	require.NoError(t, memory.WriteWord(0x1004, 0x12345678))

	v, present := memory.PeekWord(0x1004)
	assert.True(t, present)
	assert.Equal(t, uint32(0x12345678), v)

	_, present = memory.PeekWord(0x9000)
	assert.False(t, present)

	words, presents := memory.PeekWords(0x0ffc, 4)
	assert.Equal(t, []bool{false, true, true, true}, presents)
	assert.Equal(t, uint32(0x12345678), words[2])
}

func TestMemoryRegionOverlap(t *testing.T) {
	memory := newTestMemory(t)
	err := memory.AddMemoryRegion(NewRAMRegion(0x4000, 0x1000))
	assert.ErrorIs(t, err, ErrRegionOverlap)

	require.NoError(t, memory.AddMemoryRegion(NewRAMRegion(0x10000, 0x1000)))
}

func TestMemoryUsage(t *testing.T) {
	memory := newTestMemory(t)
	assert.Equal(t, uint64(0x4000), memory.GetTotalMemory())
	assert.Equal(t, uint64(0), memory.GetUsedMemory())

	require.NoError(t, memory.WriteByte(0x1000, 1))
	assert.Equal(t, uint64(ramPageSize), memory.GetUsedMemory())

	// Same page: no further commit.
	require.NoError(t, memory.WriteByte(0x1f00, 1))
	assert.Equal(t, uint64(ramPageSize), memory.GetUsedMemory())

	require.NoError(t, memory.WriteByte(0x2000, 1))
	assert.Equal(t, uint64(2*ramPageSize), memory.GetUsedMemory())
}

func TestReservations(t *testing.T) {
	memory := newTestMemory(t)
	require.NoError(t, memory.WriteWord(0x1000, 41))

	v, err := memory.ReadWordReserved(0x1000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(41), v)

	ok, err := memory.WriteWordConditional(0x1000, 42, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// The successful store consumed the reservation.
	ok, err = memory.WriteWordConditional(0x1000, 43, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err = memory.ReadWord(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)
}

func TestReservationInvalidatedByWrite(t *testing.T) {
	tests := []struct {
		name  string
		write func(m *Memory)
	}{
		{"word", func(m *Memory) { m.WriteWord(0x1000, 7) }},
		{"half", func(m *Memory) { m.WriteHalf(0x1002, 7) }},
		{"byte", func(m *Memory) { m.WriteByte(0x1003, 7) }},
		{"amo", func(m *Memory) { m.AtomicAdd(0x1000, 1) }},
		{"other hart sc", func(m *Memory) {
			m.ReadWordReserved(0x1000, 1)
			m.WriteWordConditional(0x1000, 9, 1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memory := newTestMemory(t)
			_, err := memory.ReadWordReserved(0x1000, 0)
			require.NoError(t, err)

			tt.write(memory)

			ok, err := memory.WriteWordConditional(0x1000, 1, 0)
			require.NoError(t, err)
			assert.False(t, ok, "reservation must not survive a write")
		})
	}
}

func TestReservationOtherWordSurvives(t *testing.T) {
	memory := newTestMemory(t)
	_, err := memory.ReadWordReserved(0x1000, 0)
	require.NoError(t, err)

	require.NoError(t, memory.WriteWord(0x1004, 7))

	ok, err := memory.WriteWordConditional(0x1000, 1, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAtomics(t *testing.T) {
	tests := []struct {
		name string
		op   func(m *Memory, addr, v uint32) (uint32, error)
		old  uint32
		arg  uint32
		want uint32
	}{
		{"swap", (*Memory).AtomicSwap, 5, 9, 9},
		{"add", (*Memory).AtomicAdd, 5, 9, 14},
		{"xor", (*Memory).AtomicXor, 0b1100, 0b1010, 0b0110},
		{"and", (*Memory).AtomicAnd, 0b1100, 0b1010, 0b1000},
		{"or", (*Memory).AtomicOr, 0b1100, 0b1010, 0b1110},
		{"min signed", (*Memory).AtomicMin, 0xffffffff, 1, 0xffffffff},
		{"max signed", (*Memory).AtomicMax, 0xffffffff, 1, 1},
		{"minu", (*Memory).AtomicMinU, 0xffffffff, 1, 1},
		{"maxu", (*Memory).AtomicMaxU, 0xffffffff, 1, 0xffffffff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memory := newTestMemory(t)
			require.NoError(t, memory.WriteWord(0x1000, tt.old))

			old, err := tt.op(memory, 0x1000, tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.old, old, "rd gets the old value")

			stored, err := memory.ReadWord(0x1000)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored, "memory gets op(old, rs2)")
		})
	}
}
