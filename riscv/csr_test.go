package riscv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRPrivilegeGating(t *testing.T) {
	vm, _ := newTestVM(t, 0x1000, 0x1000)

	tests := []struct {
		name      string
		csr       uint32
		privilege Privilege
		allowed   bool
	}{
		{"fcsr in user", FCSR, User, true},
		{"cycle in user", CYCLE, User, true},
		{"timeh in user", TIMEH, User, true},
		{"sstatus in user", SSTATUS, User, false},
		{"satp in user", SATP, User, false},
		{"mstatus in user", MSTATUS, User, false},
		{"sstatus in supervisor", SSTATUS, Supervisor, true},
		{"scontext in supervisor", SCONTEXT, Supervisor, true},
		{"satp in supervisor", SATP, Supervisor, false},
		{"mstatus in supervisor", MSTATUS, Supervisor, false},
		{"mstatus in machine", MSTATUS, Machine, true},
		{"satp in machine", SATP, Machine, true},
		{"pmpcfg0 in machine", PMPCFG0, Machine, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm.SetPrivilege(tt.privilege)
			_, err := vm.ReadCSR(tt.csr, false)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrCSRReadPrivilege)
			}
		})
	}
}

func TestCSRInternalReadSkipsPrivilege(t *testing.T) {
	vm, _ := newTestVM(t, 0x1000, 0x1000)
	vm.SetPrivilege(User)

	_, err := vm.ReadCSR(MSTATUS, true)
	assert.NoError(t, err)
}

func TestCSRInvalidIndex(t *testing.T) {
	vm, _ := newTestVM(t, 0x1000, 0x1000)

	_, err := vm.ReadCSR(0x5ff, false)
	assert.ErrorIs(t, err, ErrInvalidCSR)

	assert.ErrorIs(t, vm.WriteCSR(0x5ff, 1), ErrInvalidCSR)
}

func TestCSRReadOnlySilentlyDiscardsWrites(t *testing.T) {
	vm, _ := newTestVM(t, 0x1000, 0x1000)

	for _, csr := range []uint32{MVENDORID, MARCHID, MIMPID, MHARTID, MISA, MINSTRET, MINSTRETH, CYCLE, CYCLEH, TIME, TIMEH} {
		before, err := vm.ReadCSR(csr, false)
		require.NoError(t, err)

		require.NoError(t, vm.WriteCSR(csr, 0x55aa55aa))

		after, err := vm.ReadCSR(csr, false)
		require.NoError(t, err)
		assert.Equal(t, before, after, "csr 0x%03x", csr)
	}
}

func TestCSRIdentityValues(t *testing.T) {
	vm, _ := newTestVM(t, 0x1000, 0x1000)

	marchid, err := vm.ReadCSR(MARCHID, false)
	require.NoError(t, err)
	assert.Equal(t, uint32('E'<<24|'N'<<16|'I'<<8|'H'), marchid)

	mimpid, err := vm.ReadCSR(MIMPID, false)
	require.NoError(t, err)
	assert.Equal(t, uint32('C'<<24|'A'<<16|'M'<<8|'V'), mimpid)

	misa, err := vm.ReadCSR(MISA, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(ISA_32_BITS|ISA_A|ISA_D|ISA_F|ISA_I|ISA_M), misa)
	assert.True(t, vm.Is32BitMode())
}

func TestCSRCycleAliases(t *testing.T) {
	vm, _ := newTestVM(t, 0x1000, 0x1000)
	vm.cycles = 0x123456789
	vm.ticks.Store(0)

	for _, csr := range []uint32{CYCLE, MCYCLE} {
		v, err := vm.ReadCSR(csr, false)
		require.NoError(t, err)
		assert.Equal(t, uint32(0x23456789), v)
	}
	for _, csr := range []uint32{CYCLEH, MCYCLEH} {
		v, err := vm.ReadCSR(csr, false)
		require.NoError(t, err)
		assert.Equal(t, uint32(0x1), v)
	}
}

func TestCSRTimeProjection(t *testing.T) {
	vm, _ := newTestVM(t, 0x1000, 0x1000)
	vm.csrMappedMemory.SetTime(0xaabbccdd11223344)

	lo, err := vm.ReadCSR(TIME, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), lo)

	hi, err := vm.ReadCSR(TIMEH, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xaabbccdd), hi)
}

func TestCSRPerformanceCountersReadZero(t *testing.T) {
	vm, _ := newTestVM(t, 0x1000, 0x1000)

	require.NoError(t, vm.WriteCSR(MHPMCOUNTER3, 99))
	require.NoError(t, vm.WriteCSR(MHPMEVENT3, 99))

	v, err := vm.ReadCSR(MHPMCOUNTER3, false)
	require.NoError(t, err)
	assert.Zero(t, v)

	v, err = vm.ReadCSR(MHPMEVENT3, false)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestCSRSnapshot(t *testing.T) {
	vm, _ := newTestVM(t, 0x1000, 0x1000)
	vm.cycles = 0x700000003
	vm.csrMappedMemory.SetTime(0x42)
	require.NoError(t, vm.WriteCSR(MSCRATCH, 0x1234))

	snapshot := vm.GetCSRSnapshot()

	assert.Equal(t, uint32(3), snapshot[CYCLE])
	assert.Equal(t, uint32(7), snapshot[CYCLEH])
	assert.Equal(t, uint32(3), snapshot[MCYCLE])
	assert.Equal(t, uint32(0x42), snapshot[TIME])
	assert.Equal(t, uint32(0x1234), snapshot[MSCRATCH])

	_, declared := snapshot[0x5ff]
	assert.False(t, declared)
}
