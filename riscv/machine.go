package riscv

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const RegisterCount = 32

// ABI register indices the core itself needs.
const (
	REG_ZERO = 0
	REG_RA   = 1
	REG_SP   = 2
	REG_A0   = 10
)

// maxHistory bounds the IPS sample window.
const maxHistory = 120

// defaultStepBatch is how many instructions Run executes between checks of
// the control flags.
const defaultStepBatch = 1000

// ECallHandler services one environment call. Handlers mutate registers and
// memory directly; the hart id comes from mhartid.
type ECallHandler func(hart uint32, memory *Memory, regs *[RegisterCount]uint32, fregs *[RegisterCount]Float) error

// The process-wide handler table, keyed by the id the program places in a0.
// Populate it before any hart starts; it is read-only afterwards.
var ecallHandlers = make(map[uint32]ECallHandler)

// RegisterECallHandler installs a handler for one ecall id.
func RegisterECallHandler(id uint32, handler ECallHandler) {
	ecallHandlers[id] = handler
}

func emptyECallHandler(hart uint32, _ *Memory, regs *[RegisterCount]uint32, _ *[RegisterCount]Float) error {
	return fmt.Errorf("%w: hart %d id %d", ErrUnknownECall, hart, regs[REG_A0])
}

// VirtualMachine is one hart: registers, CSRs, PC, and the step/run loop.
// All harts share one Memory; everything else here is hart-private. The
// mutex makes inspector snapshots mutually consistent with instruction
// boundaries, and the control flags are atomics so the inspector thread can
// flip them while Run is spinning.
type VirtualMachine struct {
	memory *Memory

	mu        sync.Mutex
	regs      [RegisterCount]uint32
	fregs     [RegisterCount]Float
	pc        uint32
	cycles    uint64
	privilege Privilege

	csrs        [4096]uint32
	csrDeclared [4096]bool

	csrMappedMemory *CSRMappedMemory

	running      atomic.Bool
	paused       atomic.Bool
	pauseOnBreak atomic.Bool

	errMu  sync.Mutex
	runErr error

	breakMu     sync.Mutex
	breakPoints map[uint32]struct{}

	ticks        atomic.Uint64
	timeMu       sync.Mutex
	lastUpdate   time.Time
	historyDelta [maxHistory]float64
	historyTicks [maxHistory]uint64
	historyHead  int
	historyLen   int
}

// NewVirtualMachine constructs a hart over the shared memory, starting at
// startingPC. The CSR-mapped timer region is attached to the memory on the
// first hart and shared by the rest.
func NewVirtualMachine(memory *Memory, startingPC uint32, hartID uint32) (*VirtualMachine, error) {
	vm := &VirtualMachine{
		memory:      memory,
		pc:          startingPC,
		breakPoints: make(map[uint32]struct{}),
		lastUpdate:  time.Now(),
	}
	vm.initCSRs()

	vm.csrs[MVENDORID] = 0
	vm.csrs[MARCHID] = 'E'<<24 | 'N'<<16 | 'I'<<8 | 'H'
	vm.csrs[MIMPID] = 'C'<<24 | 'A'<<16 | 'M'<<8 | 'V'
	vm.csrs[MHARTID] = hartID
	vm.csrs[MISA] = ISA_32_BITS | ISA_A | ISA_D | ISA_F | ISA_I | ISA_M

	vm.csrMappedMemory = memory.csrMappedRegion()
	if vm.csrMappedMemory == nil {
		vm.csrMappedMemory = NewCSRMappedMemory()
		if err := memory.AddMemoryRegion(vm.csrMappedMemory); err != nil {
			return nil, err
		}
		seconds := float64(time.Now().UnixMicro()) / 1e6
		vm.csrMappedMemory.SetTime(uint64(seconds * TicksPerSecond))
	}

	vm.running.Store(true)
	vm.Setup()
	return vm, nil
}

// csrMappedRegion finds an already-attached timer region so sibling harts
// share one instead of colliding on the address space.
func (m *Memory) csrMappedRegion() *CSRMappedMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regions {
		if c, ok := r.(*CSRMappedMemory); ok {
			return c
		}
	}
	return nil
}

// Setup resets the hart: registers zeroed, user and supervisor CSRs zeroed,
// mstatus cleared, Machine privilege, cycle counter zeroed. The identity
// CSRs written by the constructor survive.
func (vm *VirtualMachine) Setup() {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	for i := range vm.regs {
		vm.regs[i] = 0
	}
	for i := range vm.fregs {
		vm.fregs[i] = Float{}
	}

	// User
	vm.csrs[FFLAGS] = 0
	vm.csrs[FRM] = 0
	vm.csrs[FCSR] = 0

	// Supervisor
	vm.csrs[SSTATUS] = 0
	vm.csrs[SIE] = 0
	vm.csrs[STVEC] = 0
	vm.csrs[SCOUNTEREN] = 0
	vm.csrs[SENVCFG] = 0
	vm.csrs[SSCRATCH] = 0
	vm.csrs[SEPC] = 0
	vm.csrs[SCAUSE] = 0
	vm.csrs[STVAL] = 0
	vm.csrs[SIP] = 0
	vm.csrs[SATP] = 0
	vm.csrs[SCONTEXT] = 0

	// Machine
	vm.csrs[MSTATUS] = 0

	vm.privilege = Machine
	vm.cycles = 0
}

// Run drives the hart until Stop or an error. When paused it yields the
// thread instead of burning it; when pauseOnBreak is set a breakpoint hit
// pauses instead of spinning past.
func (vm *VirtualMachine) Run() {
	for vm.running.Load() {
		if vm.paused.Load() {
			runtime.Gosched()
			continue
		}
		hit, err := vm.Step(defaultStepBatch)
		if err != nil {
			vm.setError(err)
			vm.running.Store(false)
			return
		}
		if hit && vm.pauseOnBreak.Load() {
			vm.paused.Store(true)
		}
	}
}

// Stop lets Run exit after the current batch.
func (vm *VirtualMachine) Stop() { vm.running.Store(false) }

func (vm *VirtualMachine) IsRunning() bool { return vm.running.Load() }

func (vm *VirtualMachine) SetPaused(paused bool) { vm.paused.Store(paused) }

func (vm *VirtualMachine) IsPaused() bool { return vm.paused.Load() }

func (vm *VirtualMachine) SetPauseOnBreak(pause bool) { vm.pauseOnBreak.Store(pause) }

func (vm *VirtualMachine) setError(err error) {
	vm.errMu.Lock()
	defer vm.errMu.Unlock()
	if vm.runErr == nil {
		vm.runErr = err
	}
}

// Err reports the error that stopped Run, if any.
func (vm *VirtualMachine) Err() error {
	vm.errMu.Lock()
	defer vm.errMu.Unlock()
	return vm.runErr
}

func (vm *VirtualMachine) GetPC() uint32 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.pc
}

func (vm *VirtualMachine) SetPC(pc uint32) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.pc = pc
}

// GetRegister hands out a mutable pointer to one GPR, for test scaffolding.
func (vm *VirtualMachine) GetRegister(i int) *uint32 {
	return &vm.regs[i]
}

// GetFloatRegister hands out a mutable pointer to one FPR.
func (vm *VirtualMachine) GetFloatRegister(i int) *Float {
	return &vm.fregs[i]
}

// GetSnapshot captures registers, FP registers, and PC as one consistent
// view for the inspector thread.
func (vm *VirtualMachine) GetSnapshot() ([RegisterCount]uint32, [RegisterCount]Float, uint32) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.regs, vm.fregs, vm.pc
}

func (vm *VirtualMachine) GetPrivilege() Privilege {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.privilege
}

// SetPrivilege forces the privilege level; the debugger and tests use this
// since privilege transitions are not implemented.
func (vm *VirtualMachine) SetPrivilege(level Privilege) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.privilege = level
}

// Is32BitMode probes misa.MXL.
func (vm *VirtualMachine) Is32BitMode() bool {
	return vm.csrs[MISA]>>30&0b11 == 1
}

func (vm *VirtualMachine) GetCycles() uint64 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.cycles
}

// SetBreakPoint arms a breakpoint at a virtual address.
func (vm *VirtualMachine) SetBreakPoint(addr uint32) {
	vm.breakMu.Lock()
	defer vm.breakMu.Unlock()
	vm.breakPoints[addr] = struct{}{}
}

func (vm *VirtualMachine) ClearBreakPoint(addr uint32) {
	vm.breakMu.Lock()
	defer vm.breakMu.Unlock()
	delete(vm.breakPoints, addr)
}

// IsBreakPoint reports whether addr is armed, or whether the word there
// decodes to EBREAK. The probe never faults.
func (vm *VirtualMachine) IsBreakPoint(addr uint32) bool {
	vm.breakMu.Lock()
	_, armed := vm.breakPoints[addr]
	vm.breakMu.Unlock()
	if armed {
		return true
	}

	word, present := vm.memory.PeekWord(addr)
	if !present {
		return false
	}
	return Decode(word).Type == EBREAK
}

// UpdateTime is called by the host at frame granularity: it records an IPS
// sample and advances mtime by the wall-clock delta. The timer condition
// surfaces as ErrTimerExpired.
func (vm *VirtualMachine) UpdateTime() error {
	vm.timeMu.Lock()
	now := time.Now()
	delta := now.Sub(vm.lastUpdate).Seconds()
	vm.lastUpdate = now

	slot := (vm.historyHead + vm.historyLen) % maxHistory
	if vm.historyLen == maxHistory {
		slot = vm.historyHead
		vm.historyHead = (vm.historyHead + 1) % maxHistory
	} else {
		vm.historyLen++
	}
	vm.historyDelta[slot] = delta
	vm.historyTicks[slot] = vm.ticks.Swap(0)
	vm.timeMu.Unlock()

	if vm.csrMappedMemory.AdvanceTime(uint64(delta * TicksPerSecond)) {
		return fmt.Errorf("%w: mtime 0x%016x", ErrTimerExpired, vm.csrMappedMemory.Time())
	}
	return nil
}

// GetInstructionsPerSecond estimates the recent execution rate from the
// sample window.
func (vm *VirtualMachine) GetInstructionsPerSecond() uint64 {
	vm.timeMu.Lock()
	defer vm.timeMu.Unlock()

	var totalTime float64
	var totalTicks uint64
	for i := 0; i < vm.historyLen; i++ {
		slot := (vm.historyHead + i) % maxHistory
		totalTime += vm.historyDelta[slot]
		totalTicks += vm.historyTicks[slot]
	}
	if totalTime == 0 {
		return 0
	}
	return uint64(float64(totalTicks) / totalTime)
}

// GetTotalMemory reports the fabric's capacity, for the info panel.
func (vm *VirtualMachine) GetTotalMemory() uint64 { return vm.memory.GetTotalMemory() }

// GetUsedMemory reports committed host bytes, for the info panel.
func (vm *VirtualMachine) GetUsedMemory() uint64 { return vm.memory.GetUsedMemory() }
