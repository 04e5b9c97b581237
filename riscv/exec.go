package riscv

import (
	"fmt"
	"math"
)

// Step executes up to steps instructions. It returns true when a breakpoint
// interrupted the batch. Any error aborts the batch and carries the PC and
// instruction word that caused it.
func (vm *VirtualMachine) Step(steps uint32) (bool, error) {
	vm.ticks.Add(uint64(steps))

	for i := uint32(0); i < steps && vm.running.Load(); i++ {
		vm.mu.Lock()
		hit, err := vm.stepOne()
		vm.mu.Unlock()
		if err != nil {
			return false, err
		}
		if hit {
			return true, nil
		}
	}
	return false, nil
}

func (vm *VirtualMachine) stepOne() (bool, error) {
	if vm.pc&0b11 != 0 {
		return false, fmt.Errorf("%w: 0x%08x", ErrMisalignedPC, vm.pc)
	}

	maccess := vm.CheckMemoryAccess(vm.pc)
	if !maccess.AddressPresent {
		return false, fmt.Errorf("%w: PC 0x%08x not present", ErrAccessFault, vm.pc)
	}

	word, err := vm.memory.ReadWord(maccess.TranslatedAddress)
	if err != nil {
		return false, fmt.Errorf("fetch at 0x%08x: %w", vm.pc, err)
	}

	instr := Decode(word)
	if err := vm.execute(instr); err != nil {
		return false, fmt.Errorf("at 0x%08x (%s): %w", vm.pc, instr, err)
	}

	vm.cycles++

	switch instr.Type {
	case JAL, JALR, BEQ, BNE, BLT, BGE, BLTU, BGEU:
		// Jumps and branches manage the PC themselves.
	default:
		vm.pc += 4
	}

	vm.regs[REG_ZERO] = 0

	return vm.IsBreakPoint(vm.pc), nil
}

func (vm *VirtualMachine) execute(instr Instruction) error {
	regs := &vm.regs
	fregs := &vm.fregs

	switch instr.Type {
	case LUI:
		regs[instr.RD] = instr.Immediate

	case AUIPC:
		regs[instr.RD] = vm.pc + instr.Immediate

	case JAL:
		next := vm.pc + 4
		vm.pc += instr.Immediate
		regs[instr.RD] = next

	case JALR:
		next := vm.pc + 4
		vm.pc = (regs[instr.RS1] + instr.Immediate) &^ 1
		regs[instr.RD] = next

	case BEQ:
		vm.branch(instr, regs[instr.RS1] == regs[instr.RS2])
	case BNE:
		vm.branch(instr, regs[instr.RS1] != regs[instr.RS2])
	case BLT:
		vm.branch(instr, int32(regs[instr.RS1]) < int32(regs[instr.RS2]))
	case BGE:
		vm.branch(instr, int32(regs[instr.RS1]) >= int32(regs[instr.RS2]))
	case BLTU:
		vm.branch(instr, regs[instr.RS1] < regs[instr.RS2])
	case BGEU:
		vm.branch(instr, regs[instr.RS1] >= regs[instr.RS2])

	case LB:
		v, err := vm.memory.ReadByte(regs[instr.RS1] + instr.Immediate)
		if err != nil {
			return err
		}
		regs[instr.RD] = uint32(int32(int8(v)))

	case LH:
		v, err := vm.memory.ReadHalf(regs[instr.RS1] + instr.Immediate)
		if err != nil {
			return err
		}
		regs[instr.RD] = uint32(int32(int16(v)))

	case LW:
		v, err := vm.memory.ReadWord(regs[instr.RS1] + instr.Immediate)
		if err != nil {
			return err
		}
		regs[instr.RD] = v

	case LBU:
		v, err := vm.memory.ReadByte(regs[instr.RS1] + instr.Immediate)
		if err != nil {
			return err
		}
		regs[instr.RD] = uint32(v)

	case LHU:
		v, err := vm.memory.ReadHalf(regs[instr.RS1] + instr.Immediate)
		if err != nil {
			return err
		}
		regs[instr.RD] = uint32(v)

	case SB:
		return vm.memory.WriteByte(regs[instr.RS1]+instr.Immediate, uint8(regs[instr.RS2]))

	case SH:
		return vm.memory.WriteHalf(regs[instr.RS1]+instr.Immediate, uint16(regs[instr.RS2]))

	case SW:
		return vm.memory.WriteWord(regs[instr.RS1]+instr.Immediate, regs[instr.RS2])

	case ADDI:
		regs[instr.RD] = regs[instr.RS1] + instr.Immediate

	case SLTI:
		regs[instr.RD] = boolToReg(int32(regs[instr.RS1]) < int32(instr.Immediate))

	case SLTIU:
		regs[instr.RD] = boolToReg(regs[instr.RS1] < instr.Immediate)

	case XORI:
		regs[instr.RD] = regs[instr.RS1] ^ instr.Immediate

	case ORI:
		regs[instr.RD] = regs[instr.RS1] | instr.Immediate

	case ANDI:
		regs[instr.RD] = regs[instr.RS1] & instr.Immediate

	case SLLI:
		regs[instr.RD] = regs[instr.RS1] << instr.RS2

	case SRLI:
		regs[instr.RD] = regs[instr.RS1] >> instr.RS2

	case SRAI:
		regs[instr.RD] = uint32(int32(regs[instr.RS1]) >> instr.RS2)

	case ADD:
		regs[instr.RD] = regs[instr.RS1] + regs[instr.RS2]

	case SUB:
		regs[instr.RD] = regs[instr.RS1] - regs[instr.RS2]

	case SLL:
		regs[instr.RD] = regs[instr.RS1] << (regs[instr.RS2] & 0x1f)

	case SLT:
		regs[instr.RD] = boolToReg(int32(regs[instr.RS1]) < int32(regs[instr.RS2]))

	case SLTU:
		regs[instr.RD] = boolToReg(regs[instr.RS1] < regs[instr.RS2])

	case XOR:
		regs[instr.RD] = regs[instr.RS1] ^ regs[instr.RS2]

	case SRL:
		regs[instr.RD] = regs[instr.RS1] >> (regs[instr.RS2] & 0x1f)

	case SRA:
		regs[instr.RD] = uint32(int32(regs[instr.RS1]) >> (regs[instr.RS2] & 0x1f))

	case OR:
		regs[instr.RD] = regs[instr.RS1] | regs[instr.RS2]

	case AND:
		regs[instr.RD] = regs[instr.RS1] & regs[instr.RS2]

	case FENCE, FENCE_I:
		// Single fabric, program order within a hart: nothing to order.

	case ECALL:
		handler, ok := ecallHandlers[regs[REG_A0]]
		if !ok {
			handler = emptyECallHandler
		}
		return handler(vm.csrs[MHARTID], vm.memory, regs, fregs)

	case EBREAK:
		// No state change; the step loop observes it as a breakpoint.

	case CSRRW:
		value := regs[instr.RS1]
		if instr.RD != REG_ZERO {
			v, err := vm.ReadCSR(instr.Immediate, false)
			if err != nil {
				return err
			}
			regs[instr.RD] = v
		}
		return vm.WriteCSR(instr.Immediate, value)

	case CSRRS:
		value := regs[instr.RS1]
		if instr.RD != REG_ZERO {
			v, err := vm.ReadCSR(instr.Immediate, false)
			if err != nil {
				return err
			}
			regs[instr.RD] = v
		}
		if instr.RS1 != REG_ZERO {
			old, err := vm.ReadCSR(instr.Immediate, true)
			if err != nil {
				return err
			}
			return vm.WriteCSR(instr.Immediate, old|value)
		}

	case CSRRC:
		value := regs[instr.RS1]
		if instr.RD != REG_ZERO {
			v, err := vm.ReadCSR(instr.Immediate, false)
			if err != nil {
				return err
			}
			regs[instr.RD] = v
		}
		if instr.RS1 != REG_ZERO {
			old, err := vm.ReadCSR(instr.Immediate, true)
			if err != nil {
				return err
			}
			return vm.WriteCSR(instr.Immediate, old&^value)
		}

	case CSRRWI:
		if instr.RD != REG_ZERO {
			v, err := vm.ReadCSR(instr.Immediate, false)
			if err != nil {
				return err
			}
			regs[instr.RD] = v
		}
		return vm.WriteCSR(instr.Immediate, instr.RS1)

	case CSRRSI:
		if instr.RD != REG_ZERO {
			v, err := vm.ReadCSR(instr.Immediate, false)
			if err != nil {
				return err
			}
			regs[instr.RD] = v
		}
		old, err := vm.ReadCSR(instr.Immediate, true)
		if err != nil {
			return err
		}
		return vm.WriteCSR(instr.Immediate, old|instr.RS1)

	case CSRRCI:
		if instr.RD != REG_ZERO {
			v, err := vm.ReadCSR(instr.Immediate, false)
			if err != nil {
				return err
			}
			regs[instr.RD] = v
		}
		old, err := vm.ReadCSR(instr.Immediate, true)
		if err != nil {
			return err
		}
		return vm.WriteCSR(instr.Immediate, old&^instr.RS1)

	case MUL:
		regs[instr.RD] = uint32(int32(regs[instr.RS1]) * int32(regs[instr.RS2]))

	case MULH:
		result := int64(int32(regs[instr.RS1])) * int64(int32(regs[instr.RS2]))
		regs[instr.RD] = uint32(result >> 32)

	case MULHSU:
		result := int64(int32(regs[instr.RS1])) * int64(regs[instr.RS2])
		regs[instr.RD] = uint32(result >> 32)

	case MULHU:
		result := uint64(regs[instr.RS1]) * uint64(regs[instr.RS2])
		regs[instr.RD] = uint32(result >> 32)

	case DIV:
		lhs, rhs := int32(regs[instr.RS1]), int32(regs[instr.RS2])
		switch {
		case rhs == 0:
			regs[instr.RD] = 0xffffffff
		case lhs == math.MinInt32 && rhs == -1:
			regs[instr.RD] = uint32(lhs)
		default:
			regs[instr.RD] = uint32(lhs / rhs)
		}

	case DIVU:
		if regs[instr.RS2] == 0 {
			regs[instr.RD] = 0xffffffff
		} else {
			regs[instr.RD] = regs[instr.RS1] / regs[instr.RS2]
		}

	case REM:
		lhs, rhs := int32(regs[instr.RS1]), int32(regs[instr.RS2])
		switch {
		case rhs == 0:
			regs[instr.RD] = uint32(lhs)
		case lhs == math.MinInt32 && rhs == -1:
			regs[instr.RD] = 0
		default:
			regs[instr.RD] = uint32(lhs % rhs)
		}

	case REMU:
		if regs[instr.RS2] == 0 {
			regs[instr.RD] = regs[instr.RS1]
		} else {
			regs[instr.RD] = regs[instr.RS1] % regs[instr.RS2]
		}

	case LR_W:
		v, err := vm.memory.ReadWordReserved(regs[instr.RS1], vm.csrs[MHARTID])
		if err != nil {
			return err
		}
		regs[instr.RD] = v

	case SC_W:
		ok, err := vm.memory.WriteWordConditional(regs[instr.RS1], regs[instr.RS2], vm.csrs[MHARTID])
		if err != nil {
			return err
		}
		regs[instr.RD] = boolToReg(!ok)

	case AMOSWAP_W:
		return vm.amo(instr, vm.memory.AtomicSwap)
	case AMOADD_W:
		return vm.amo(instr, vm.memory.AtomicAdd)
	case AMOXOR_W:
		return vm.amo(instr, vm.memory.AtomicXor)
	case AMOAND_W:
		return vm.amo(instr, vm.memory.AtomicAnd)
	case AMOOR_W:
		return vm.amo(instr, vm.memory.AtomicOr)
	case AMOMIN_W:
		return vm.amo(instr, vm.memory.AtomicMin)
	case AMOMAX_W:
		return vm.amo(instr, vm.memory.AtomicMax)
	case AMOMINU_W:
		return vm.amo(instr, vm.memory.AtomicMinU)
	case AMOMAXU_W:
		return vm.amo(instr, vm.memory.AtomicMaxU)

	default:
		return vm.executeFloat(instr)
	}

	return nil
}

func (vm *VirtualMachine) branch(instr Instruction, taken bool) {
	if taken {
		vm.pc += instr.Immediate
	} else {
		vm.pc += 4
	}
}

func (vm *VirtualMachine) amo(instr Instruction, op func(addr, v uint32) (uint32, error)) error {
	old, err := op(vm.regs[instr.RS1], vm.regs[instr.RS2])
	if err != nil {
		return err
	}
	vm.regs[instr.RD] = old
	return nil
}

func boolToReg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
