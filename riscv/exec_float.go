package riscv

import (
	"fmt"
	"math"
)

// executeFloat handles the F/D extension kinds plus the recognised-but-
// unimplemented privileged family and the vendor diagnostic.
func (vm *VirtualMachine) executeFloat(instr Instruction) error {
	regs := &vm.regs
	fregs := &vm.fregs

	switch instr.Type {
	case FLW:
		v, err := vm.memory.ReadWord(regs[instr.RS1] + instr.Immediate)
		if err != nil {
			return err
		}
		fregs[instr.RD].SetBits32(v)

	case FSW:
		return vm.memory.WriteWord(regs[instr.RS1]+instr.Immediate, uint32(fregs[instr.RS2].Bits))

	case FLD:
		addr := regs[instr.RS1] + instr.Immediate
		lo, err := vm.memory.ReadWord(addr)
		if err != nil {
			return err
		}
		hi, err := vm.memory.ReadWord(addr + 4)
		if err != nil {
			return err
		}
		fregs[instr.RD].SetBits64(uint64(hi)<<32 | uint64(lo))

	case FSD:
		addr := regs[instr.RS1] + instr.Immediate
		bits := fregs[instr.RS2].Bits
		if err := vm.memory.WriteWord(addr, uint32(bits)); err != nil {
			return err
		}
		return vm.memory.WriteWord(addr+4, uint32(bits>>32))

	case FMADD_S, FMSUB_S, FNMSUB_S, FNMADD_S:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		if err := vm.checkFusedOperands32(instr); err != nil {
			return err
		}
		lhs, rhs, add := fregs[instr.RS1].F32(), fregs[instr.RS2].F32(), fregs[instr.RS3].F32()
		var result float32
		switch instr.Type {
		case FMADD_S:
			result = lhs*rhs + add
		case FMSUB_S:
			result = lhs*rhs - add
		case FNMSUB_S:
			result = -(lhs * rhs) + add
		case FNMADD_S:
			result = -(lhs * rhs) - add
		}
		vm.storeF32Result(instr.RD, result, vm.finite32(lhs, rhs, add), false)

	case FADD_S:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		lhs, rhs := fregs[instr.RS1].F32(), fregs[instr.RS2].F32()
		vm.storeF32Result(instr.RD, lhs+rhs, vm.finite32(lhs, rhs), false)

	case FSUB_S:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		lhs, rhs := fregs[instr.RS1].F32(), fregs[instr.RS2].F32()
		vm.storeF32Result(instr.RD, lhs-rhs, vm.finite32(lhs, rhs), false)

	case FMUL_S:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		lhs, rhs := fregs[instr.RS1].F32(), fregs[instr.RS2].F32()
		vm.storeF32Result(instr.RD, lhs*rhs, vm.finite32(lhs, rhs), false)

	case FDIV_S:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		lhs, rhs := fregs[instr.RS1].F32(), fregs[instr.RS2].F32()
		divByZero := rhs == 0 && vm.finite32(lhs) && !ClassifyF32(math.Float32bits(lhs)).Zero
		vm.storeF32Result(instr.RD, lhs/rhs, vm.finite32(lhs, rhs), divByZero)

	case FSQRT_S:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		cls := ClassifyF32(uint32(fregs[instr.RS1].Bits))
		if cls.Inf || cls.NaN() || cls.Neg {
			fregs[instr.RD] = Float{Bits: F32NaN}
		} else {
			fregs[instr.RD].SetF32(float32(math.Sqrt(float64(fregs[instr.RS1].F32()))))
		}

	case FSGNJ_S:
		result := fregs[instr.RS1]
		result.Bits = result.Bits&^(1<<31) | fregs[instr.RS2].Bits&(1<<31)
		fregs[instr.RD] = result

	case FSGNJN_S:
		result := fregs[instr.RS1]
		result.Bits = result.Bits&^(1<<31) | ^fregs[instr.RS2].Bits&(1<<31)
		fregs[instr.RD] = result

	case FSGNJX_S:
		result := fregs[instr.RS1]
		result.Bits ^= fregs[instr.RS2].Bits & (1 << 31)
		fregs[instr.RD] = result

	case FMIN_S:
		fregs[instr.RD] = vm.minMax32(fregs[instr.RS1], fregs[instr.RS2], true)

	case FMAX_S:
		fregs[instr.RD] = vm.minMax32(fregs[instr.RS1], fregs[instr.RS2], false)

	case FCVT_W_S:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		cls := ClassifyF32(uint32(fregs[instr.RS1].Bits))
		regs[instr.RD] = vm.convertToInt32(float64(fregs[instr.RS1].F32()), cls)

	case FCVT_WU_S:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		cls := ClassifyF32(uint32(fregs[instr.RS1].Bits))
		regs[instr.RD] = vm.convertToUint32(float64(fregs[instr.RS1].F32()), cls)

	case FMV_X_W:
		regs[instr.RD] = uint32(fregs[instr.RS1].Bits)

	case FEQ_S:
		lcls := ClassifyF32(uint32(fregs[instr.RS1].Bits))
		rcls := ClassifyF32(uint32(fregs[instr.RS2].Bits))
		if lcls.SNaN || rcls.SNaN {
			vm.setFloatFlags(true, false, false, false, false)
		}
		if lcls.NaN() || rcls.NaN() {
			regs[instr.RD] = 0
		} else {
			regs[instr.RD] = boolToReg(fregs[instr.RS1].F32() == fregs[instr.RS2].F32())
		}

	case FLT_S:
		lcls := ClassifyF32(uint32(fregs[instr.RS1].Bits))
		rcls := ClassifyF32(uint32(fregs[instr.RS2].Bits))
		if lcls.NaN() || rcls.NaN() {
			vm.setFloatFlags(true, false, false, false, false)
			regs[instr.RD] = 0
		} else {
			regs[instr.RD] = boolToReg(fregs[instr.RS1].F32() < fregs[instr.RS2].F32())
		}

	case FLE_S:
		lcls := ClassifyF32(uint32(fregs[instr.RS1].Bits))
		rcls := ClassifyF32(uint32(fregs[instr.RS2].Bits))
		if lcls.NaN() || rcls.NaN() {
			vm.setFloatFlags(true, false, false, false, false)
			regs[instr.RD] = 0
		} else {
			regs[instr.RD] = boolToReg(fregs[instr.RS1].F32() <= fregs[instr.RS2].F32())
		}

	case FCLASS_S:
		regs[instr.RD] = classMask(ClassifyF32(uint32(fregs[instr.RS1].Bits)))

	case FCVT_S_W:
		val := int32(regs[instr.RS1])
		result := float32(val)
		fregs[instr.RD].SetF32(result)
		if float64(result) != float64(val) {
			vm.setFloatFlags(true, false, false, false, false)
		}

	case FCVT_S_WU:
		val := regs[instr.RS1]
		result := float32(val)
		fregs[instr.RD].SetF32(result)
		if float64(result) != float64(val) {
			vm.setFloatFlags(true, false, false, false, false)
		}

	case FMV_W_X:
		fregs[instr.RD].SetBits32(regs[instr.RS1])

	case FMADD_D, FMSUB_D, FNMSUB_D, FNMADD_D:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		if err := vm.checkFusedOperands64(instr); err != nil {
			return err
		}
		lhs, rhs, add := fregs[instr.RS1].F64(), fregs[instr.RS2].F64(), fregs[instr.RS3].F64()
		var result float64
		switch instr.Type {
		case FMADD_D:
			result = lhs*rhs + add
		case FMSUB_D:
			result = lhs*rhs - add
		case FNMSUB_D:
			result = -(lhs * rhs) + add
		case FNMADD_D:
			result = -(lhs * rhs) - add
		}
		vm.storeF64Result(instr.RD, result, vm.finite64(lhs, rhs, add), false)

	case FADD_D:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		lhs, rhs := fregs[instr.RS1].F64(), fregs[instr.RS2].F64()
		vm.storeF64Result(instr.RD, lhs+rhs, vm.finite64(lhs, rhs), false)

	case FSUB_D:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		lhs, rhs := fregs[instr.RS1].F64(), fregs[instr.RS2].F64()
		vm.storeF64Result(instr.RD, lhs-rhs, vm.finite64(lhs, rhs), false)

	case FMUL_D:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		lhs, rhs := fregs[instr.RS1].F64(), fregs[instr.RS2].F64()
		vm.storeF64Result(instr.RD, lhs*rhs, vm.finite64(lhs, rhs), false)

	case FDIV_D:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		lhs, rhs := fregs[instr.RS1].F64(), fregs[instr.RS2].F64()
		divByZero := rhs == 0 && vm.finite64(lhs) && !ClassifyF64(math.Float64bits(lhs)).Zero
		vm.storeF64Result(instr.RD, lhs/rhs, vm.finite64(lhs, rhs), divByZero)

	case FSQRT_D:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		cls := ClassifyF64(fregs[instr.RS1].Bits)
		if cls.Inf || cls.NaN() || cls.Neg {
			fregs[instr.RD] = Float{Bits: F64NaN, IsDouble: true}
		} else {
			fregs[instr.RD].SetF64(math.Sqrt(fregs[instr.RS1].F64()))
		}

	case FSGNJ_D:
		result := fregs[instr.RS1]
		result.Bits = result.Bits&^(1<<63) | fregs[instr.RS2].Bits&(1<<63)
		fregs[instr.RD] = result

	case FSGNJN_D:
		result := fregs[instr.RS1]
		result.Bits = result.Bits&^(1<<63) | ^fregs[instr.RS2].Bits&(1<<63)
		fregs[instr.RD] = result

	case FSGNJX_D:
		result := fregs[instr.RS1]
		result.Bits ^= fregs[instr.RS2].Bits & (1 << 63)
		fregs[instr.RD] = result

	case FMIN_D:
		fregs[instr.RD] = vm.minMax64(fregs[instr.RS1], fregs[instr.RS2], true)

	case FMAX_D:
		fregs[instr.RD] = vm.minMax64(fregs[instr.RS1], fregs[instr.RS2], false)

	case FCVT_S_D:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		cls := ClassifyF64(fregs[instr.RS1].Bits)
		switch {
		case cls.SNaN:
			fregs[instr.RD] = Float{Bits: F32NaN}
		case cls.QNaN:
			fregs[instr.RD] = Float{Bits: F32QNaN}
		default:
			fregs[instr.RD].SetF32(float32(fregs[instr.RS1].F64()))
		}

	case FCVT_D_S:
		cls := ClassifyF32(uint32(fregs[instr.RS1].Bits))
		switch {
		case cls.SNaN:
			fregs[instr.RD] = Float{Bits: F64NaN, IsDouble: true}
		case cls.QNaN:
			fregs[instr.RD] = Float{Bits: F64QNaN, IsDouble: true}
		default:
			fregs[instr.RD].SetF64(float64(fregs[instr.RS1].F32()))
		}

	case FEQ_D:
		lcls := ClassifyF64(fregs[instr.RS1].Bits)
		rcls := ClassifyF64(fregs[instr.RS2].Bits)
		if lcls.SNaN || rcls.SNaN {
			vm.setFloatFlags(true, false, false, false, false)
		}
		if lcls.NaN() || rcls.NaN() {
			regs[instr.RD] = 0
		} else {
			regs[instr.RD] = boolToReg(fregs[instr.RS1].F64() == fregs[instr.RS2].F64())
		}

	case FLT_D:
		lcls := ClassifyF64(fregs[instr.RS1].Bits)
		rcls := ClassifyF64(fregs[instr.RS2].Bits)
		if lcls.NaN() || rcls.NaN() {
			vm.setFloatFlags(true, false, false, false, false)
			regs[instr.RD] = 0
		} else {
			regs[instr.RD] = boolToReg(fregs[instr.RS1].F64() < fregs[instr.RS2].F64())
		}

	case FLE_D:
		lcls := ClassifyF64(fregs[instr.RS1].Bits)
		rcls := ClassifyF64(fregs[instr.RS2].Bits)
		if lcls.NaN() || rcls.NaN() {
			vm.setFloatFlags(true, false, false, false, false)
			regs[instr.RD] = 0
		} else {
			regs[instr.RD] = boolToReg(fregs[instr.RS1].F64() <= fregs[instr.RS2].F64())
		}

	case FCLASS_D:
		regs[instr.RD] = classMask(ClassifyF64(fregs[instr.RS1].Bits))

	case FCVT_W_D:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		cls := ClassifyF64(fregs[instr.RS1].Bits)
		regs[instr.RD] = vm.convertToInt32(fregs[instr.RS1].F64(), cls)

	case FCVT_WU_D:
		if err := vm.checkRoundingMode(instr.RM); err != nil {
			return err
		}
		cls := ClassifyF64(fregs[instr.RS1].Bits)
		regs[instr.RD] = vm.convertToUint32(fregs[instr.RS1].F64(), cls)

	case FCVT_D_W:
		fregs[instr.RD].SetF64(float64(int32(regs[instr.RS1])))

	case FCVT_D_WU:
		fregs[instr.RD].SetF64(float64(regs[instr.RS1]))

	case URET, SRET, MRET, WFI,
		SFENCE_VMA, SINVAL_VMA, SINVAL_GVMA, SFENCE_W_INVAL, SFENCE_INVAL_IR:
		return ErrUnimplemented

	case CUST_TVA:
		translated, err := vm.TranslateMemoryAddress(regs[instr.RS1], false)
		if err != nil {
			return err
		}
		regs[instr.RD] = translated

	default:
		return fmt.Errorf("%w: 0x%08x", ErrIllegalInstruction, instr.Raw)
	}

	return nil
}

// storeF32Result writes back a single-precision arithmetic result,
// canonicalising to the boxed NaN when the operation went invalid.
func (vm *VirtualMachine) storeF32Result(rd uint32, result float32, finiteOperands, divByZero bool) {
	if vm.checkFloatResult32(result, finiteOperands, divByZero) {
		vm.fregs[rd] = Float{Bits: F32NaN}
	} else {
		vm.fregs[rd].SetF32(result)
	}
}

func (vm *VirtualMachine) storeF64Result(rd uint32, result float64, finiteOperands, divByZero bool) {
	if vm.checkFloatResult64(result, finiteOperands, divByZero) {
		vm.fregs[rd] = Float{Bits: F64NaN, IsDouble: true}
	} else {
		vm.fregs[rd].SetF64(result)
	}
}

func (vm *VirtualMachine) finite32(values ...float32) bool {
	for _, v := range values {
		cls := ClassifyF32(math.Float32bits(v))
		if cls.Inf || cls.NaN() {
			return false
		}
	}
	return true
}

func (vm *VirtualMachine) finite64(values ...float64) bool {
	for _, v := range values {
		cls := ClassifyF64(math.Float64bits(v))
		if cls.Inf || cls.NaN() {
			return false
		}
	}
	return true
}

// checkFusedOperands32 rejects the inf * 0 fused forms.
func (vm *VirtualMachine) checkFusedOperands32(instr Instruction) error {
	lcls := ClassifyF32(uint32(vm.fregs[instr.RS1].Bits))
	rcls := ClassifyF32(uint32(vm.fregs[instr.RS2].Bits))
	if lcls.Inf && rcls.Zero {
		return fmt.Errorf("%w: inf * 0 in fused multiply-add", ErrIllegalInstruction)
	}
	return nil
}

func (vm *VirtualMachine) checkFusedOperands64(instr Instruction) error {
	lcls := ClassifyF64(vm.fregs[instr.RS1].Bits)
	rcls := ClassifyF64(vm.fregs[instr.RS2].Bits)
	if lcls.Inf && rcls.Zero {
		return fmt.Errorf("%w: inf * 0 in fused multiply-add", ErrIllegalInstruction)
	}
	return nil
}
