package riscv

import (
	"fmt"
	"math"
)

// Canonical NaN bit patterns written back when an operation goes invalid.
// Single-precision results are NaN-boxed into the upper half of the slot.
const (
	F32NaN  = 0xffffffff7fc00000
	F32QNaN = 0xffffffffffc00000
	F64NaN  = 0x7ff0000000000000
	F64QNaN = 0xfff0000000000000
)

// Float is one FP register slot: a 64-bit container holding either a single
// value in its low half or a double, tagged with the held width. The raw bit
// pattern is preserved so moves and stores round-trip exactly.
type Float struct {
	Bits     uint64
	IsDouble bool
}

func (f Float) F32() float32 { return math.Float32frombits(uint32(f.Bits)) }
func (f Float) F64() float64 { return math.Float64frombits(f.Bits) }

func (f *Float) SetF32(v float32) {
	f.Bits = uint64(math.Float32bits(v))
	f.IsDouble = false
}

func (f *Float) SetF64(v float64) {
	f.Bits = math.Float64bits(v)
	f.IsDouble = true
}

func (f *Float) SetBits32(bits uint32) {
	f.Bits = uint64(bits)
	f.IsDouble = false
}

func (f *Float) SetBits64(bits uint64) {
	f.Bits = bits
	f.IsDouble = true
}

// FloatClass reports the shape of a value from its raw bits. SNaN follows
// IEEE 754-2008: exponent all ones with the top significand bit clear.
type FloatClass struct {
	Inf       bool
	SNaN      bool
	QNaN      bool
	Subnormal bool
	Zero      bool
	Neg       bool
}

func (c FloatClass) NaN() bool { return c.SNaN || c.QNaN }

func ClassifyF32(bits uint32) FloatClass {
	exp := bits >> 23 & 0xff
	frac := bits & 0x7fffff
	return FloatClass{
		Inf:       exp == 0xff && frac == 0,
		SNaN:      exp == 0xff && frac != 0 && frac&0x400000 == 0,
		QNaN:      exp == 0xff && frac&0x400000 != 0,
		Subnormal: exp == 0 && frac != 0,
		Zero:      exp == 0 && frac == 0,
		Neg:       bits>>31 != 0,
	}
}

func ClassifyF64(bits uint64) FloatClass {
	exp := bits >> 52 & 0x7ff
	frac := bits & 0xfffffffffffff
	return FloatClass{
		Inf:       exp == 0x7ff && frac == 0,
		SNaN:      exp == 0x7ff && frac != 0 && frac&0x8000000000000 == 0,
		QNaN:      exp == 0x7ff && frac&0x8000000000000 != 0,
		Subnormal: exp == 0 && frac != 0,
		Zero:      exp == 0 && frac == 0,
		Neg:       bits>>63 != 0,
	}
}

// classMask builds the FCLASS 10-bit result.
func classMask(c FloatClass) uint32 {
	var mask uint32
	normal := !c.Inf && !c.NaN() && !c.Subnormal && !c.Zero
	switch {
	case c.Inf && c.Neg:
		mask |= 1 << 0
	case normal && c.Neg:
		mask |= 1 << 1
	case c.Subnormal && c.Neg:
		mask |= 1 << 2
	case c.Zero && c.Neg:
		mask |= 1 << 3
	case c.Zero && !c.Neg:
		mask |= 1 << 4
	case c.Subnormal && !c.Neg:
		mask |= 1 << 5
	case normal && !c.Neg:
		mask |= 1 << 6
	case c.Inf && !c.Neg:
		mask |= 1 << 7
	case c.SNaN:
		mask |= 1 << 8
	case c.QNaN:
		mask |= 1 << 9
	}
	return mask
}

// setFloatFlags ORs accumulated exception bits into fcsr.
func (vm *VirtualMachine) setFloatFlags(invalid, divByZero, overflow, underflow, inexact bool) {
	if invalid {
		vm.csrs[FCSR] |= FCSR_NV
	}
	if divByZero {
		vm.csrs[FCSR] |= FCSR_DZ
	}
	if overflow {
		vm.csrs[FCSR] |= FCSR_OF
	}
	if underflow {
		vm.csrs[FCSR] |= FCSR_UF
	}
	if inexact {
		vm.csrs[FCSR] |= FCSR_NX
	}
}

// checkRoundingMode validates the instruction's rm field. The arithmetic
// itself runs in the host's round-to-nearest-even; modes 101/110 and RMM are
// rejected exactly as the hardware would reject them, and DYN resolves once
// through fcsr.frm.
func (vm *VirtualMachine) checkRoundingMode(rm uint8) error {
	switch rm {
	case RM_ROUND_TO_NEAREST_TIES_EVEN, RM_ROUND_TO_ZERO,
		RM_ROUND_DOWN, RM_ROUND_UP:
		return nil
	case RM_DYNAMIC:
		dynamic := uint8(vm.csrs[FCSR] >> 5 & 0b111)
		if dynamic == RM_DYNAMIC {
			return fmt.Errorf("%w: dynamic rounding mode %03b", ErrIllegalInstruction, dynamic)
		}
		return vm.checkRoundingMode(dynamic)
	default:
		return fmt.Errorf("%w: rounding mode %03b", ErrIllegalInstruction, rm)
	}
}

// checkFloatResult32 accumulates flags after a single-precision arithmetic
// operation and reports whether the destination must be canonicalised. A NaN
// result counts as invalid; finite operands overflowing to infinity count as
// overflow.
func (vm *VirtualMachine) checkFloatResult32(result float32, finiteOperands, divByZero bool) bool {
	cls := ClassifyF32(math.Float32bits(result))
	overflow := cls.Inf && finiteOperands && !divByZero
	vm.setFloatFlags(cls.NaN(), divByZero, overflow, cls.Subnormal, overflow || cls.Subnormal)
	return cls.NaN() || divByZero
}

func (vm *VirtualMachine) checkFloatResult64(result float64, finiteOperands, divByZero bool) bool {
	cls := ClassifyF64(math.Float64bits(result))
	overflow := cls.Inf && finiteOperands && !divByZero
	vm.setFloatFlags(cls.NaN(), divByZero, overflow, cls.Subnormal, overflow || cls.Subnormal)
	return cls.NaN() || divByZero
}

// convertToInt32 truncates toward zero with saturation, the way the source's
// casts behaved. Infinities and NaNs saturate with the inexact flag raised.
func (vm *VirtualMachine) convertToInt32(val float64, cls FloatClass) uint32 {
	switch {
	case cls.Inf && cls.Neg:
		vm.setFloatFlags(false, false, false, false, true)
		return 0x80000000
	case cls.Inf:
		vm.setFloatFlags(false, false, false, false, true)
		return 0x7fffffff
	case cls.NaN():
		vm.setFloatFlags(false, false, false, false, true)
		return 0x7fffffff
	}

	truncated := math.Trunc(val)
	switch {
	case truncated < math.MinInt32:
		vm.setFloatFlags(false, false, false, false, true)
		return 0x80000000
	case truncated > math.MaxInt32:
		vm.setFloatFlags(false, false, false, false, true)
		return 0x7fffffff
	}
	if truncated != val {
		vm.setFloatFlags(false, false, false, false, true)
	}
	return uint32(int32(truncated))
}

func (vm *VirtualMachine) convertToUint32(val float64, cls FloatClass) uint32 {
	switch {
	case cls.Inf && cls.Neg:
		vm.setFloatFlags(false, false, false, false, true)
		return 0
	case cls.Inf:
		vm.setFloatFlags(false, false, false, false, true)
		return 0xffffffff
	case cls.NaN():
		vm.setFloatFlags(false, false, false, false, true)
		return 0xffffffff
	}

	truncated := math.Trunc(val)
	switch {
	case truncated < 0:
		vm.setFloatFlags(false, false, false, false, true)
		return 0
	case truncated > math.MaxUint32:
		vm.setFloatFlags(false, false, false, false, true)
		return 0xffffffff
	}
	if truncated != val {
		vm.setFloatFlags(false, false, false, false, true)
	}
	return uint32(truncated)
}

// minMax32 implements FMIN.S/FMAX.S NaN and signed-zero handling: both NaN
// gives the canonical NaN, one NaN gives the other operand, and -0 orders
// below +0. Any NaN raises invalid.
func (vm *VirtualMachine) minMax32(lhs, rhs Float, wantMin bool) Float {
	lcls := ClassifyF32(uint32(lhs.Bits))
	rcls := ClassifyF32(uint32(rhs.Bits))

	if lcls.NaN() && rcls.NaN() {
		vm.setFloatFlags(true, false, false, false, false)
		return Float{Bits: F32NaN}
	}
	if lcls.NaN() {
		vm.setFloatFlags(true, false, false, false, false)
		return rhs
	}
	if rcls.NaN() {
		vm.setFloatFlags(true, false, false, false, false)
		return lhs
	}

	lhsLess := false
	switch {
	case lcls.Neg && !rcls.Neg:
		lhsLess = true
	case !lcls.Neg && rcls.Neg:
		lhsLess = false
	default:
		lhsLess = lhs.F32() < rhs.F32()
	}

	if lhsLess == wantMin {
		return lhs
	}
	return rhs
}

func (vm *VirtualMachine) minMax64(lhs, rhs Float, wantMin bool) Float {
	lcls := ClassifyF64(lhs.Bits)
	rcls := ClassifyF64(rhs.Bits)

	if lcls.NaN() && rcls.NaN() {
		vm.setFloatFlags(true, false, false, false, false)
		return Float{Bits: F64NaN, IsDouble: true}
	}
	if lcls.NaN() {
		vm.setFloatFlags(true, false, false, false, false)
		return rhs
	}
	if rcls.NaN() {
		vm.setFloatFlags(true, false, false, false, false)
		return lhs
	}

	lhsLess := false
	switch {
	case lcls.Neg && !rcls.Neg:
		lhsLess = true
	case !lcls.Neg && rcls.Neg:
		lhsLess = false
	default:
		lhsLess = lhs.F64() < rhs.F64()
	}

	if lhsLess == wantMin {
		return lhs
	}
	return rhs
}
