package riscv

import "fmt"

var typeNames = map[InstructionType]string{
	INVALID: "invalid",
	LUI:     "lui", AUIPC: "auipc", JAL: "jal", JALR: "jalr",
	BEQ: "beq", BNE: "bne", BLT: "blt", BGE: "bge", BLTU: "bltu", BGEU: "bgeu",
	LB: "lb", LH: "lh", LW: "lw", LBU: "lbu", LHU: "lhu",
	SB: "sb", SH: "sh", SW: "sw",
	ADDI: "addi", SLTI: "slti", SLTIU: "sltiu", XORI: "xori", ORI: "ori",
	ANDI: "andi", SLLI: "slli", SRLI: "srli", SRAI: "srai",
	ADD: "add", SUB: "sub", SLL: "sll", SLT: "slt", SLTU: "sltu",
	XOR: "xor", SRL: "srl", SRA: "sra", OR: "or", AND: "and",
	FENCE: "fence", FENCE_I: "fence.i",
	ECALL: "ecall", EBREAK: "ebreak",
	CSRRW: "csrrw", CSRRS: "csrrs", CSRRC: "csrrc",
	CSRRWI: "csrrwi", CSRRSI: "csrrsi", CSRRCI: "csrrci",
	MUL: "mul", MULH: "mulh", MULHSU: "mulhsu", MULHU: "mulhu",
	DIV: "div", DIVU: "divu", REM: "rem", REMU: "remu",
	LR_W: "lr.w", SC_W: "sc.w",
	AMOSWAP_W: "amoswap.w", AMOADD_W: "amoadd.w", AMOXOR_W: "amoxor.w",
	AMOAND_W: "amoand.w", AMOOR_W: "amoor.w", AMOMIN_W: "amomin.w",
	AMOMAX_W: "amomax.w", AMOMINU_W: "amominu.w", AMOMAXU_W: "amomaxu.w",
	FLW: "flw", FSW: "fsw",
	FMADD_S: "fmadd.s", FMSUB_S: "fmsub.s", FNMSUB_S: "fnmsub.s", FNMADD_S: "fnmadd.s",
	FADD_S: "fadd.s", FSUB_S: "fsub.s", FMUL_S: "fmul.s", FDIV_S: "fdiv.s",
	FSQRT_S: "fsqrt.s", FSGNJ_S: "fsgnj.s", FSGNJN_S: "fsgnjn.s", FSGNJX_S: "fsgnjx.s",
	FMIN_S: "fmin.s", FMAX_S: "fmax.s",
	FCVT_W_S: "fcvt.w.s", FCVT_WU_S: "fcvt.wu.s", FMV_X_W: "fmv.x.w",
	FEQ_S: "feq.s", FLT_S: "flt.s", FLE_S: "fle.s", FCLASS_S: "fclass.s",
	FCVT_S_W: "fcvt.s.w", FCVT_S_WU: "fcvt.s.wu", FMV_W_X: "fmv.w.x",
	FLD: "fld", FSD: "fsd",
	FMADD_D: "fmadd.d", FMSUB_D: "fmsub.d", FNMSUB_D: "fnmsub.d", FNMADD_D: "fnmadd.d",
	FADD_D: "fadd.d", FSUB_D: "fsub.d", FMUL_D: "fmul.d", FDIV_D: "fdiv.d",
	FSQRT_D: "fsqrt.d", FSGNJ_D: "fsgnj.d", FSGNJN_D: "fsgnjn.d", FSGNJX_D: "fsgnjx.d",
	FMIN_D: "fmin.d", FMAX_D: "fmax.d",
	FCVT_S_D: "fcvt.s.d", FCVT_D_S: "fcvt.d.s",
	FEQ_D: "feq.d", FLT_D: "flt.d", FLE_D: "fle.d", FCLASS_D: "fclass.d",
	FCVT_W_D: "fcvt.w.d", FCVT_WU_D: "fcvt.wu.d",
	FCVT_D_W: "fcvt.d.w", FCVT_D_WU: "fcvt.d.wu",
	URET: "uret", SRET: "sret", MRET: "mret", WFI: "wfi",
	SFENCE_VMA: "sfence.vma", SINVAL_VMA: "sinval.vma", SINVAL_GVMA: "sinval.gvma",
	SFENCE_W_INVAL: "sfence.w.inval", SFENCE_INVAL_IR: "sfence.inval.ir",
	CUST_TVA: "cust.tva",
}

func (t InstructionType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "invalid"
}

// String renders canonical assembly text. It exists for error messages and
// the debugger's assembly view, not as an assembler.
func (instr Instruction) String() string {
	name := instr.Type.String()
	imm := int32(instr.Immediate)

	switch instr.Type {
	case INVALID:
		return fmt.Sprintf("invalid 0x%08x", instr.Raw)

	case LUI, AUIPC:
		return fmt.Sprintf("%s x%d, 0x%x", name, instr.RD, instr.Immediate>>12)

	case JAL:
		return fmt.Sprintf("%s x%d, %d", name, instr.RD, imm)

	case JALR:
		return fmt.Sprintf("%s x%d, %d(x%d)", name, instr.RD, imm, instr.RS1)

	case BEQ, BNE, BLT, BGE, BLTU, BGEU:
		return fmt.Sprintf("%s x%d, x%d, %d", name, instr.RS1, instr.RS2, imm)

	case LB, LH, LW, LBU, LHU:
		return fmt.Sprintf("%s x%d, %d(x%d)", name, instr.RD, imm, instr.RS1)

	case SB, SH, SW:
		return fmt.Sprintf("%s x%d, %d(x%d)", name, instr.RS2, imm, instr.RS1)

	case ADDI, SLTI, SLTIU, XORI, ORI, ANDI:
		return fmt.Sprintf("%s x%d, x%d, %d", name, instr.RD, instr.RS1, imm)

	case SLLI, SRLI, SRAI:
		return fmt.Sprintf("%s x%d, x%d, %d", name, instr.RD, instr.RS1, instr.RS2)

	case ADD, SUB, SLL, SLT, SLTU, XOR, SRL, SRA, OR, AND,
		MUL, MULH, MULHSU, MULHU, DIV, DIVU, REM, REMU:
		return fmt.Sprintf("%s x%d, x%d, x%d", name, instr.RD, instr.RS1, instr.RS2)

	case FENCE, FENCE_I, ECALL, EBREAK, URET, SRET, MRET, WFI,
		SFENCE_W_INVAL, SFENCE_INVAL_IR:
		return name

	case SFENCE_VMA, SINVAL_VMA, SINVAL_GVMA:
		return fmt.Sprintf("%s x%d, x%d", name, instr.RS1, instr.RS2)

	case CSRRW, CSRRS, CSRRC:
		return fmt.Sprintf("%s x%d, 0x%03x, x%d", name, instr.RD, instr.Immediate, instr.RS1)

	case CSRRWI, CSRRSI, CSRRCI:
		return fmt.Sprintf("%s x%d, 0x%03x, %d", name, instr.RD, instr.Immediate, instr.RS1)

	case LR_W:
		return fmt.Sprintf("%s x%d, (x%d)", name, instr.RD, instr.RS1)

	case SC_W, AMOSWAP_W, AMOADD_W, AMOXOR_W, AMOAND_W, AMOOR_W,
		AMOMIN_W, AMOMAX_W, AMOMINU_W, AMOMAXU_W:
		return fmt.Sprintf("%s x%d, x%d, (x%d)", name, instr.RD, instr.RS2, instr.RS1)

	case FLW, FLD:
		return fmt.Sprintf("%s f%d, %d(x%d)", name, instr.RD, imm, instr.RS1)

	case FSW, FSD:
		return fmt.Sprintf("%s f%d, %d(x%d)", name, instr.RS2, imm, instr.RS1)

	case FMADD_S, FMSUB_S, FNMSUB_S, FNMADD_S,
		FMADD_D, FMSUB_D, FNMSUB_D, FNMADD_D:
		return fmt.Sprintf("%s f%d, f%d, f%d, f%d", name, instr.RD, instr.RS1, instr.RS2, instr.RS3)

	case FADD_S, FSUB_S, FMUL_S, FDIV_S, FSGNJ_S, FSGNJN_S, FSGNJX_S,
		FMIN_S, FMAX_S, FADD_D, FSUB_D, FMUL_D, FDIV_D, FSGNJ_D,
		FSGNJN_D, FSGNJX_D, FMIN_D, FMAX_D:
		return fmt.Sprintf("%s f%d, f%d, f%d", name, instr.RD, instr.RS1, instr.RS2)

	case FSQRT_S, FSQRT_D, FCVT_S_D, FCVT_D_S:
		return fmt.Sprintf("%s f%d, f%d", name, instr.RD, instr.RS1)

	case FEQ_S, FLT_S, FLE_S, FEQ_D, FLT_D, FLE_D:
		return fmt.Sprintf("%s x%d, f%d, f%d", name, instr.RD, instr.RS1, instr.RS2)

	case FCVT_W_S, FCVT_WU_S, FCVT_W_D, FCVT_WU_D, FMV_X_W, FCLASS_S, FCLASS_D:
		return fmt.Sprintf("%s x%d, f%d", name, instr.RD, instr.RS1)

	case FCVT_S_W, FCVT_S_WU, FCVT_D_W, FCVT_D_WU, FMV_W_X:
		return fmt.Sprintf("%s f%d, x%d", name, instr.RD, instr.RS1)

	case CUST_TVA:
		return fmt.Sprintf("%s x%d, x%d", name, instr.RD, instr.RS1)
	}

	return fmt.Sprintf("%s 0x%08x", name, instr.Raw)
}
