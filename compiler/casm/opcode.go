package casm

type (
	// Opcode numbering is a wire contract shared with the VM and the prover.
	Opcode uint32

	form uint8
)

// [fp + off2] is the destination of store instructions.
const (
	StoreAddFpFp       Opcode = iota // [fp + off2] = [fp + off0] + [fp + off1]
	StoreAddFpImm                    // [fp + off2] = [fp + off0] + imm
	StoreSubFpFp                     // [fp + off2] = [fp + off0] - [fp + off1]
	StoreSubFpImm                    // [fp + off2] = [fp + off0] - imm
	StoreDerefFp                     // [fp + off2] = [fp + off0]
	StoreDoubleDerefFp               // [fp + off2] = [[fp + off0] + off1]
	StoreImm                         // [fp + off2] = imm
	StoreMulFpFp                     // [fp + off2] = [fp + off0] * [fp + off1]
	StoreMulFpImm                    // [fp + off2] = [fp + off0] * imm
	StoreDivFpFp                     // [fp + off2] = [fp + off0] / [fp + off1]
	StoreDivFpImm                    // [fp + off2] = [fp + off0] / imm

	CallAbsFp  // call abs [fp + off1], frame at off0
	CallAbsImm // call abs imm, frame at off0
	CallRelFp  // call rel [fp + off1], frame at off0
	CallRelImm // call rel imm, frame at off0
	Ret

	JmpAbsAddFpFp       // jmp abs [fp + off0] + [fp + off1]
	JmpAbsAddFpImm      // jmp abs [fp + off0] + imm
	JmpAbsDerefFp       // jmp abs [fp + off0]
	JmpAbsDoubleDerefFp // jmp abs [[fp + off0] + off1]
	JmpAbsImm           // jmp abs imm
	JmpAbsMulFpFp       // jmp abs [fp + off0] * [fp + off1]
	JmpAbsMulFpImm      // jmp abs [fp + off0] * imm
	JmpRelAddFpFp       // jmp rel [fp + off0] + [fp + off1]
	JmpRelAddFpImm      // jmp rel [fp + off0] + imm
	JmpRelDerefFp       // jmp rel [fp + off0]
	JmpRelDoubleDerefFp // jmp rel [[fp + off0] + off1]
	JmpRelImm           // jmp rel imm
	JmpRelMulFpFp       // jmp rel [fp + off0] * [fp + off1]
	JmpRelMulFpImm      // jmp rel [fp + off0] * imm

	JnzFpFp  // jmp rel [fp + off1] if [fp + off0] != 0
	JnzFpImm // jmp rel imm if [fp + off0] != 0

	numOpcodes
)

// Operand vector shapes. Every instruction encodes three operands after the opcode.
const (
	formFpFpFp  form = iota // off0 off1 off2
	formFpImmFp             // off0 imm off2
	formFpFp                // off0 off1
	formFpImm               // off0 imm
	formFp                  // off0
	formImm                 // imm
	formImmFp               // imm off2
	formFpDst               // off0 off2
	formNone
)

var opcodes = [numOpcodes]struct {
	name string
	form form
}{
	StoreAddFpFp:       {"store_add_fp_fp", formFpFpFp},
	StoreAddFpImm:      {"store_add_fp_imm", formFpImmFp},
	StoreSubFpFp:       {"store_sub_fp_fp", formFpFpFp},
	StoreSubFpImm:      {"store_sub_fp_imm", formFpImmFp},
	StoreDerefFp:       {"store_deref_fp", formFpDst},
	StoreDoubleDerefFp: {"store_double_deref_fp", formFpFpFp},
	StoreImm:           {"store_imm", formImmFp},
	StoreMulFpFp:       {"store_mul_fp_fp", formFpFpFp},
	StoreMulFpImm:      {"store_mul_fp_imm", formFpImmFp},
	StoreDivFpFp:       {"store_div_fp_fp", formFpFpFp},
	StoreDivFpImm:      {"store_div_fp_imm", formFpImmFp},

	CallAbsFp:  {"call_abs_fp", formFpFp},
	CallAbsImm: {"call_abs_imm", formFpImm},
	CallRelFp:  {"call_rel_fp", formFpFp},
	CallRelImm: {"call_rel_imm", formFpImm},
	Ret:        {"ret", formNone},

	JmpAbsAddFpFp:       {"jmp_abs_add_fp_fp", formFpFp},
	JmpAbsAddFpImm:      {"jmp_abs_add_fp_imm", formFpImm},
	JmpAbsDerefFp:       {"jmp_abs_deref_fp", formFp},
	JmpAbsDoubleDerefFp: {"jmp_abs_double_deref_fp", formFpFp},
	JmpAbsImm:           {"jmp_abs_imm", formImm},
	JmpAbsMulFpFp:       {"jmp_abs_mul_fp_fp", formFpFp},
	JmpAbsMulFpImm:      {"jmp_abs_mul_fp_imm", formFpImm},
	JmpRelAddFpFp:       {"jmp_rel_add_fp_fp", formFpFp},
	JmpRelAddFpImm:      {"jmp_rel_add_fp_imm", formFpImm},
	JmpRelDerefFp:       {"jmp_rel_deref_fp", formFp},
	JmpRelDoubleDerefFp: {"jmp_rel_double_deref_fp", formFpFp},
	JmpRelImm:           {"jmp_rel_imm", formImm},
	JmpRelMulFpFp:       {"jmp_rel_mul_fp_fp", formFpFp},
	JmpRelMulFpImm:      {"jmp_rel_mul_fp_imm", formFpImm},

	JnzFpFp:  {"jnz_fp_fp", formFpFp},
	JnzFpImm: {"jnz_fp_imm", formFpImm},
}

// FromU32 decodes an opcode number.
func FromU32(x uint32) (Opcode, bool) {
	if x >= uint32(numOpcodes) {
		return 0, false
	}

	return Opcode(x), true
}

func (op Opcode) ToU32() uint32 { return uint32(op) }

func (op Opcode) Valid() bool { return op < numOpcodes }

func (op Opcode) String() string {
	if !op.Valid() {
		return "opcode?"
	}

	return opcodes[op].name
}

func ParseOpcode(s string) (Opcode, bool) {
	for op, x := range opcodes {
		if x.name == s {
			return Opcode(op), true
		}
	}

	return 0, false
}

// HasImm reports opcodes carrying an immediate operand.
func (op Opcode) HasImm() bool {
	if !op.Valid() {
		return false
	}

	switch opcodes[op].form {
	case formFpImmFp, formFpImm, formImm, formImmFp:
		return true
	}

	return false
}

// IsRelative reports jumps and calls whose target is relative to the current pc.
func (op Opcode) IsRelative() bool {
	switch op {
	case CallRelFp, CallRelImm,
		JmpRelAddFpFp, JmpRelAddFpImm, JmpRelDerefFp, JmpRelDoubleDerefFp, JmpRelImm, JmpRelMulFpFp, JmpRelMulFpImm,
		JnzFpFp, JnzFpImm:
		return true
	}

	return false
}
