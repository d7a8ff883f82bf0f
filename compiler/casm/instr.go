package casm

import (
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog/tlwire"
)

type (
	OperandKind uint8

	// Operand is an immediate: a literal or a label to be resolved to an address.
	// Resolved labels keep their name for listings.
	Operand struct {
		Kind    OperandKind
		Literal int32
		Label   string
	}

	// Instr is one CASM instruction. Only the fields used by the opcode form matter.
	Instr struct {
		Opcode Opcode

		Off0, Off1, Off2 int32

		Imm Operand

		Comment string
	}

	// Data is a raw literal slot in the program stream.
	Data struct {
		Value int32
	}

	// Item is *Instr or Data.
	Item interface {
		item()
	}

	Label struct {
		Name     string
		Address  int32
		Resolved bool
	}
)

const (
	OperandLiteral OperandKind = iota
	OperandLabel
)

func Lit(x int32) Operand          { return Operand{Kind: OperandLiteral, Literal: x} }
func LabelRef(name string) Operand { return Operand{Kind: OperandLabel, Label: name} }

func (*Instr) item() {}
func (Data) item()   {}

func (o Operand) IsLabel() bool { return o.Kind == OperandLabel }

func (o Operand) String() string {
	if o.Kind == OperandLabel {
		return o.Label
	}

	if o.Label != "" {
		return strconv.Itoa(int(o.Literal)) + " <" + o.Label + ">"
	}

	return strconv.Itoa(int(o.Literal))
}

// Operands returns the three encoded operands following the opcode.
// Label immediates must be resolved first, they encode as zero otherwise.
func (x *Instr) Operands() [3]int32 {
	imm := x.Imm.Literal
	if x.Imm.IsLabel() {
		imm = 0
	}

	if !x.Opcode.Valid() {
		return [3]int32{}
	}

	switch opcodes[x.Opcode].form {
	case formFpFpFp:
		return [3]int32{x.Off0, x.Off1, x.Off2}
	case formFpImmFp:
		return [3]int32{x.Off0, imm, x.Off2}
	case formFpFp:
		return [3]int32{x.Off0, x.Off1, 0}
	case formFpImm:
		return [3]int32{x.Off0, imm, 0}
	case formFp:
		return [3]int32{x.Off0, 0, 0}
	case formImm:
		return [3]int32{imm, 0, 0}
	case formImmFp:
		return [3]int32{imm, 0, x.Off2}
	case formFpDst:
		return [3]int32{x.Off0, 0, x.Off2}
	default:
		return [3]int32{}
	}
}

// Append formats the instruction in assembly syntax.
func (x *Instr) Append(b []byte) []byte {
	if !x.Opcode.Valid() {
		return hfmt.Appendf(b, "opcode(%d)", uint32(x.Opcode))
	}

	b = hfmt.Appendf(b, "%-24s", x.Opcode.String())

	switch opcodes[x.Opcode].form {
	case formFpFpFp:
		if x.Opcode == StoreDoubleDerefFp {
			b = hfmt.Appendf(b, "[fp%+d] = [[fp%+d] %+d]", x.Off2, x.Off0, x.Off1)
			break
		}

		b = hfmt.Appendf(b, "[fp%+d] = [fp%+d] %s [fp%+d]", x.Off2, x.Off0, symbol(x.Opcode), x.Off1)
	case formFpImmFp:
		b = hfmt.Appendf(b, "[fp%+d] = [fp%+d] %s %v", x.Off2, x.Off0, symbol(x.Opcode), x.Imm)
	case formImmFp:
		b = hfmt.Appendf(b, "[fp%+d] = %v", x.Off2, x.Imm)
	case formFpDst:
		b = hfmt.Appendf(b, "[fp%+d] = [fp%+d]", x.Off2, x.Off0)
	case formFpImm:
		b = hfmt.Appendf(b, "[fp%+d], %v", x.Off0, x.Imm)
	case formFpFp:
		b = hfmt.Appendf(b, "[fp%+d], [fp%+d]", x.Off0, x.Off1)
	case formFp:
		b = hfmt.Appendf(b, "[fp%+d]", x.Off0)
	case formImm:
		b = hfmt.Appendf(b, "%v", x.Imm)
	}

	if x.Comment != "" {
		b = hfmt.Appendf(b, "\t// %s", x.Comment)
	}

	return b
}

func (x *Instr) String() string { return string(x.Append(nil)) }

func symbol(op Opcode) string {
	switch op {
	case StoreAddFpFp, StoreAddFpImm:
		return "+"
	case StoreSubFpFp, StoreSubFpImm:
		return "-"
	case StoreMulFpFp, StoreMulFpImm:
		return "*"
	case StoreDivFpFp, StoreDivFpImm:
		return "/"
	}

	return "?"
}

func (x *Instr) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendString(b, x.String())
}
