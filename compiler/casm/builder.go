package casm

import (
	"strconv"

	"github.com/slowlang/mirc/compiler/layout"
	"github.com/slowlang/mirc/compiler/m31"
)

type (
	// Builder collects the code and data of one function with unresolved labels.
	Builder struct {
		Func   string
		Layout *layout.Layout

		Code []*Instr
		Data []Data

		Labels []LabelDef

		// ABI slots of parameters and return values.
		Args    []int
		Returns []int

		// Taken is the set of label names in use, shared by the builders of a module.
		// Nil disables the check.
		Taken map[string]bool

		counter int
	}

	// LabelDef binds a label to a position in the code or data of a builder.
	LabelDef struct {
		Name string
		Data bool
		At   int
	}

	// Val is a selected operand: an fp offset or an immediate.
	Val struct {
		Off   int32
		Imm   int32
		Const bool
	}

	arith struct {
		fpfp, fpimm Opcode
		commutative bool
		fold        func(a, b m31.Felt) m31.Felt
	}
)

var (
	arithAdd = arith{StoreAddFpFp, StoreAddFpImm, true, m31.Felt.Add}
	arithSub = arith{StoreSubFpFp, StoreSubFpImm, false, m31.Felt.Sub}
	arithMul = arith{StoreMulFpFp, StoreMulFpImm, true, m31.Felt.Mul}
	arithDiv = arith{StoreDivFpFp, StoreDivFpImm, false, m31.Felt.Div}
)

func NewBuilder(name string, l *layout.Layout) *Builder {
	return &Builder{
		Func:   name,
		Layout: l,
	}
}

func Fp(off int32) Val { return Val{Off: off} }

// Const normalizes x into the field.
func Const(x int32) Val { return Val{Imm: m31.New(int64(x)).Int(), Const: true} }

func (b *Builder) Emit(in *Instr) {
	b.Code = append(b.Code, in)
}

// Label defines name at the next instruction.
func (b *Builder) Label(name string) {
	b.Labels = append(b.Labels, LabelDef{Name: name, At: len(b.Code)})
}

// DataLabel defines name at the next data item.
func (b *Builder) DataLabel(name string) {
	b.Labels = append(b.Labels, LabelDef{Name: name, Data: true, At: len(b.Data)})
}

// NewLabel returns a fresh function local label name.
func (b *Builder) NewLabel(prefix string) string {
	for {
		name := b.Func + "." + prefix + strconv.Itoa(b.counter)
		b.counter++

		if b.claim(name) {
			return name
		}
	}
}

func (b *Builder) claim(name string) bool {
	if b.Taken == nil {
		return true
	}

	if b.Taken[name] {
		return false
	}

	b.Taken[name] = true

	return true
}

func (b *Builder) PushData(vs ...int32) {
	for _, v := range vs {
		b.Data = append(b.Data, Data{Value: v})
	}
}

// Temp reserves a scratch slot above all values of the frame.
func (b *Builder) Temp() int32 {
	return b.Layout.Reserve(1)
}

func (b *Builder) StoreImm(imm Operand, dst int32, comment string) {
	b.Emit(&Instr{Opcode: StoreImm, Imm: imm, Off2: dst, Comment: comment})
}

// Copy moves one slot. Copying a slot onto itself emits nothing.
func (b *Builder) Copy(src, dst int32) {
	if src == dst {
		return
	}

	b.Emit(&Instr{Opcode: StoreDerefFp, Off0: src, Off2: dst})
}

func (b *Builder) CopySlots(src, dst int32, n int) {
	for i := int32(0); i < int32(n); i++ {
		b.Copy(src+i, dst+i)
	}
}

// Move stores a one slot operand into dst.
func (b *Builder) Move(v Val, dst int32) {
	if v.Const {
		b.StoreImm(Lit(v.Imm), dst, "")
		return
	}

	b.Copy(v.Off, dst)
}

func (b *Builder) toTemp(off int32) int32 {
	t := b.Temp()
	b.Copy(off, t)

	return t
}

// binop emits dst = l op r. Immediates fold, swap or go through a temporary,
// and no instruction reads a slot it writes.
func (b *Builder) binop(op arith, l, r Val, dst int32) error {
	if l.Const && r.Const {
		if op.fpimm == StoreDivFpImm && r.Imm == 0 {
			return newError(InvalidMIR, "division by zero")
		}

		x := op.fold(m31.Felt(l.Imm), m31.Felt(r.Imm))
		b.StoreImm(Lit(x.Int()), dst, "")

		return nil
	}

	if l.Const {
		if op.commutative {
			l, r = r, l
		} else {
			t := b.Temp()
			b.StoreImm(Lit(l.Imm), t, "")
			l = Fp(t)
		}
	}

	if r.Const {
		if op.fpimm == StoreDivFpImm && r.Imm == 0 {
			return newError(InvalidMIR, "division by zero")
		}

		if l.Off == dst {
			l.Off = b.toTemp(l.Off)
		}

		b.Emit(&Instr{Opcode: op.fpimm, Off0: l.Off, Imm: Lit(r.Imm), Off2: dst})

		return nil
	}

	if l.Off == r.Off || l.Off == dst {
		l.Off = b.toTemp(l.Off)
	}

	if r.Off == dst {
		r.Off = b.toTemp(r.Off)
	}

	b.Emit(&Instr{Opcode: op.fpfp, Off0: l.Off, Off1: r.Off, Off2: dst})

	return nil
}

func (b *Builder) Add(l, r Val, dst int32) error { return b.binop(arithAdd, l, r, dst) }
func (b *Builder) Sub(l, r Val, dst int32) error { return b.binop(arithSub, l, r, dst) }
func (b *Builder) Mul(l, r Val, dst int32) error { return b.binop(arithMul, l, r, dst) }
func (b *Builder) Div(l, r Val, dst int32) error { return b.binop(arithDiv, l, r, dst) }

// Normalize stores 1 to dst if x is non-zero and 0 otherwise.
// With invert the results are swapped.
func (b *Builder) Normalize(x, dst int32, invert bool) {
	nonzero := b.NewLabel("nz")
	end := b.NewLabel("end")

	zv, nzv := int32(0), int32(1)
	if invert {
		zv, nzv = 1, 0
	}

	b.Jnz(x, nonzero)
	b.StoreImm(Lit(zv), dst, "")
	b.Jump(end)
	b.Label(nonzero)
	b.StoreImm(Lit(nzv), dst, "")
	b.Label(end)
}

// Or stores 1 to dst if any of xs is non-zero and 0 otherwise.
func (b *Builder) Or(xs []int32, dst int32) {
	xs = append([]int32{}, xs...)

	for i, x := range xs {
		if x == dst {
			xs[i] = b.toTemp(x)
		}
	}

	yes := b.NewLabel("or")
	end := b.NewLabel("end")

	b.StoreImm(Lit(0), dst, "")

	for _, x := range xs {
		b.Jnz(x, yes)
	}

	b.Jump(end)
	b.Label(yes)
	b.StoreImm(Lit(1), dst, "")
	b.Label(end)
}

func (b *Builder) Jump(label string) {
	b.Emit(&Instr{Opcode: JmpAbsImm, Imm: LabelRef(label)})
}

// Jnz jumps to label if [fp + cond] is non-zero.
func (b *Builder) Jnz(cond int32, label string) {
	b.Emit(&Instr{Opcode: JnzFpImm, Off0: cond, Imm: LabelRef(label)})
}

// Call calls fn with the callee frame starting at frameOff.
func (b *Builder) Call(frameOff int32, fn string) {
	b.Emit(&Instr{Opcode: CallAbsImm, Off0: frameOff, Imm: LabelRef(fn), Comment: "call " + fn})
}

func (b *Builder) Ret() {
	b.Emit(&Instr{Opcode: Ret})
}
