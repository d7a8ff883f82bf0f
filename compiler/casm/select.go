package casm

import (
	"tlog.app/go/errors"

	"github.com/slowlang/mirc/compiler/m31"
	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/tp"
)

func b2i(x bool) int32 {
	if x {
		return 1
	}

	return 0
}

func (x *funcGen) unary(in *mir.UnaryOp) error {
	dst, err := x.offset(in.Dest)
	if err != nil {
		return err
	}

	s, err := x.val(in.Source)
	if err != nil {
		return err
	}

	switch in.Op {
	case mir.Neg:
		return x.Mul(s, Const(-1), dst)
	case mir.Not:
		if s.Const {
			x.StoreImm(Lit(b2i(s.Imm == 0)), dst, "")
			return nil
		}

		x.Normalize(s.Off, dst, true)

		return nil
	default:
		return newError(UnsupportedInstruction, "unary %v", in.Op)
	}
}

func (x *funcGen) binary(in *mir.BinaryOp) error {
	if in.Op.IsU32() {
		return newError(UnsupportedInstruction, "%v", in.Op)
	}

	dst, err := x.offset(in.Dest)
	if err != nil {
		return err
	}

	l, err := x.val(in.Left)
	if err != nil {
		return errors.Wrap(err, "left")
	}

	r, err := x.val(in.Right)
	if err != nil {
		return errors.Wrap(err, "right")
	}

	switch in.Op {
	case mir.Add:
		return x.Add(l, r, dst)
	case mir.Sub:
		return x.Sub(l, r, dst)
	case mir.Mul:
		return x.Mul(l, r, dst)
	case mir.Div:
		return x.Div(l, r, dst)
	case mir.Eq, mir.Neq:
		if l.Const && r.Const {
			x.StoreImm(Lit(b2i((l.Imm == r.Imm) == (in.Op == mir.Eq))), dst, "")
			return nil
		}

		if l.Const {
			l, r = r, l
		}

		err = x.Sub(l, r, dst)
		if err != nil {
			return err
		}

		x.Normalize(dst, dst, in.Op == mir.Eq)

		return nil
	case mir.And:
		switch {
		case l.Const && r.Const:
			x.StoreImm(Lit(b2i(l.Imm != 0 && r.Imm != 0)), dst, "")
		case l.Const || r.Const:
			if l.Const {
				l, r = r, l
			}

			if r.Imm == 0 {
				x.StoreImm(Lit(0), dst, "")
				break
			}

			x.Normalize(l.Off, dst, false)
		default:
			err = x.Mul(l, r, dst)
			if err != nil {
				return err
			}

			x.Normalize(dst, dst, false)
		}

		return nil
	case mir.Or:
		var xs []int32

		for _, v := range []Val{l, r} {
			if !v.Const {
				xs = append(xs, v.Off)
				continue
			}

			if v.Imm != 0 {
				x.StoreImm(Lit(1), dst, "")
				return nil
			}
		}

		if len(xs) == 0 {
			x.StoreImm(Lit(0), dst, "")
			return nil
		}

		x.Or(xs, dst)

		return nil
	default:
		return newError(UnsupportedInstruction, "felt %v", in.Op)
	}
}

// call passes arguments at the top of the frame, followed by return slots.
// Arguments already laid out there are used in place.
func (x *funcGen) call(in *mir.Call) error {
	callee := x.mod.Function(in.Callee)
	if callee == nil {
		return newError(MissingTarget, "call to undefined function #%d", in.Callee)
	}

	if len(in.Args) != len(callee.Params) {
		return newError(InvalidMIR, "call %v: %d args, want %d", callee.Name, len(in.Args), len(callee.Params))
	}

	if len(in.Dests) != len(callee.Returns) {
		return newError(InvalidMIR, "call %v: %d results, want %d", callee.Name, len(in.Dests), len(callee.Returns))
	}

	params := callee.ParamTypes()

	m, k := 0, 0

	for _, t := range params {
		m += tp.Slots(t)
	}

	for _, t := range callee.Returns {
		k += tp.Slots(t)
	}

	argsOff, inPlace := x.argsInPlace(in.Args, params)

	switch {
	case inPlace && int(argsOff)+m == x.l.FrameSize:
		x.l.Reserve(k)
	case inPlace && int(argsOff)+m+k == x.l.FrameSize && x.valuesAt(in.Dests, callee.Returns, argsOff+int32(m)):
		// results are written in place by the callee
	default:
		argsOff = x.l.Reserve(m + k)

		off := argsOff

		for i, a := range in.Args {
			n := tp.Slots(params[i])

			err := x.move(a, off, n)
			if err != nil {
				return errors.Wrap(err, "arg %d", i)
			}

			off += int32(n)
		}
	}

	retOff := argsOff + int32(m)

	x.Call(retOff+int32(k), callee.Name)

	for i, d := range in.Dests {
		n := tp.Slots(callee.Returns[i])

		dst, err := x.offset(d)
		if err != nil {
			return err
		}

		x.CopySlots(retOff, dst, n)
		retOff += int32(n)
	}

	return nil
}

// argsInPlace reports whether args are laid out back to back as the callee expects.
func (x *funcGen) argsInPlace(args []mir.Value, params []tp.Type) (int32, bool) {
	if len(args) == 0 {
		return 0, false
	}

	ids := make([]mir.ValueID, len(args))

	for i, a := range args {
		id, ok := a.Operand()
		if !ok {
			return 0, false
		}

		if _, ok := x.static[id]; ok {
			return 0, false
		}

		ids[i] = id
	}

	start, err := x.l.Offset(ids[0])
	if err != nil {
		return 0, false
	}

	return start, x.valuesAt(ids, params, start)
}

// valuesAt reports whether ids occupy consecutive slots from off with the sizes of ts.
func (x *funcGen) valuesAt(ids []mir.ValueID, ts []tp.Type, off int32) bool {
	for i, id := range ids {
		n := tp.Slots(ts[i])

		o, err := x.l.Offset(id)
		if err != nil || o != off || x.l.Size(id) != n {
			return false
		}

		off += int32(n)
	}

	return true
}

// memSlots is the number of slots of t, which must be the same in memory and as a value.
func memSlots(t tp.Type) (int, error) {
	n := tp.Slots(t)
	if t != nil && t.Size() != n {
		return 0, newError(UnsupportedInstruction, "memory access of %v with inline arrays", tp.String(t))
	}

	return n, nil
}

func (x *funcGen) load(in *mir.Load) error {
	dst, err := x.offset(in.Dest)
	if err != nil {
		return err
	}

	n, err := memSlots(in.Type)
	if err != nil {
		return err
	}

	id, ok := in.Address.Operand()
	if !ok {
		return newError(InvalidMIR, "load from literal %v", in.Address)
	}

	if a, ok := x.static[id]; ok {
		x.CopySlots(a, dst, n)
		return nil
	}

	p, err := x.val(in.Address)
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		x.Emit(&Instr{Opcode: StoreDoubleDerefFp, Off0: p.Off, Off1: int32(i), Off2: dst + int32(i)})
	}

	return nil
}

func (x *funcGen) store(in *mir.Store) error {
	t := in.Type
	if t == nil {
		t = x.f.ValueType(in.Value)
	}

	n, err := memSlots(t)
	if err != nil {
		return err
	}

	id, ok := in.Address.Operand()
	if !ok {
		return newError(InvalidMIR, "store to literal %v", in.Address)
	}

	a, ok := x.static[id]
	if !ok {
		return newError(UnsupportedInstruction, "store through runtime pointer %v", id)
	}

	return x.move(in.Value, a, n)
}

func (x *funcGen) gep(in *mir.GetElementPtr) error {
	if id, ok := in.Base.Operand(); ok {
		if _, ok := x.static[id]; ok {
			return newError(UnsupportedInstruction, "dynamic offset %v into frame memory", in.Offset)
		}
	}

	dst, err := x.offset(in.Dest)
	if err != nil {
		return err
	}

	base, err := x.val(in.Base)
	if err != nil {
		return err
	}

	off, err := x.val(in.Offset)
	if err != nil {
		return err
	}

	return x.Add(base, off, dst)
}

// fixedArray places literal elements into the data segment.
// The array value is the address of the first element.
func (x *funcGen) fixedArray(in *mir.MakeFixedArray) error {
	if in.ElemType != nil && in.ElemType.Size() != 1 {
		return newError(UnsupportedInstruction, "array of %v", tp.String(in.ElemType))
	}

	vals := make([]int32, len(in.Elems))

	for i, e := range in.Elems {
		imm, ok := e.Imm()
		if !ok {
			return newError(UnsupportedInstruction, "array element %d is not a literal: %v", i, e)
		}

		vals[i] = m31.New(int64(imm)).Int()
	}

	dst, err := x.offset(in.Dest)
	if err != nil {
		return err
	}

	label := x.NewLabel("data")

	x.DataLabel(label)
	x.PushData(vals...)

	x.StoreImm(LabelRef(label), dst, "array")

	return nil
}

func (x *funcGen) jumpTo(id mir.BlockID) error {
	if !x.f.HasBlock(id) {
		return newError(MissingTarget, "jump to undefined block %v", id)
	}

	if id == x.next {
		return nil
	}

	x.Jump(x.blocks[id])

	return nil
}

func (x *funcGen) terminator(t mir.Terminator) error {
	switch t := t.(type) {
	case *mir.Jump:
		return x.jumpTo(t.Target)
	case *mir.If:
		return x.branch(t.Cond, t.Then, t.Else)
	case *mir.BranchCmp:
		if t.Op != mir.Eq && t.Op != mir.Neq {
			return newError(UnsupportedInstruction, "branch on %v", t.Op)
		}

		l, err := x.val(t.Left)
		if err != nil {
			return err
		}

		r, err := x.val(t.Right)
		if err != nil {
			return err
		}

		then, els := t.Then, t.Else
		if t.Op == mir.Eq {
			then, els = els, then
		}

		if l.Const && r.Const {
			return x.branch(mir.Bool(l.Imm != r.Imm), then, els)
		}

		if l.Const {
			l, r = r, l
		}

		diff := x.Temp()

		err = x.Sub(l, r, diff)
		if err != nil {
			return err
		}

		return x.branchOn(diff, then, els)
	case *mir.Return:
		return x.ret(t)
	case *mir.Unreachable:
		return nil
	case nil:
		return newError(InvalidMIR, "no terminator")
	default:
		return newError(InvalidMIR, "unknown terminator %T", t)
	}
}

// branch goes to then if v is non-zero.
func (x *funcGen) branch(v mir.Value, then, els mir.BlockID) error {
	s, err := x.val(v)
	if err != nil {
		return err
	}

	if !s.Const {
		return x.branchOn(s.Off, then, els)
	}

	if s.Imm != 0 {
		return x.jumpTo(then)
	}

	return x.jumpTo(els)
}

func (x *funcGen) branchOn(cond int32, then, els mir.BlockID) error {
	if !x.f.HasBlock(then) {
		return newError(MissingTarget, "branch to undefined block %v", then)
	}

	if then != els {
		x.Jnz(cond, x.blocks[then])
	}

	return x.jumpTo(els)
}

func (x *funcGen) ret(t *mir.Return) error {
	if len(t.Values) != len(x.f.Returns) {
		return newError(InvalidMIR, "return %d values, want %d", len(t.Values), len(x.f.Returns))
	}

	off := x.l.ReturnOffset()

	for i, v := range t.Values {
		n := tp.Slots(x.f.Returns[i])

		err := x.move(v, off, n)
		if err != nil {
			return errors.Wrap(err, "value %d", i)
		}

		off += int32(n)
	}

	x.Ret()

	return nil
}
