// Package mirtest has CFG shapes and a reference interpreter for testing passes.
//
// The interpreter runs MIR both in SSA form (phis are evaluated on entry to a block,
// all at once, by the edge taken) and after SSA destruction.
package mirtest

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/m31"
	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/tp"
)

type (
	// Slots is a value flattened to frame slots.
	Slots []int64

	Interp struct {
		M *mir.Module

		// MaxSteps bounds executed instructions and terminators over the whole run.
		MaxSteps int

		// Trace collects Debug instruction messages and values.
		Trace []Event

		mem   []int64
		steps int
	}

	Event struct {
		Message string
		Values  []Slots
	}

	frame struct {
		f    *mir.Function
		vals map[mir.ValueID]Slots
	}
)

var ErrStepLimit = errors.New("step limit exceeded")

func New(m *mir.Module) *Interp {
	return &Interp{
		M:        m,
		MaxSteps: 100000,
		mem:      make([]int64, 1), // address 0 is never handed out
	}
}

// Call runs function name with args given as single slot values.
func (x *Interp) Call(ctx context.Context, name string, args ...int64) (r []int64, err error) {
	id, ok := x.M.Lookup(name)
	if !ok {
		return nil, errors.New("no function %v", name)
	}

	in := make([]Slots, len(args))
	for i, a := range args {
		in[i] = Slots{int64(m31.New(a))}
	}

	res, err := x.call(ctx, x.M.Function(id), in)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	for _, v := range res {
		r = append(r, v...)
	}

	return r, nil
}

// RunFunction runs f, which does not need to belong to a module unless it makes calls.
func RunFunction(ctx context.Context, f *mir.Function, args ...int64) ([]int64, error) {
	m := mir.NewModule()
	m.AddFunction(f)

	return New(m).Call(ctx, f.Name, args...)
}

func (x *Interp) call(ctx context.Context, f *mir.Function, args []Slots) (_ []Slots, err error) {
	if len(args) != len(f.Params) {
		return nil, errors.New("%d args, want %d", len(args), len(f.Params))
	}

	fr := &frame{f: f, vals: make(map[mir.ValueID]Slots)}

	for i, p := range f.Params {
		fr.vals[p] = args[i]
	}

	prev := mir.NoBlock
	cur := f.Entry

	for {
		b := f.Block(cur)
		if b == nil {
			return nil, errors.New("jump to undefined block %v", cur)
		}

		err = x.phis(fr, b, prev, cur)
		if err != nil {
			return nil, errors.Wrap(err, "block %v", cur)
		}

		for j, in := range b.Instructions[b.PhiCount():] {
			x.steps++
			if x.steps > x.MaxSteps {
				return nil, ErrStepLimit
			}

			err = x.exec(ctx, fr, in)
			if err != nil {
				return nil, errors.Wrap(err, "block %v: instr %d", cur, j+b.PhiCount())
			}
		}

		x.steps++
		if x.steps > x.MaxSteps {
			return nil, ErrStepLimit
		}

		next, ret, err := x.term(fr, b.Terminator)
		if err != nil {
			return nil, errors.Wrap(err, "block %v: terminator", cur)
		}

		if next == mir.NoBlock {
			return ret, nil
		}

		prev, cur = cur, next
	}
}

// phis assigns all leading phis of b simultaneously for the edge prev->cur.
func (x *Interp) phis(fr *frame, b *mir.BasicBlock, prev, cur mir.BlockID) error {
	n := b.PhiCount()
	if n == 0 {
		return nil
	}

	vals := make([]Slots, n)

	for i, in := range b.Instructions[:n] {
		phi := in.(*mir.Phi)

		found := false

		for _, s := range phi.Sources {
			if s.Block != prev {
				continue
			}

			v, err := fr.get(s.Value)
			if err != nil {
				return errors.Wrap(err, "phi %v", phi.Dest)
			}

			vals[i] = v
			found = true

			break
		}

		if !found {
			return errors.New("phi %v: no source for edge %v -> %v", phi.Dest, prev, cur)
		}
	}

	for i, in := range b.Instructions[:n] {
		fr.vals[in.(*mir.Phi).Dest] = vals[i]
	}

	return nil
}

func (x *Interp) exec(ctx context.Context, fr *frame, in mir.Instruction) (err error) {
	f := fr.f

	switch in := in.(type) {
	case *mir.Assign:
		v, err := fr.get(in.Source)
		if err != nil {
			return err
		}

		fr.set(in.Dest, v)
	case *mir.Cast:
		v, err := fr.get(in.Source)
		if err != nil {
			return err
		}

		fr.set(in.Dest, v)
	case *mir.UnaryOp:
		v, err := fr.scalar(in.Source)
		if err != nil {
			return err
		}

		switch in.Op {
		case mir.Not:
			fr.set(in.Dest, Slots{b2i(v == 0)})
		case mir.Neg:
			fr.set(in.Dest, Slots{int64(m31.New(v).Neg())})
		default:
			return errors.New("unsupported unary op %v", in.Op)
		}
	case *mir.BinaryOp:
		l, err := fr.get(in.Left)
		if err != nil {
			return err
		}

		r, err := fr.get(in.Right)
		if err != nil {
			return err
		}

		v, err := binary(in.Op, l, r)
		if err != nil {
			return err
		}

		fr.set(in.Dest, v)
	case *mir.Call:
		callee := x.M.Function(in.Callee)
		if callee == nil {
			return errors.New("call to undefined function #%d", in.Callee)
		}

		args := make([]Slots, len(in.Args))

		for i, a := range in.Args {
			args[i], err = fr.get(a)
			if err != nil {
				return errors.Wrap(err, "arg %d", i)
			}
		}

		res, err := x.call(ctx, callee, args)
		if err != nil {
			return errors.Wrap(err, "call %v", callee.Name)
		}

		if len(in.Dests) != 0 && len(in.Dests) != len(res) {
			return errors.New("call %v: %d results, want %d", callee.Name, len(res), len(in.Dests))
		}

		for i, d := range in.Dests {
			fr.set(d, res[i])
		}
	case *mir.FrameAlloc:
		fr.set(in.Dest, Slots{x.alloc(in.Type.Size())})
	case *mir.AddressOf:
		v, err := fr.get(mir.Op(in.Operand))
		if err != nil {
			return err
		}

		a := x.alloc(len(v))
		copy(x.mem[a:], v)

		fr.set(in.Dest, Slots{a})
	case *mir.GetElementPtr:
		base, err := fr.scalar(in.Base)
		if err != nil {
			return err
		}

		off, err := fr.scalar(in.Offset)
		if err != nil {
			return err
		}

		fr.set(in.Dest, Slots{base + off})
	case *mir.Load:
		a, err := fr.scalar(in.Address)
		if err != nil {
			return err
		}

		v, err := x.load(a, in.Type)
		if err != nil {
			return err
		}

		fr.set(in.Dest, v)
	case *mir.Store:
		a, err := fr.scalar(in.Address)
		if err != nil {
			return err
		}

		v, err := fr.get(in.Value)
		if err != nil {
			return err
		}

		t := in.Type
		if t == nil {
			t = f.ValueType(in.Value)
		}

		return x.store(a, t, v)
	case *mir.Debug:
		ev := Event{Message: in.Message}

		for _, v := range in.Values {
			s, err := fr.get(v)
			if err != nil {
				return err
			}

			ev.Values = append(ev.Values, s)
		}

		x.Trace = append(x.Trace, ev)

		tlog.V("interp").Printw("debug", "func", f.Name, "msg", in.Message, "values", ev.Values)
	case *mir.Nop:
	case *mir.Phi:
		return errors.New("phi %v after non-phi instruction", in.Dest)
	case *mir.MakeTuple:
		var r Slots

		for _, e := range in.Elems {
			v, err := fr.get(e)
			if err != nil {
				return err
			}

			r = append(r, v...)
		}

		fr.set(in.Dest, r)
	case *mir.MakeStruct:
		r := make(Slots, tp.Slots(in.Type))

		for _, fv := range in.Fields {
			sf, ok := in.Type.Field(fv.Name)
			if !ok {
				return errors.New("no field %v", fv.Name)
			}

			v, err := fr.get(fv.Value)
			if err != nil {
				return err
			}

			copy(r[sf.Offset:], v)
		}

		fr.set(in.Dest, r)
	case *mir.ExtractTuple:
		v, err := fr.get(in.Tuple)
		if err != nil {
			return err
		}

		tt, ok := f.ValueType(in.Tuple).(tp.Tuple)
		if !ok {
			return errors.New("extract from non-tuple")
		}

		off, ok := tp.TupleOffset(tt, in.Index)
		if !ok {
			return errors.New("tuple index %d out of range", in.Index)
		}

		fr.set(in.Dest, clone(v[off:off+tp.Slots(tt.Elems[in.Index])]))
	case *mir.ExtractField:
		v, err := fr.get(in.Struct)
		if err != nil {
			return err
		}

		st, ok := f.ValueType(in.Struct).(tp.Struct)
		if !ok {
			return errors.New("field of non-struct")
		}

		sf, ok := st.Field(in.Field)
		if !ok {
			return errors.New("no field %v", in.Field)
		}

		fr.set(in.Dest, clone(v[sf.Offset:sf.Offset+tp.Slots(sf.Type)]))
	case *mir.InsertTuple:
		v, err := fr.get(in.Tuple)
		if err != nil {
			return err
		}

		e, err := fr.get(in.Value)
		if err != nil {
			return err
		}

		off, ok := tp.TupleOffset(in.Type, in.Index)
		if !ok {
			return errors.New("tuple index %d out of range", in.Index)
		}

		r := clone(v)
		copy(r[off:], e)

		fr.set(in.Dest, r)
	case *mir.InsertField:
		v, err := fr.get(in.Struct)
		if err != nil {
			return err
		}

		e, err := fr.get(in.Value)
		if err != nil {
			return err
		}

		sf, ok := in.Type.Field(in.Field)
		if !ok {
			return errors.New("no field %v", in.Field)
		}

		r := clone(v)
		copy(r[sf.Offset:], e)

		fr.set(in.Dest, r)
	case *mir.MakeFixedArray:
		at := tp.Array{X: in.ElemType, Len: len(in.Elems)}
		a := x.alloc(at.Size())

		for i, e := range in.Elems {
			v, err := fr.get(e)
			if err != nil {
				return err
			}

			err = x.store(a+int64(i*in.ElemType.Size()), in.ElemType, v)
			if err != nil {
				return err
			}
		}

		fr.set(in.Dest, Slots{a})
	default:
		return errors.New("unsupported instruction %T", in)
	}

	return nil
}

func (x *Interp) term(fr *frame, t mir.Terminator) (next mir.BlockID, ret []Slots, err error) {
	switch t := t.(type) {
	case *mir.Jump:
		return t.Target, nil, nil
	case *mir.If:
		c, err := fr.scalar(t.Cond)
		if err != nil {
			return mir.NoBlock, nil, err
		}

		if c != 0 {
			return t.Then, nil, nil
		}

		return t.Else, nil, nil
	case *mir.BranchCmp:
		l, err := fr.get(t.Left)
		if err != nil {
			return mir.NoBlock, nil, err
		}

		r, err := fr.get(t.Right)
		if err != nil {
			return mir.NoBlock, nil, err
		}

		v, err := binary(t.Op, l, r)
		if err != nil {
			return mir.NoBlock, nil, err
		}

		if v[0] != 0 {
			return t.Then, nil, nil
		}

		return t.Else, nil, nil
	case *mir.Return:
		for _, v := range t.Values {
			s, err := fr.get(v)
			if err != nil {
				return mir.NoBlock, nil, err
			}

			ret = append(ret, s)
		}

		return mir.NoBlock, ret, nil
	case *mir.Unreachable:
		return mir.NoBlock, nil, errors.New("unreachable executed")
	case nil:
		return mir.NoBlock, nil, errors.New("no terminator")
	default:
		return mir.NoBlock, nil, errors.New("unsupported terminator %T", t)
	}
}

func (x *Interp) alloc(n int) int64 {
	a := int64(len(x.mem))
	x.mem = append(x.mem, make([]int64, n)...)

	return a
}

// load reads a value of type t stored inline at a.
// Arrays stay in memory and are represented by their address.
func (x *Interp) load(a int64, t tp.Type) (Slots, error) {
	if a <= 0 || a+int64(t.Size()) > int64(len(x.mem)) {
		return nil, errors.New("load %v of %v out of bounds", a, tp.String(t))
	}

	switch t := t.(type) {
	case tp.Array:
		return Slots{a}, nil
	case tp.Tuple:
		var r Slots

		for _, e := range t.Elems {
			v, err := x.load(a, e)
			if err != nil {
				return nil, err
			}

			r = append(r, v...)
			a += int64(e.Size())
		}

		return r, nil
	case tp.Struct:
		var r Slots

		for _, sf := range t.Fields {
			v, err := x.load(a, sf.Type)
			if err != nil {
				return nil, err
			}

			r = append(r, v...)
			a += int64(sf.Type.Size())
		}

		return r, nil
	}

	return clone(x.mem[a : a+int64(t.Size())]), nil
}

func (x *Interp) store(a int64, t tp.Type, v Slots) error {
	if a <= 0 || a+int64(t.Size()) > int64(len(x.mem)) {
		return errors.New("store %v of %v out of bounds", a, tp.String(t))
	}

	switch t := t.(type) {
	case tp.Array:
		src := v[0]
		copy(x.mem[a:a+int64(t.Size())], x.mem[src:src+int64(t.Size())])

		return nil
	case tp.Tuple:
		for _, e := range t.Elems {
			n := tp.Slots(e)

			err := x.store(a, e, v[:n])
			if err != nil {
				return err
			}

			v = v[n:]
			a += int64(e.Size())
		}

		return nil
	case tp.Struct:
		for _, sf := range t.Fields {
			n := tp.Slots(sf.Type)

			err := x.store(a, sf.Type, v[:n])
			if err != nil {
				return err
			}

			v = v[n:]
			a += int64(sf.Type.Size())
		}

		return nil
	}

	copy(x.mem[a:a+int64(t.Size())], v)

	return nil
}

func binary(op mir.BinOp, l, r Slots) (Slots, error) {
	if op.IsU32() {
		return u32binary(op, u32(l), u32(r))
	}

	if len(l) != 1 || len(r) != 1 {
		return nil, errors.New("%v: scalar operands expected", op)
	}

	a, b := m31.New(l[0]), m31.New(r[0])

	switch op {
	case mir.Add:
		return Slots{int64(a.Add(b))}, nil
	case mir.Sub:
		return Slots{int64(a.Sub(b))}, nil
	case mir.Mul:
		return Slots{int64(a.Mul(b))}, nil
	case mir.Div:
		if b == 0 {
			return nil, errors.New("division by zero")
		}

		return Slots{int64(a.Div(b))}, nil
	case mir.Eq:
		return Slots{b2i(a == b)}, nil
	case mir.Neq:
		return Slots{b2i(a != b)}, nil
	case mir.Less:
		return Slots{b2i(a < b)}, nil
	case mir.Greater:
		return Slots{b2i(a > b)}, nil
	case mir.LessEqual:
		return Slots{b2i(a <= b)}, nil
	case mir.GreaterEqual:
		return Slots{b2i(a >= b)}, nil
	case mir.And:
		return Slots{b2i(a != 0 && b != 0)}, nil
	case mir.Or:
		return Slots{b2i(a != 0 || b != 0)}, nil
	}

	return nil, errors.New("unsupported binary op %v", op)
}

func u32binary(op mir.BinOp, a, b uint32) (Slots, error) {
	switch op {
	case mir.U32Add:
		return u32slots(a + b), nil
	case mir.U32Sub:
		return u32slots(a - b), nil
	case mir.U32Mul:
		return u32slots(a * b), nil
	case mir.U32Div:
		if b == 0 {
			return nil, errors.New("division by zero")
		}

		return u32slots(a / b), nil
	case mir.U32Eq:
		return Slots{b2i(a == b)}, nil
	case mir.U32Neq:
		return Slots{b2i(a != b)}, nil
	case mir.U32Less:
		return Slots{b2i(a < b)}, nil
	case mir.U32Greater:
		return Slots{b2i(a > b)}, nil
	case mir.U32LessEqual:
		return Slots{b2i(a <= b)}, nil
	case mir.U32GreaterEqual:
		return Slots{b2i(a >= b)}, nil
	case mir.U32BitwiseAnd:
		return u32slots(a & b), nil
	case mir.U32BitwiseOr:
		return u32slots(a | b), nil
	case mir.U32BitwiseXor:
		return u32slots(a ^ b), nil
	}

	return nil, errors.New("unsupported u32 op %v", op)
}

// u32 values occupy two slots: low and high 16 bits. Literals are single slot.
func u32(v Slots) uint32 {
	if len(v) == 1 {
		return uint32(v[0])
	}

	return uint32(v[0]) | uint32(v[1])<<16
}

func u32slots(x uint32) Slots {
	return Slots{int64(x & 0xffff), int64(x >> 16)}
}

func (fr *frame) get(v mir.Value) (Slots, error) {
	switch v.Kind {
	case mir.KindOperand:
		s, ok := fr.vals[v.ID]
		if !ok {
			return nil, errors.New("read of undefined value %v", v.ID)
		}

		return s, nil
	case mir.KindInt:
		return Slots{int64(m31.New(int64(v.Int)))}, nil
	case mir.KindBool:
		return Slots{int64(v.Int)}, nil
	case mir.KindUnit:
		return Slots{}, nil
	}

	return nil, errors.New("unsupported value %v", v)
}

func (fr *frame) scalar(v mir.Value) (int64, error) {
	s, err := fr.get(v)
	if err != nil {
		return 0, err
	}

	if len(s) != 1 {
		return 0, errors.New("value %v: scalar expected, got %d slots", v, len(s))
	}

	return s[0], nil
}

func (fr *frame) set(id mir.ValueID, v Slots) {
	fr.vals[id] = v
}

func clone(s Slots) Slots {
	return append(Slots{}, s...)
}

func b2i(x bool) int64 {
	if x {
		return 1
	}

	return 0
}
