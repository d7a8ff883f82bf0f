package mir

import (
	"tlog.app/go/errors"

	"github.com/slowlang/mirc/compiler/tp"
)

type (
	// Builder appends instructions to the current block of a function.
	Builder struct {
		F   *Function
		Cur BlockID
	}
)

func NewBuilder(f *Function) *Builder {
	return &Builder{F: f, Cur: f.Entry}
}

func (b *Builder) Block(name string) BlockID {
	return b.F.NewBlock(name)
}

func (b *Builder) SetBlock(id BlockID) {
	b.Cur = id
}

func (b *Builder) Current() *BasicBlock {
	return b.F.Blocks[b.Cur]
}

func (b *Builder) Push(in Instruction) {
	b.Current().Push(in)
}

func (b *Builder) Assign(src Value, t tp.Type) ValueID {
	if t == nil {
		t = b.F.ValueType(src)
	}

	d := b.F.NewTypedValue(t)
	b.Push(&Assign{Dest: d, Source: src, Type: t})

	return d
}

func (b *Builder) Unary(op UnOp, src Value) ValueID {
	t := b.F.ValueType(src)
	if op == Not {
		t = tp.Bool{}
	}

	d := b.F.NewTypedValue(t)
	b.Push(&UnaryOp{Op: op, Dest: d, Source: src})

	return d
}

func (b *Builder) Binary(op BinOp, l, r Value) ValueID {
	d := b.F.NewTypedValue(op.ResultType(b.F.ValueType(l)))
	b.Push(&BinaryOp{Op: op, Dest: d, Left: l, Right: r})

	return d
}

// Phi adds a phi to the current block after existing phis.
func (b *Builder) Phi(t tp.Type, srcs ...PhiSource) ValueID {
	d := b.F.NewTypedValue(t)
	b.Current().PushPhiFront(&Phi{Dest: d, Type: t, Sources: srcs})

	return d
}

// AddPhiSource appends a source to the phi defining dest in block id.
func (b *Builder) AddPhiSource(id BlockID, dest ValueID, src PhiSource) bool {
	for _, in := range b.F.Blocks[id].Instructions {
		if p, ok := in.(*Phi); ok && p.Dest == dest {
			p.Sources = append(p.Sources, src)
			return true
		}
	}

	return false
}

func (b *Builder) Call(callee FunctionID, sig Signature, args ...Value) []ValueID {
	ds := make([]ValueID, len(sig.Returns))

	for i, t := range sig.Returns {
		ds[i] = b.F.NewTypedValue(t)
	}

	b.Push(&Call{Dests: ds, Callee: callee, Args: args, Sig: sig})

	return ds
}

func (b *Builder) FrameAlloc(t tp.Type) ValueID {
	d := b.F.NewTypedValue(tp.Ptr{X: t})
	b.Push(&FrameAlloc{Dest: d, Type: t})

	return d
}

func (b *Builder) Load(addr Value, t tp.Type) ValueID {
	d := b.F.NewTypedValue(t)
	b.Push(&Load{Dest: d, Type: t, Address: addr})

	return d
}

func (b *Builder) Store(addr, v Value, t tp.Type) {
	if t == nil {
		t = b.F.ValueType(v)
	}

	b.Push(&Store{Address: addr, Value: v, Type: t})
}

func (b *Builder) GEP(base, off Value, elem tp.Type) ValueID {
	d := b.F.NewTypedValue(tp.Ptr{X: elem})
	b.Push(&GetElementPtr{Dest: d, Base: base, Offset: off})

	return d
}

func (b *Builder) AddressOf(v ValueID) ValueID {
	d := b.F.NewTypedValue(tp.Ptr{X: b.F.ValueType(Op(v))})
	b.Push(&AddressOf{Dest: d, Operand: v})

	return d
}

func (b *Builder) Cast(src Value, to tp.Type) ValueID {
	d := b.F.NewTypedValue(to)
	b.Push(&Cast{Dest: d, Source: src, From: b.F.ValueType(src), To: to})

	return d
}

func (b *Builder) Debug(msg string, vals ...Value) {
	b.Push(&Debug{Message: msg, Values: vals})
}

func (b *Builder) MakeTuple(elems ...Value) ValueID {
	t := tp.Tuple{Elems: make([]tp.Type, len(elems))}

	for i, e := range elems {
		t.Elems[i] = b.F.ValueType(e)
	}

	d := b.F.NewTypedValue(t)
	b.Push(&MakeTuple{Dest: d, Elems: elems, Type: t})

	return d
}

func (b *Builder) ExtractTuple(tuple Value, i int) ValueID {
	var et tp.Type = tp.Unknown{}

	if t, ok := b.F.ValueType(tuple).(tp.Tuple); ok && i >= 0 && i < len(t.Elems) {
		et = t.Elems[i]
	}

	d := b.F.NewTypedValue(et)
	b.Push(&ExtractTuple{Dest: d, Tuple: tuple, Index: i, Type: et})

	return d
}

func (b *Builder) InsertTuple(tuple Value, i int, v Value) ValueID {
	t, _ := b.F.ValueType(tuple).(tp.Tuple)

	d := b.F.NewTypedValue(t)
	b.Push(&InsertTuple{Dest: d, Tuple: tuple, Index: i, Value: v, Type: t})

	return d
}

func (b *Builder) MakeStruct(t tp.Struct, fields ...FieldValue) ValueID {
	d := b.F.NewTypedValue(t)
	b.Push(&MakeStruct{Dest: d, Fields: fields, Type: t})

	return d
}

func (b *Builder) ExtractField(s Value, name string) ValueID {
	var ft tp.Type = tp.Unknown{}

	if st, ok := b.F.ValueType(s).(tp.Struct); ok {
		if f, ok := st.Field(name); ok {
			ft = f.Type
		}
	}

	d := b.F.NewTypedValue(ft)
	b.Push(&ExtractField{Dest: d, Struct: s, Field: name, Type: ft})

	return d
}

func (b *Builder) InsertField(s Value, name string, v Value) ValueID {
	st, _ := b.F.ValueType(s).(tp.Struct)

	d := b.F.NewTypedValue(st)
	b.Push(&InsertField{Dest: d, Struct: s, Field: name, Value: v, Type: st})

	return d
}

func (b *Builder) MakeFixedArray(elem tp.Type, elems ...Value) ValueID {
	d := b.F.NewTypedValue(tp.Array{X: elem, Len: len(elems)})
	b.Push(&MakeFixedArray{Dest: d, Elems: elems, ElemType: elem})

	return d
}

func (b *Builder) terminate(t Terminator) {
	SetTerminator(b.F, b.Cur, t)
	b.Current().Filled = true
}

func (b *Builder) Jump(target BlockID) {
	b.terminate(&Jump{Target: target})
}

func (b *Builder) If(cond Value, then, els BlockID) {
	b.terminate(&If{Cond: cond, Then: then, Else: els})
}

func (b *Builder) BranchCmp(op BinOp, l, r Value, then, els BlockID) {
	b.terminate(&BranchCmp{Op: op, Left: l, Right: r, Then: then, Else: els})
}

func (b *Builder) Return(vals ...Value) {
	b.terminate(&Return{Values: vals})
}

func (b *Builder) Unreachable() {
	b.terminate(&Unreachable{})
}

// PlaceAddress lowers place projections into address arithmetic.
// Offsets are in memory slots, arrays are stored inline.
func (b *Builder) PlaceAddress(p Place) (addr Value, t tp.Type, err error) {
	pt, ok := b.F.ValueType(Op(p.Base)).(tp.Ptr)
	if !ok {
		return Value{}, nil, errors.New("place base %v is not a pointer: %v", p.Base, tp.String(b.F.ValueType(Op(p.Base))))
	}

	addr = Op(p.Base)
	t = pt.X

	for i, pr := range p.Projection {
		var off Value

		switch pr.Kind {
		case ProjField:
			st, ok := t.(tp.Struct)
			if !ok {
				return Value{}, nil, errors.New("projection %d: field %v of non-struct %v", i, pr.Field, tp.String(t))
			}

			o := 0
			found := false

			for _, f := range st.Fields {
				if f.Name == pr.Field {
					t = f.Type
					found = true
					break
				}

				o += f.Type.Size()
			}

			if !found {
				return Value{}, nil, errors.New("projection %d: no field %v in %v", i, pr.Field, tp.String(st))
			}

			off = Int(int32(o))
		case ProjTuple:
			tt, ok := t.(tp.Tuple)
			if !ok || pr.Tuple < 0 || pr.Tuple >= len(tt.Elems) {
				return Value{}, nil, errors.New("projection %d: tuple index %d of %v", i, pr.Tuple, tp.String(t))
			}

			o := 0
			for _, e := range tt.Elems[:pr.Tuple] {
				o += e.Size()
			}

			t = tt.Elems[pr.Tuple]
			off = Int(int32(o))
		case ProjIndex:
			at, ok := t.(tp.Array)
			if !ok {
				return Value{}, nil, errors.New("projection %d: index into non-array %v", i, tp.String(t))
			}

			t = at.X
			stride := int32(at.X.Size())

			if imm, ok := pr.Index.Imm(); ok {
				off = Int(imm * stride)
			} else if stride == 1 {
				off = pr.Index
			} else {
				off = Op(b.Binary(Mul, pr.Index, Int(stride)))
			}
		default:
			return Value{}, nil, errors.New("projection %d: unsupported kind %d", i, pr.Kind)
		}

		if imm, ok := off.Imm(); ok && imm == 0 {
			continue
		}

		addr = Op(b.GEP(addr, off, t))
	}

	return addr, t, nil
}

func (b *Builder) LoadPlace(p Place) (ValueID, error) {
	addr, t, err := b.PlaceAddress(p)
	if err != nil {
		return 0, errors.Wrap(err, "load place")
	}

	return b.Load(addr, t), nil
}

func (b *Builder) StorePlace(p Place, v Value) error {
	addr, t, err := b.PlaceAddress(p)
	if err != nil {
		return errors.Wrap(err, "store place")
	}

	b.Store(addr, v, t)

	return nil
}
