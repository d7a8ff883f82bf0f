package casm

import (
	"context"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/layout"
	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/tp"
)

type (
	// Generator lowers a non-SSA module to a Program.
	Generator struct {
		Module   *mir.Module
		Metadata Metadata

		// labels taken across the module, function names first
		labels map[string]bool
	}

	funcGen struct {
		*Builder

		mod *mir.Module
		f   *mir.Function
		l   *layout.Layout

		// frame offsets of the memory static pointers refer to
		static map[mir.ValueID]int32

		blocks []string
		next   mir.BlockID
	}
)

func New(m *mir.Module) *Generator {
	return &Generator{Module: m}
}

// Generate lowers every function and links them into a program.
func Generate(ctx context.Context, m *mir.Module) (*Program, error) {
	return New(m).Generate(ctx)
}

func (g *Generator) Generate(ctx context.Context) (p *Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "casm: generate", "funcs", len(g.Module.Functions))
	defer tr.Finish("err", &err)

	g.labels = nil

	fns := make([]*Builder, 0, len(g.Module.Functions))

	for _, f := range g.Module.Functions {
		b, err := g.Function(ctx, f)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}

		fns = append(fns, b)
	}

	p, err = Link(ctx, fns)
	if err != nil {
		return nil, errors.Wrap(err, "link")
	}

	p.Metadata = g.Metadata

	return p, nil
}

// Function runs the first pass over f: layout, labels and instruction selection.
func (g *Generator) Function(ctx context.Context, f *mir.Function) (_ *Builder, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "casm: function", "name", f.Name)
	defer tr.Finish("err", &err)

	if f.CountPhis() != 0 {
		return nil, newError(InvalidMIR, "%d phis left", f.CountPhis())
	}

	l, err := layout.Compute(ctx, f)
	if err != nil {
		return nil, &CodegenError{Kind: LayoutError, Msg: err.Error()}
	}

	if g.labels == nil {
		g.labels = make(map[string]bool, len(g.Module.Functions))

		for _, fn := range g.Module.Functions {
			g.labels[fn.Name] = true
		}
	}

	x := &funcGen{
		Builder: NewBuilder(f.Name, l),
		mod:     g.Module,
		f:       f,
		l:       l,
		static:  make(map[mir.ValueID]int32),
	}

	x.Taken = g.labels

	for _, p := range f.Params {
		x.Args = append(x.Args, l.Size(p))
	}

	for _, t := range f.Returns {
		x.Returns = append(x.Returns, tp.Slots(t))
	}

	err = x.staticAddresses()
	if err != nil {
		return nil, err
	}

	x.blockLabels()

	order := blockOrder(f)

	x.Label(f.Name)

	for i, id := range order {
		x.next = mir.NoBlock
		if i+1 < len(order) {
			x.next = order[i+1]
		}

		err = x.block(id)
		if err != nil {
			return nil, errors.Wrap(err, "block %v", x.blocks[id])
		}
	}

	if l.FrameSize > layout.MaxFrameSize {
		return nil, newError(LayoutError, "frame of %d slots exceeds %d", l.FrameSize, layout.MaxFrameSize)
	}

	if tr.If("dump_casm") {
		for i, in := range x.Code {
			tr.Printw("casm", "i", i, "instr", in)
		}
	}

	tr.Printw("function", "instrs", len(x.Code), "data", len(x.Data), "frame_size", l.FrameSize)

	return x.Builder, nil
}

// blockOrder is the entry followed by the other blocks in index order.
func blockOrder(f *mir.Function) []mir.BlockID {
	order := make([]mir.BlockID, 0, len(f.Blocks))
	order = append(order, f.Entry)

	for i := range f.Blocks {
		if mir.BlockID(i) != f.Entry {
			order = append(order, mir.BlockID(i))
		}
	}

	return order
}

// blockLabels names blocks <func>_<block>. Names clashing with any other label
// of the module, or empty ones, get the block index appended.
func (x *funcGen) blockLabels() {
	x.blocks = make([]string, len(x.f.Blocks))

	for i, b := range x.f.Blocks {
		base := x.f.Name + "_" + b.Name
		name := base

		if b.Name == "" || !x.claim(name) {
			base += "_" + strconv.Itoa(i)
			name = base

			for k := 1; !x.claim(name); k++ {
				name = base + "_" + strconv.Itoa(k)
			}
		}

		x.blocks[i] = name
	}
}

// staticAddresses finds pointers to frame memory known at compile time:
// frame allocations, taken addresses and constant offsets from them.
func (x *funcGen) staticAddresses() error {
	defs := map[mir.ValueID]int{}

	for _, b := range x.f.Blocks {
		for _, in := range b.Instructions {
			for _, d := range mir.Dests(in) {
				defs[d]++
			}

			switch in := in.(type) {
			case *mir.FrameAlloc:
				off, err := x.offset(in.Dest)
				if err != nil {
					return err
				}

				x.static[in.Dest] = off
			case *mir.AddressOf:
				off, err := x.offset(in.Operand)
				if err != nil {
					return err
				}

				x.static[in.Dest] = off
			}
		}
	}

	for changed := true; changed; {
		changed = false

		for _, b := range x.f.Blocks {
			for _, in := range b.Instructions {
				var dst mir.ValueID
				var base mir.Value
				var add int32

				switch in := in.(type) {
				case *mir.GetElementPtr:
					k, ok := in.Offset.Imm()
					if !ok {
						continue
					}

					dst, base, add = in.Dest, in.Base, k
				case *mir.Assign:
					dst, base = in.Dest, in.Source
				case *mir.Cast:
					dst, base = in.Dest, in.Source
				default:
					continue
				}

				id, ok := base.Operand()
				if !ok {
					continue
				}

				a, ok := x.static[id]
				if !ok || defs[dst] != 1 {
					continue
				}

				if _, ok := x.static[dst]; ok {
					continue
				}

				x.static[dst] = a + add
				changed = true
			}
		}
	}

	return nil
}

func (x *funcGen) offset(id mir.ValueID) (int32, error) {
	off, err := x.l.Offset(id)
	if err != nil {
		return 0, &CodegenError{Kind: LayoutError, Msg: err.Error()}
	}

	return off, nil
}

// val selects a one slot operand.
func (x *funcGen) val(v mir.Value) (Val, error) {
	switch v.Kind {
	case mir.KindInt, mir.KindBool:
		return Const(v.Int), nil
	case mir.KindOperand:
		if _, ok := x.static[v.ID]; ok {
			return Val{}, newError(UnsupportedInstruction, "frame address %v used as a value", v.ID)
		}

		off, err := x.offset(v.ID)
		if err != nil {
			return Val{}, err
		}

		return Fp(off), nil
	case mir.KindUnit:
		return Val{}, newError(InvalidMIR, "unit used as a scalar")
	default:
		return Val{}, newError(InvalidMIR, "%v operand", v)
	}
}

// move stores n slots of v to dst.
func (x *funcGen) move(v mir.Value, dst int32, n int) error {
	if n == 0 {
		return nil
	}

	if v.Kind == mir.KindOperand {
		s, err := x.val(v)
		if err != nil {
			return err
		}

		x.CopySlots(s.Off, dst, n)

		return nil
	}

	if n != 1 {
		return newError(InvalidMIR, "literal %v for %d slots", v, n)
	}

	s, err := x.val(v)
	if err != nil {
		return err
	}

	x.Move(s, dst)

	return nil
}

func (x *funcGen) block(id mir.BlockID) (err error) {
	b := x.f.Blocks[id]

	x.Label(x.blocks[id])

	for j, in := range b.Instructions {
		err = x.instr(in)
		if err != nil {
			return errors.Wrap(err, "instr %d", j)
		}
	}

	err = x.terminator(b.Terminator)
	if err != nil {
		return errors.Wrap(err, "terminator")
	}

	return nil
}

func (x *funcGen) instr(in mir.Instruction) (err error) {
	for _, d := range mir.Dests(in) {
		if _, ok := x.static[d]; ok {
			return nil
		}
	}

	switch in := in.(type) {
	case *mir.Assign:
		t := in.Type
		if t == nil {
			t = x.f.ValueType(mir.Op(in.Dest))
		}

		return x.moveTo(in.Dest, in.Source, tp.Slots(t))
	case *mir.UnaryOp:
		return x.unary(in)
	case *mir.BinaryOp:
		return x.binary(in)
	case *mir.Call:
		return x.call(in)
	case *mir.Load:
		return x.load(in)
	case *mir.Store:
		return x.store(in)
	case *mir.GetElementPtr:
		return x.gep(in)
	case *mir.Cast:
		from, to := tp.Slots(in.From), tp.Slots(in.To)
		if from != to {
			return newError(UnsupportedInstruction, "cast %v to %v", tp.String(in.From), tp.String(in.To))
		}

		return x.moveTo(in.Dest, in.Source, to)
	case *mir.FrameAlloc, *mir.AddressOf:
		return newError(UnsupportedInstruction, "address %v is not static", mir.Dests(in)[0])
	case *mir.Debug, *mir.Nop:
		return nil
	case *mir.Phi:
		return newError(InvalidMIR, "phi %v", in.Dest)
	case *mir.MakeTuple:
		dst, err := x.offset(in.Dest)
		if err != nil {
			return err
		}

		for i, e := range in.Elems {
			off, _ := tp.TupleOffset(in.Type, i)

			err = x.move(e, dst+int32(off), tp.Slots(in.Type.Elems[i]))
			if err != nil {
				return errors.Wrap(err, "elem %d", i)
			}
		}

		return nil
	case *mir.ExtractTuple:
		tt, ok := x.f.ValueType(in.Tuple).(tp.Tuple)
		if !ok {
			return newError(InvalidMIR, "extract from non-tuple %v", in.Tuple)
		}

		off, ok := tp.TupleOffset(tt, in.Index)
		if !ok {
			return newError(InvalidMIR, "tuple index %d out of range", in.Index)
		}

		return x.extract(in.Dest, in.Tuple, off, tp.Slots(tt.Elems[in.Index]))
	case *mir.InsertTuple:
		off, ok := tp.TupleOffset(in.Type, in.Index)
		if !ok {
			return newError(InvalidMIR, "tuple index %d out of range", in.Index)
		}

		return x.insert(in.Dest, in.Tuple, tp.Slots(in.Type), in.Value, off, tp.Slots(in.Type.Elems[in.Index]))
	case *mir.MakeStruct:
		dst, err := x.offset(in.Dest)
		if err != nil {
			return err
		}

		for _, fv := range in.Fields {
			off, ft, ok := fieldOffset(in.Type, fv.Name)
			if !ok {
				return newError(InvalidMIR, "no field %v in %v", fv.Name, tp.String(in.Type))
			}

			err = x.move(fv.Value, dst+int32(off), tp.Slots(ft))
			if err != nil {
				return errors.Wrap(err, "field %v", fv.Name)
			}
		}

		return nil
	case *mir.ExtractField:
		st, ok := x.f.ValueType(in.Struct).(tp.Struct)
		if !ok {
			return newError(InvalidMIR, "extract field from non-struct %v", in.Struct)
		}

		off, ft, ok := fieldOffset(st, in.Field)
		if !ok {
			return newError(InvalidMIR, "no field %v in %v", in.Field, tp.String(st))
		}

		return x.extract(in.Dest, in.Struct, off, tp.Slots(ft))
	case *mir.InsertField:
		off, ft, ok := fieldOffset(in.Type, in.Field)
		if !ok {
			return newError(InvalidMIR, "no field %v in %v", in.Field, tp.String(in.Type))
		}

		return x.insert(in.Dest, in.Struct, tp.Slots(in.Type), in.Value, off, tp.Slots(ft))
	case *mir.MakeFixedArray:
		return x.fixedArray(in)
	default:
		return newError(InvalidMIR, "unknown instruction %T", in)
	}
}

func (x *funcGen) moveTo(d mir.ValueID, v mir.Value, n int) error {
	dst, err := x.offset(d)
	if err != nil {
		return err
	}

	return x.move(v, dst, n)
}

func (x *funcGen) aggregate(v mir.Value) (int32, error) {
	if v.Kind != mir.KindOperand {
		return 0, newError(InvalidMIR, "aggregate literal %v", v)
	}

	s, err := x.val(v)
	if err != nil {
		return 0, err
	}

	return s.Off, nil
}

func (x *funcGen) extract(d mir.ValueID, agg mir.Value, off, n int) error {
	src, err := x.aggregate(agg)
	if err != nil {
		return err
	}

	dst, err := x.offset(d)
	if err != nil {
		return err
	}

	x.CopySlots(src+int32(off), dst, n)

	return nil
}

// insert copies the aggregate to d and overwrites n slots at off with v.
func (x *funcGen) insert(d mir.ValueID, agg mir.Value, size int, v mir.Value, off, n int) error {
	src, err := x.aggregate(agg)
	if err != nil {
		return err
	}

	dst, err := x.offset(d)
	if err != nil {
		return err
	}

	x.CopySlots(src, dst, size)

	return x.move(v, dst+int32(off), n)
}

func fieldOffset(st tp.Struct, name string) (off int, t tp.Type, ok bool) {
	for _, f := range st.Fields {
		if f.Name == name {
			return off, f.Type, true
		}

		off += tp.Slots(f.Type)
	}

	return 0, nil, false
}
