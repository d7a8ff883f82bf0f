package casm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mirc/compiler/layout"
	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/mirtest"
	"github.com/slowlang/mirc/compiler/passes"
	"github.com/slowlang/mirc/compiler/tp"
)

func moduleOf(fs ...*mir.Function) *mir.Module {
	m := mir.NewModule()

	for _, f := range fs {
		m.AddFunction(f)
	}

	return m
}

func lower(t *testing.T, m *mir.Module, p passes.Pipeline) *Program {
	t.Helper()

	ctx := context.Background()

	mgr, err := passes.New(p, passes.DefaultValidationConfig())
	require.NoError(t, err)

	_, err = mgr.RunModule(ctx, m)
	require.NoError(t, err)

	prog, err := Generate(ctx, m)
	require.NoError(t, err)

	checkLabels(t, prog)

	return prog
}

// checkLabels verifies every label operand is resolved to the address of its label.
func checkLabels(t *testing.T, p *Program) {
	t.Helper()

	for pc, in := range p.Code() {
		require.False(t, in.Imm.IsLabel(), "pc %d: %v", pc, in)

		if in.Imm.Label == "" {
			continue
		}

		a, ok := p.Label(in.Imm.Label)
		require.True(t, ok, "pc %d: label %v", pc, in.Imm.Label)

		got := in.Imm.Literal
		if in.Opcode.IsRelative() {
			got += int32(pc)
		}

		assert.Equal(t, a, got, "pc %d: %v", pc, in)
	}
}

func TestOpcodes(t *testing.T) {
	names := map[string]bool{}

	for x := uint32(0); x < 32; x++ {
		op, ok := FromU32(x)
		require.True(t, ok, "%d", x)
		assert.Equal(t, x, op.ToU32())

		name := op.String()
		assert.False(t, names[name], "duplicate name %v", name)
		names[name] = true

		back, ok := ParseOpcode(name)
		assert.True(t, ok, name)
		assert.Equal(t, op, back)
	}

	for _, x := range []uint32{32, 33, 100, 1 << 31} {
		_, ok := FromU32(x)
		assert.False(t, ok, "%d", x)
	}

	assert.Equal(t, uint32(6), StoreImm.ToU32())
	assert.Equal(t, uint32(12), CallAbsImm.ToU32())
	assert.Equal(t, uint32(15), Ret.ToU32())
	assert.Equal(t, uint32(20), JmpAbsImm.ToU32())
	assert.Equal(t, uint32(31), JnzFpImm.ToU32())

	assert.True(t, JnzFpImm.IsRelative())
	assert.False(t, JmpAbsImm.IsRelative())
}

func TestPipelinesMatchInterpreter(t *testing.T) {
	ctx := context.Background()

	for _, p := range []passes.Pipeline{passes.PipelineBasic, passes.PipelineStandard, passes.PipelineAggressive} {
		for _, tc := range mirtest.Cases {
			t.Run(p.String()+"/"+tc.Name, func(t *testing.T) {
				prog := lower(t, moduleOf(tc.Build()), p)
				ref := tc.Build()

				for _, args := range tc.Args {
					exp, err := mirtest.RunFunction(ctx, ref, args...)
					require.NoError(t, err)

					got := runProgram(t, prog, ref.Name, args...)
					assert.Equal(t, exp, got, "args %v", args)
				}
			})
		}
	}
}

func TestFallthrough(t *testing.T) {
	f := mir.NewFunction("fall")
	b := mir.NewBuilder(f)
	a := f.NewParam(tp.Felt{})
	f.Returns = []tp.Type{tp.Felt{}}

	next := b.Block("next")
	far := b.Block("far")

	b.Jump(next)

	b.SetBlock(next)
	d := b.Binary(mir.Add, mir.Op(a), mir.Int(1))
	b.Jump(far)

	b.SetBlock(far)
	b.Return(mir.Op(d))

	prog, err := Generate(context.Background(), moduleOf(f))
	require.NoError(t, err)

	for _, in := range prog.Code() {
		assert.NotEqual(t, JmpAbsImm, in.Opcode, "%v", in)
	}

	assert.Equal(t, []int64{3}, runProgram(t, prog, "fall", 2))

	a0, _ := prog.Label("fall_next")
	a1, _ := prog.Label("fall_far")
	assert.Equal(t, a0+1, a1)
}

func TestCallPair(t *testing.T) {
	prog := lower(t, mirtest.CallPair(), passes.PipelineStandard)

	assert.Equal(t, []int64{30}, runProgram(t, prog, "main", 5))
	assert.Equal(t, []int64{7}, runProgram(t, prog, "add", 3, 4))

	e := prog.Entrypoints["add"]
	assert.Equal(t, []int{1, 1}, e.Args)
	assert.Equal(t, []int{1}, e.Returns)

	pc, ok := prog.Label("add")
	require.True(t, ok)
	assert.Equal(t, pc, e.PC)
}

func TestCallArgsInPlace(t *testing.T) {
	m := mir.NewModule()

	add := mir.NewFunction("add")
	ab := mir.NewBuilder(add)
	x := add.NewParam(tp.Felt{})
	y := add.NewParam(tp.Felt{})
	add.Returns = []tp.Type{tp.Felt{}}
	ab.Return(mir.Op(ab.Binary(mir.Add, mir.Op(x), mir.Op(y))))

	main := mir.NewFunction("main")
	mb := mir.NewBuilder(main)
	a := main.NewParam(tp.Felt{})
	main.Returns = []tp.Type{tp.Felt{}}

	id := m.AddFunction(add)
	m.AddFunction(main)

	p := mb.Binary(mir.Add, mir.Op(a), mir.Int(1))
	q := mb.Binary(mir.Add, mir.Op(a), mir.Int(2))
	r := mb.Call(id, add.Signature(), mir.Op(p), mir.Op(q))
	mb.Return(mir.Op(r[0]))

	prog, err := Generate(context.Background(), m)
	require.NoError(t, err)

	start, _ := prog.Label("main")
	code := prog.Code()

	var call *Instr

	for _, in := range code[start:] {
		if in.Opcode == CallAbsImm {
			call = in
			break
		}

		assert.NotEqual(t, StoreDerefFp, in.Opcode, "copy before call: %v", in)
	}

	require.NotNil(t, call)
	assert.Equal(t, int32(3), call.Off0)

	assert.Equal(t, []int64{13}, runProgram(t, prog, "main", 5))
}

func TestMemoryAndAggregates(t *testing.T) {
	f := mir.NewFunction("mem")
	b := mir.NewBuilder(f)
	i := f.NewParam(tp.Felt{})
	f.Returns = []tp.Type{tp.Felt{}, tp.Felt{}, tp.Felt{}, tp.Felt{}, tp.Felt{}}

	st := tp.NewStruct("P", tp.StructField{Name: "a", Type: tp.Felt{}}, tp.StructField{Name: "b", Type: tp.Felt{}})

	p := b.FrameAlloc(st)
	s := b.MakeStruct(st, mir.FieldValue{Name: "b", Value: mir.Int(4)}, mir.FieldValue{Name: "a", Value: mir.Int(3)})
	b.Store(mir.Op(p), mir.Op(s), st)

	fb, err := b.LoadPlace(mir.Place{Base: p, Projection: []mir.Projection{mir.FieldProj("b")}})
	require.NoError(t, err)

	s2 := b.InsertField(mir.Op(s), "a", mir.Op(i))
	fa := b.ExtractField(mir.Op(s2), "a")

	arr := b.MakeFixedArray(tp.Felt{}, mir.Int(7), mir.Int(8), mir.Int(9))
	e := b.GEP(mir.Op(arr), mir.Int(2), tp.Felt{})
	x := b.Load(mir.Op(e), tp.Felt{})

	de := b.GEP(mir.Op(arr), mir.Op(i), tp.Felt{})
	dx := b.Load(mir.Op(de), tp.Felt{})

	tu := b.MakeTuple(mir.Op(fb), mir.Op(x))
	tu2 := b.InsertTuple(mir.Op(tu), 0, mir.Int(-1))
	y := b.ExtractTuple(mir.Op(tu2), 0)

	b.Debug("values", mir.Op(fb), mir.Op(x))
	b.Return(mir.Op(fb), mir.Op(x), mir.Op(y), mir.Op(fa), mir.Op(dx))

	for _, arg := range []int64{0, 1, 2} {
		in := mirtest.New(mir.NewModule())
		in.M.AddFunction(f)

		exp, err := in.Call(context.Background(), "mem", arg)
		require.NoError(t, err)

		prog, err := Generate(context.Background(), moduleOf(f))
		require.NoError(t, err)

		assert.Equal(t, exp, runProgram(t, prog, "mem", arg), "arg %d", arg)
	}

	prog, err := Generate(context.Background(), moduleOf(f))
	require.NoError(t, err)

	assert.Equal(t, []int64{4, 9, 2147483646, 1, 8}, runProgram(t, prog, "mem", 1))

	var data []int32

	for _, it := range prog.Items {
		if d, ok := it.(Data); ok {
			data = append(data, d.Value)
		}
	}

	assert.Equal(t, []int32{7, 8, 9}, data)
}

func TestOperators(t *testing.T) {
	f := mir.NewFunction("ops")
	b := mir.NewBuilder(f)
	a := f.NewParam(tp.Felt{})
	c := f.NewParam(tp.Felt{})

	var rs []mir.Value

	bin := func(op mir.BinOp, l, r mir.Value) {
		rs = append(rs, mir.Op(b.Binary(op, l, r)))
	}

	un := func(op mir.UnOp, v mir.Value) {
		rs = append(rs, mir.Op(b.Unary(op, v)))
	}

	A, C := mir.Op(a), mir.Op(c)

	bin(mir.Sub, A, C)
	bin(mir.Sub, mir.Int(5), A)
	bin(mir.Div, A, C)
	bin(mir.Div, mir.Int(7), A)
	bin(mir.Div, A, mir.Int(2))
	bin(mir.Mul, A, A)
	bin(mir.Add, A, A)
	bin(mir.Add, mir.Int(3), mir.Int(4))
	un(mir.Neg, A)
	un(mir.Not, A)
	un(mir.Not, mir.Int(0))
	bin(mir.And, A, C)
	bin(mir.And, A, mir.Int(0))
	bin(mir.And, mir.Int(2), C)
	bin(mir.Or, A, C)
	bin(mir.Or, A, mir.Int(0))
	bin(mir.Or, mir.Int(0), mir.Int(0))
	bin(mir.Eq, A, C)
	bin(mir.Neq, A, mir.Int(5))
	bin(mir.Eq, mir.Int(3), A)
	bin(mir.Eq, mir.Int(3), mir.Int(3))

	d := b.Binary(mir.Sub, A, C)
	un(mir.Not, mir.Op(d))
	bin(mir.Or, mir.Op(d), mir.Op(d))

	for range rs {
		f.Returns = append(f.Returns, tp.Felt{})
	}

	b.Return(rs...)

	prog, err := Generate(context.Background(), moduleOf(f))
	require.NoError(t, err)

	for _, args := range [][]int64{{3, 4}, {5, 5}, {1, -1}, {3, 2}} {
		exp, err := mirtest.RunFunction(context.Background(), f, args...)
		require.NoError(t, err)

		assert.Equal(t, exp, runProgram(t, prog, "ops", args...), "args %v", args)
	}
}

func TestBranchCmp(t *testing.T) {
	for _, op := range []mir.BinOp{mir.Eq, mir.Neq} {
		f := mir.NewFunction("br")
		b := mir.NewBuilder(f)
		a := f.NewParam(tp.Felt{})
		f.Returns = []tp.Type{tp.Felt{}}

		then := b.Block("then")
		els := b.Block("else")

		b.BranchCmp(op, mir.Int(2), mir.Op(a), then, els)

		b.SetBlock(then)
		b.Return(mir.Int(10))

		b.SetBlock(els)
		b.Return(mir.Int(20))

		prog, err := Generate(context.Background(), moduleOf(f))
		require.NoError(t, err)

		for _, arg := range []int64{1, 2, 3} {
			exp, err := mirtest.RunFunction(context.Background(), f, arg)
			require.NoError(t, err)

			assert.Equal(t, exp, runProgram(t, prog, "br", arg), "%v %d", op, arg)
		}
	}
}

func TestErrors(t *testing.T) {
	ctx := context.Background()

	scalar := func(name string, build func(b *mir.Builder, a mir.ValueID) mir.Value) *mir.Module {
		f := mir.NewFunction(name)
		b := mir.NewBuilder(f)
		a := f.NewParam(tp.Felt{})
		f.Returns = []tp.Type{tp.Felt{}}

		b.Return(build(b, a))

		return moduleOf(f)
	}

	for _, tc := range []struct {
		name string
		mod  *mir.Module
		err  error
	}{
		{"phi", moduleOf(mirtest.Diamond()), ErrInvalidMIR},
		{"u32", scalar("u32", func(b *mir.Builder, a mir.ValueID) mir.Value {
			return mir.Op(b.Binary(mir.U32Add, mir.Op(a), mir.Int(1)))
		}), ErrUnsupportedInstruction},
		{"less", scalar("less", func(b *mir.Builder, a mir.ValueID) mir.Value {
			return mir.Op(b.Binary(mir.Less, mir.Op(a), mir.Int(1)))
		}), ErrUnsupportedInstruction},
		{"div_zero", scalar("div_zero", func(b *mir.Builder, a mir.ValueID) mir.Value {
			return mir.Op(b.Binary(mir.Div, mir.Int(4), mir.Int(0)))
		}), ErrInvalidMIR},
		{"store_runtime_ptr", scalar("store", func(b *mir.Builder, a mir.ValueID) mir.Value {
			arr := b.MakeFixedArray(tp.Felt{}, mir.Int(1), mir.Int(2))
			e := b.GEP(mir.Op(arr), mir.Op(a), tp.Felt{})
			b.Store(mir.Op(e), mir.Int(3), tp.Felt{})

			return mir.Int(0)
		}), ErrUnsupportedInstruction},
		{"bad_callee", scalar("caller", func(b *mir.Builder, a mir.ValueID) mir.Value {
			r := b.Call(mir.FunctionID(7), mir.Signature{Params: []tp.Type{tp.Felt{}}, Returns: []tp.Type{tp.Felt{}}}, mir.Op(a))
			return mir.Op(r[0])
		}), ErrMissingTarget},
		{"untyped", scalar("untyped", func(b *mir.Builder, a mir.ValueID) mir.Value {
			d := b.F.NewValue()
			b.Push(&mir.BinaryOp{Op: mir.Add, Dest: d, Left: mir.Op(a), Right: mir.Int(1)})

			return mir.Op(d)
		}), ErrLayout},
		{"duplicate_names", moduleOf(mirtest.DeadAdd(), mirtest.DeadAdd()), ErrInvalidMIR},
		{"frame_overflow", scalar("huge", func(b *mir.Builder, a mir.ValueID) mir.Value {
			b.FrameAlloc(tp.Array{X: tp.Felt{}, Len: layout.MaxFrameSize + 1})

			return mir.Op(a)
		}), ErrLayout},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Generate(ctx, tc.mod)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestBlockLabelsDoNotClash(t *testing.T) {
	empty := func(name string) *mir.Function {
		f := mir.NewFunction(name)
		mir.NewBuilder(f).Return()

		return f
	}

	prog, err := Generate(context.Background(), moduleOf(empty("f"), empty("f_entry")))
	require.NoError(t, err)
	checkLabels(t, prog)

	seen := map[string]bool{}

	for _, l := range prog.Labels {
		assert.False(t, seen[l.Name], "duplicate label %v", l.Name)
		seen[l.Name] = true
	}

	for _, name := range []string{"f", "f_entry"} {
		a, ok := prog.Label(name)
		require.True(t, ok, name)
		assert.Equal(t, a, prog.Entrypoints[name].PC, name)
		assert.Equal(t, []int64{}, runProgram(t, prog, name))
	}

	assert.NotEqual(t, prog.Entrypoints["f"].PC, prog.Entrypoints["f_entry"].PC)
}

func TestUnresolvedLabel(t *testing.T) {
	b := NewBuilder("f", nil)
	b.Label("f")
	b.Jump("nowhere")

	_, err := Link(context.Background(), []*Builder{b})
	assert.ErrorIs(t, err, ErrUnresolvedLabel)

	var ce *CodegenError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Msg, "nowhere")
}

func TestJSONAndListing(t *testing.T) {
	m := mirtest.CallPair()
	main := m.Functions[1]
	entry := main.Blocks[main.Entry]

	arr := &mir.MakeFixedArray{
		Dest:     main.NewTypedValue(tp.Array{X: tp.Felt{}, Len: 2}),
		Elems:    []mir.Value{mir.Int(5), mir.Int(6)},
		ElemType: tp.Felt{},
	}

	entry.Instructions = append([]mir.Instruction{arr}, entry.Instructions...)

	prog, err := Generate(context.Background(), m)
	require.NoError(t, err)
	checkLabels(t, prog)

	prog.Metadata = Metadata{SourceFile: "pair.mir", CompilerVersion: "test"}

	data, err := json.Marshal(prog)
	require.NoError(t, err)

	var x struct {
		Metadata    Metadata              `json:"metadata"`
		Entrypoints map[string]Entrypoint `json:"entrypoints"`
		Program     []map[string]any      `json:"program"`
	}

	require.NoError(t, json.Unmarshal(data, &x))

	assert.Equal(t, prog.Metadata, x.Metadata)
	assert.Equal(t, prog.Entrypoints, x.Entrypoints)
	require.Len(t, x.Program, prog.Len())

	code := len(prog.Code())

	for i, it := range x.Program {
		if i >= code {
			assert.Contains(t, it, "data", "item %d", i)
			continue
		}

		require.Contains(t, it, "opcode", "item %d", i)
		require.Contains(t, it, "operands", "item %d", i)

		in := prog.Items[i].(*Instr)
		assert.Equal(t, float64(in.Opcode), it["opcode"])
		assert.Equal(t, in.Opcode.String(), it["name"])
		assert.Len(t, it["operands"], 3)
	}

	assert.Equal(t, map[string]any{"data": float64(5)}, x.Program[code])

	l := string(prog.AppendListing(nil))

	assert.Contains(t, l, "// source pair.mir")
	assert.Contains(t, l, "\nmain:\n")
	assert.Contains(t, l, "\nadd:\n")
	assert.Contains(t, l, "call_abs_imm")
	assert.Contains(t, l, ".data 6")
}
