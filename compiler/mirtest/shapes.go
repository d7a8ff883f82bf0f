package mirtest

import (
	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/tp"
)

type (
	Case struct {
		Name  string
		Build func() *mir.Function
		Args  [][]int64
	}
)

// Cases are representative CFG shapes with inputs to run them on.
var Cases = []Case{
	{Name: "diamond", Build: Diamond, Args: [][]int64{{0}, {1}, {7}}},
	{Name: "loop", Build: Loop, Args: [][]int64{{0}, {1}, {5}}},
	{Name: "nested_loop", Build: NestedLoop, Args: [][]int64{{0}, {1}, {3}}},
	{Name: "swap_loop", Build: SwapLoop, Args: [][]int64{{0}, {3}, {4}}},
	{Name: "bottom_loop", Build: BottomLoop, Args: [][]int64{{1}, {3}}},
	{Name: "critical_diamond", Build: CriticalDiamond, Args: [][]int64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}},
}

// BlockNamed returns the first block with the name.
func BlockNamed(f *mir.Function, name string) mir.BlockID {
	for i, b := range f.Blocks {
		if b.Name == name {
			return mir.BlockID(i)
		}
	}

	panic("no block " + name)
}

// Diamond: if c { x = 100 } else { x = 200 }; return x.
func Diamond() *mir.Function {
	f := mir.NewFunction("diamond")
	b := mir.NewBuilder(f)

	c := f.NewParam(tp.Felt{})
	f.Returns = []tp.Type{tp.Felt{}}

	then := b.Block("then")
	els := b.Block("else")
	merge := b.Block("merge")

	b.If(mir.Op(c), then, els)

	b.SetBlock(then)
	b.Jump(merge)

	b.SetBlock(els)
	b.Jump(merge)

	b.SetBlock(merge)
	x := b.Phi(tp.Felt{}, mir.PhiSource{Block: then, Value: mir.Int(100)}, mir.PhiSource{Block: els, Value: mir.Int(200)})
	b.Return(mir.Op(x))

	return f
}

// Loop sums 0..n-1 with the counter test at the top.
func Loop() *mir.Function {
	f := mir.NewFunction("loop")
	b := mir.NewBuilder(f)

	n := f.NewParam(tp.Felt{})
	f.Returns = []tp.Type{tp.Felt{}}

	header := b.Block("header")
	body := b.Block("body")
	exit := b.Block("exit")

	b.Jump(header)

	b.SetBlock(header)
	i := b.Phi(tp.Felt{}, mir.PhiSource{Block: f.Entry, Value: mir.Int(0)})
	acc := b.Phi(tp.Felt{}, mir.PhiSource{Block: f.Entry, Value: mir.Int(0)})
	c := b.Binary(mir.Eq, mir.Op(i), mir.Op(n))
	b.If(mir.Op(c), exit, body)

	b.SetBlock(body)
	i2 := b.Binary(mir.Add, mir.Op(i), mir.Int(1))
	acc2 := b.Binary(mir.Add, mir.Op(acc), mir.Op(i))
	b.Jump(header)

	b.AddPhiSource(header, i, mir.PhiSource{Block: body, Value: mir.Op(i2)})
	b.AddPhiSource(header, acc, mir.PhiSource{Block: body, Value: mir.Op(acc2)})

	b.SetBlock(exit)
	b.Return(mir.Op(acc))

	return f
}

// NestedLoop computes sum of i*n for i in 0..n-1 with an inner loop adding i n times.
func NestedLoop() *mir.Function {
	f := mir.NewFunction("nested_loop")
	b := mir.NewBuilder(f)

	n := f.NewParam(tp.Felt{})
	f.Returns = []tp.Type{tp.Felt{}}

	outer := b.Block("outer")
	pre := b.Block("inner_pre")
	inner := b.Block("inner")
	ibody := b.Block("inner_body")
	latch := b.Block("outer_latch")
	exit := b.Block("exit")

	b.Jump(outer)

	b.SetBlock(outer)
	i := b.Phi(tp.Felt{}, mir.PhiSource{Block: f.Entry, Value: mir.Int(0)})
	s := b.Phi(tp.Felt{}, mir.PhiSource{Block: f.Entry, Value: mir.Int(0)})
	c := b.Binary(mir.Eq, mir.Op(i), mir.Op(n))
	b.If(mir.Op(c), exit, pre)

	b.SetBlock(pre)
	b.Jump(inner)

	b.SetBlock(inner)
	j := b.Phi(tp.Felt{}, mir.PhiSource{Block: pre, Value: mir.Int(0)})
	t := b.Phi(tp.Felt{}, mir.PhiSource{Block: pre, Value: mir.Op(s)})
	cj := b.Binary(mir.Eq, mir.Op(j), mir.Op(n))
	b.If(mir.Op(cj), latch, ibody)

	b.SetBlock(ibody)
	j2 := b.Binary(mir.Add, mir.Op(j), mir.Int(1))
	t2 := b.Binary(mir.Add, mir.Op(t), mir.Op(i))
	b.Jump(inner)

	b.AddPhiSource(inner, j, mir.PhiSource{Block: ibody, Value: mir.Op(j2)})
	b.AddPhiSource(inner, t, mir.PhiSource{Block: ibody, Value: mir.Op(t2)})

	b.SetBlock(latch)
	i2 := b.Binary(mir.Add, mir.Op(i), mir.Int(1))
	b.Jump(outer)

	b.AddPhiSource(outer, i, mir.PhiSource{Block: latch, Value: mir.Op(i2)})
	b.AddPhiSource(outer, s, mir.PhiSource{Block: latch, Value: mir.Op(t)})

	b.SetBlock(exit)
	b.Return(mir.Op(s))

	return f
}

// SwapLoop swaps two values n times. The phis read each other.
func SwapLoop() *mir.Function {
	f := mir.NewFunction("swap_loop")
	b := mir.NewBuilder(f)

	n := f.NewParam(tp.Felt{})
	f.Returns = []tp.Type{tp.Felt{}, tp.Felt{}}

	header := b.Block("header")
	body := b.Block("body")
	exit := b.Block("exit")

	b.Jump(header)

	b.SetBlock(header)
	x := b.Phi(tp.Felt{}, mir.PhiSource{Block: f.Entry, Value: mir.Int(1)})
	y := b.Phi(tp.Felt{}, mir.PhiSource{Block: f.Entry, Value: mir.Int(2)})
	i := b.Phi(tp.Felt{}, mir.PhiSource{Block: f.Entry, Value: mir.Int(0)})
	c := b.Binary(mir.Eq, mir.Op(i), mir.Op(n))
	b.If(mir.Op(c), exit, body)

	b.SetBlock(body)
	i2 := b.Binary(mir.Add, mir.Op(i), mir.Int(1))
	b.Jump(header)

	b.AddPhiSource(header, x, mir.PhiSource{Block: body, Value: mir.Op(y)})
	b.AddPhiSource(header, y, mir.PhiSource{Block: body, Value: mir.Op(x)})
	b.AddPhiSource(header, i, mir.PhiSource{Block: body, Value: mir.Op(i2)})

	b.SetBlock(exit)
	b.Return(mir.Op(x), mir.Op(y))

	return f
}

// BottomLoop tests the condition at the end of the body and jumps back to itself,
// which makes the back edge critical. It returns the counter value of the last iteration.
func BottomLoop() *mir.Function {
	f := mir.NewFunction("bottom_loop")
	b := mir.NewBuilder(f)

	n := f.NewParam(tp.Felt{})
	f.Returns = []tp.Type{tp.Felt{}}

	loop := b.Block("loop")
	exit := b.Block("exit")

	b.Jump(loop)

	b.SetBlock(loop)
	i := b.Phi(tp.Felt{}, mir.PhiSource{Block: f.Entry, Value: mir.Int(0)})
	i2 := b.Binary(mir.Add, mir.Op(i), mir.Int(1))
	c := b.Binary(mir.Neq, mir.Op(i2), mir.Op(n))
	b.If(mir.Op(c), loop, exit)

	b.AddPhiSource(loop, i, mir.PhiSource{Block: loop, Value: mir.Op(i2)})

	b.SetBlock(exit)
	b.Return(mir.Op(i))

	return f
}

// CriticalDiamond: entry branches to b1 or merge, b1 branches to b2 or merge.
// Both edges into merge are critical.
func CriticalDiamond() *mir.Function {
	f := mir.NewFunction("critical_diamond")
	b := mir.NewBuilder(f)

	p := f.NewParam(tp.Felt{})
	q := f.NewParam(tp.Felt{})
	f.Returns = []tp.Type{tp.Felt{}}

	b1 := b.Block("b1")
	b2 := b.Block("b2")
	merge := b.Block("merge")

	b.If(mir.Op(p), b1, merge)

	b.SetBlock(b1)
	b.If(mir.Op(q), b2, merge)

	b.SetBlock(b2)
	b.Jump(merge)

	b.SetBlock(merge)
	x := b.Phi(tp.Felt{},
		mir.PhiSource{Block: f.Entry, Value: mir.Int(10)},
		mir.PhiSource{Block: b1, Value: mir.Int(20)},
		mir.PhiSource{Block: b2, Value: mir.Int(30)},
	)
	b.Return(mir.Op(x))

	return f
}

// DeadAdd: a = 1; b = a + 2; return a.
func DeadAdd() *mir.Function {
	f := mir.NewFunction("dead_add")
	b := mir.NewBuilder(f)

	f.Returns = []tp.Type{tp.Felt{}}

	a := b.Assign(mir.Int(1), tp.Felt{})
	b.Binary(mir.Add, mir.Op(a), mir.Int(2))
	b.Return(mir.Op(a))

	return f
}

// CallPair is a module with a callee adding its arguments and a caller using it.
func CallPair() *mir.Module {
	m := mir.NewModule()

	add := mir.NewFunction("add")
	ab := mir.NewBuilder(add)

	x := add.NewParam(tp.Felt{})
	y := add.NewParam(tp.Felt{})
	add.Returns = []tp.Type{tp.Felt{}}

	s := ab.Binary(mir.Add, mir.Op(x), mir.Op(y))
	ab.Return(mir.Op(s))

	main := mir.NewFunction("main")
	mb := mir.NewBuilder(main)

	a := main.NewParam(tp.Felt{})
	main.Returns = []tp.Type{tp.Felt{}}

	id := m.AddFunction(add)
	m.AddFunction(main)

	r := mb.Call(id, add.Signature(), mir.Op(a), mir.Int(10))
	d := mb.Binary(mir.Mul, mir.Op(r[0]), mir.Int(2))
	mb.Return(mir.Op(d))

	return m
}
