package layout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/mirtest"
	"github.com/slowlang/mirc/compiler/passes"
	"github.com/slowlang/mirc/compiler/tp"
)

func TestParams(t *testing.T) {
	f := mir.NewFunction("params")
	b := mir.NewBuilder(f)
	f.Returns = []tp.Type{tp.Felt{}}

	x := f.NewParam(tp.Felt{})
	y := f.NewParam(tp.Felt{})

	s := b.Binary(mir.Add, mir.Op(x), mir.Op(y))
	b.Return(mir.Op(s))

	l, err := Compute(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, Slot{Offset: -5}, l.Values[x])
	assert.Equal(t, Slot{Offset: -4}, l.Values[y])
	assert.Equal(t, Slot{Offset: 0}, l.Values[s])

	assert.Equal(t, 2, l.Params)
	assert.Equal(t, 2, l.ParamSlots)
	assert.Equal(t, 1, l.Returns)
	assert.Equal(t, 1, l.ReturnSlots)
	assert.Equal(t, int32(-3), l.ReturnOffset())
	assert.Equal(t, 1, l.FrameSize)

	assert.Equal(t, 2, CallerSaveSlots)
}

func TestSizes(t *testing.T) {
	f := mir.NewFunction("sizes")
	b := mir.NewBuilder(f)
	f.Returns = []tp.Type{tp.U32{}, tp.Felt{}}

	u := f.NewParam(tp.U32{})
	arr := f.NewParam(tp.Array{X: tp.Felt{}, Len: 4})

	p := b.FrameAlloc(tp.Array{X: tp.U32{}, Len: 3})
	tup := b.MakeTuple(mir.Int(1), mir.Op(u))
	e := b.ExtractTuple(mir.Op(tup), 0)
	b.Return(mir.Op(u), mir.Op(e))

	l, err := Compute(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, 3, l.ParamSlots)
	assert.Equal(t, 3, l.ReturnSlots)

	assert.Equal(t, MultiSlot{Offset: -8, Size: 2}, l.Values[u])
	assert.Equal(t, Slot{Offset: -6}, l.Values[arr])

	assert.Equal(t, MultiSlot{Offset: 0, Size: 6}, l.Values[p])
	assert.Equal(t, MultiSlot{Offset: 6, Size: 3}, l.Values[tup])
	assert.Equal(t, Slot{Offset: 9}, l.Values[e])

	assert.Equal(t, 10, l.FrameSize)
	assert.Equal(t, int32(-5), l.ReturnOffset())

	assert.Equal(t, 2, l.Size(u))
	assert.Equal(t, 1, l.Size(1000))
}

func TestMissingType(t *testing.T) {
	f := mir.NewFunction("untyped")
	b := mir.NewBuilder(f)

	d := f.NewValue()
	b.Push(&mir.Assign{Dest: d, Source: mir.Int(1)})
	b.Return()

	_, err := Compute(context.Background(), f)
	assert.Error(t, err)

	f = mir.NewFunction("untyped_param")
	f.Params = append(f.Params, f.NewValue())
	mir.NewBuilder(f).Return()

	_, err = Compute(context.Background(), f)
	assert.Error(t, err)
}

func TestFrameOverflow(t *testing.T) {
	f := mir.NewFunction("huge")
	b := mir.NewBuilder(f)

	b.FrameAlloc(tp.Array{X: tp.Felt{}, Len: MaxFrameSize / 2})
	b.FrameAlloc(tp.Array{X: tp.Felt{}, Len: MaxFrameSize / 2})
	b.Return()

	l, err := Compute(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, MaxFrameSize, l.FrameSize)

	b.SetBlock(b.Block("more"))
	b.FrameAlloc(tp.Felt{})
	b.Return()

	_, err = Compute(context.Background(), f)
	assert.ErrorIs(t, err, ErrFrameOverflow)
}

func TestOffset(t *testing.T) {
	f := mirtest.DeadAdd()

	l, err := Compute(context.Background(), f)
	require.NoError(t, err)

	off, err := l.Offset(0)
	require.NoError(t, err)
	assert.Equal(t, int32(0), off)

	_, err = l.Offset(100)
	assert.ErrorIs(t, err, ErrNoLayout)
}

func TestReserve(t *testing.T) {
	l, err := Compute(context.Background(), mirtest.DeadAdd())
	require.NoError(t, err)

	assert.Equal(t, 2, l.FrameSize)

	assert.Equal(t, int32(2), l.Reserve(3))
	assert.Equal(t, int32(5), l.Reserve(1))
	assert.Equal(t, 6, l.FrameSize)
}

func TestTotalAndDisjoint(t *testing.T) {
	ctx := context.Background()

	for _, tc := range mirtest.Cases {
		for _, post := range []bool{false, true} {
			f := tc.Build()

			if post {
				_, err := passes.NewSSADestruction().Run(ctx, f)
				require.NoError(t, err)
			}

			l, err := Compute(ctx, f)
			require.NoError(t, err, tc.Name)

			checkTotal(t, f, l)
			checkDisjoint(t, l)
		}
	}
}

func TestCallPair(t *testing.T) {
	ctx := context.Background()

	for _, f := range mirtest.CallPair().Functions {
		l, err := Compute(ctx, f)
		require.NoError(t, err)

		checkTotal(t, f, l)
		checkDisjoint(t, l)
	}
}

func TestDeterministic(t *testing.T) {
	ctx := context.Background()

	for _, tc := range mirtest.Cases {
		a, err := Compute(ctx, tc.Build())
		require.NoError(t, err)

		b, err := Compute(ctx, tc.Build())
		require.NoError(t, err)

		assert.Equal(t, a, b, tc.Name)
	}
}

func checkTotal(t *testing.T, f *mir.Function, l *Layout) {
	t.Helper()

	var ids []mir.ValueID

	ids = append(ids, f.Params...)

	for _, b := range f.Blocks {
		for _, in := range b.Instructions {
			ids = append(ids, mir.Dests(in)...)
			ids = mir.Uses(ids, in)
		}

		ids = mir.TerminatorUses(ids, b.Terminator)
	}

	for _, id := range ids {
		_, err := l.Offset(id)
		assert.NoError(t, err, "%v: %v", f.Name, id)
	}

	assert.Len(t, l.Order, len(l.Values))
}

func checkDisjoint(t *testing.T, l *Layout) {
	t.Helper()

	owner := map[int32]mir.ValueID{}

	for _, id := range l.Order {
		v := l.Values[id]

		if v.Base() < 0 {
			assert.Less(t, v.Base()+int32(v.Len())-1, l.ReturnOffset(), "%v: param %v overlaps returns", l.Name, id)
		} else {
			assert.LessOrEqual(t, v.Base()+int32(v.Len()), int32(l.FrameSize), "%v: %v", l.Name, id)
		}

		for i := 0; i < v.Len(); i++ {
			off := v.Base() + int32(i)

			if prev, ok := owner[off]; ok {
				t.Errorf("%v: slot %d of %v and %v", l.Name, off, prev, id)
			}

			owner[off] = id
		}
	}
}
