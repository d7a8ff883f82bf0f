package passes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/mirtest"
	"github.com/slowlang/mirc/compiler/mirtext"
	"github.com/slowlang/mirc/compiler/tp"
)

func TestDCEDeadAdd(t *testing.T) {
	f := mirtest.DeadAdd()

	mod, err := NewDeadCodeElimination().Run(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, mod)

	ins := f.Blocks[f.Entry].Instructions
	require.Len(t, ins, 1)

	a, ok := ins[0].(*mir.Assign)
	require.True(t, ok)
	assert.Equal(t, mir.Int(1), a.Source)

	r, err := mirtest.RunFunction(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, r)
}

func TestDCECascade(t *testing.T) {
	f := mir.NewFunction("cascade")
	b := mir.NewBuilder(f)
	f.Returns = []tp.Type{tp.Felt{}}

	x := f.NewParam(tp.Felt{})

	y := b.Binary(mir.Add, mir.Op(x), mir.Int(1))
	z := b.Binary(mir.Mul, mir.Op(y), mir.Int(2))
	b.Unary(mir.Neg, mir.Op(z))
	b.Return(mir.Op(x))

	mod := RemoveDeadInstructions(f)
	assert.True(t, mod)
	assert.Empty(t, f.Blocks[f.Entry].Instructions)
}

func TestDCEKeepsSideEffects(t *testing.T) {
	f := mir.NewFunction("effects")
	b := mir.NewBuilder(f)

	p := b.FrameAlloc(tp.Felt{})
	b.Store(mir.Op(p), mir.Int(5), tp.Felt{})
	b.Debug("here")
	b.Call(0, mir.Signature{Returns: []tp.Type{tp.Felt{}}})
	b.Push(&mir.Nop{})
	b.Return()

	mod, err := NewDeadCodeElimination().Run(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, mod, "nop is dropped")

	ins := f.Blocks[f.Entry].Instructions
	require.Len(t, ins, 4)
	assert.IsType(t, &mir.FrameAlloc{}, ins[0])
	assert.IsType(t, &mir.Store{}, ins[1])
	assert.IsType(t, &mir.Debug{}, ins[2])
	assert.IsType(t, &mir.Call{}, ins[3])
}

func TestDCEUnreachableBlocks(t *testing.T) {
	f := mir.NewFunction("unreachable")
	b := mir.NewBuilder(f)
	f.Returns = []tp.Type{tp.Felt{}}

	dead := b.Block("dead")
	merge := b.Block("merge")
	dead2 := b.Block("dead2")

	b.Jump(merge)

	b.SetBlock(dead)
	b.Jump(merge)

	b.SetBlock(dead2)
	b.Unreachable()

	b.SetBlock(merge)
	x := b.Phi(tp.Felt{},
		mir.PhiSource{Block: f.Entry, Value: mir.Int(1)},
		mir.PhiSource{Block: dead, Value: mir.Int(2)},
	)
	b.Return(mir.Op(x))

	require.NoError(t, f.Validate())

	mod, err := NewDeadCodeElimination().Run(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, mod)

	require.Len(t, f.Blocks, 2)
	assert.Equal(t, mir.BlockID(0), f.Entry)
	assert.Equal(t, "merge", f.Blocks[1].Name)

	assert.Equal(t, &mir.Jump{Target: 1}, f.Blocks[f.Entry].Terminator)
	assert.Equal(t, []mir.BlockID{0}, f.Blocks[1].Preds)

	phi := f.Blocks[1].Instructions[0].(*mir.Phi)
	assert.Equal(t, []mir.PhiSource{{Block: 0, Value: mir.Int(1)}}, phi.Sources)

	require.NoError(t, f.Validate())
	require.NoError(t, f.ValidateSSA())

	r, err := mirtest.RunFunction(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, r)
}

func TestDCEUnreachableRemap(t *testing.T) {
	f := mir.NewFunction("remap")
	b := mir.NewBuilder(f)
	f.Returns = []tp.Type{tp.Felt{}}

	c := f.NewParam(tp.Felt{})

	dead := b.Block("dead")
	then := b.Block("then")
	els := b.Block("else")

	b.If(mir.Op(c), then, els)

	b.SetBlock(dead)
	b.Jump(then)

	b.SetBlock(then)
	b.Return(mir.Int(1))

	b.SetBlock(els)
	b.Return(mir.Int(2))

	assert.True(t, RemoveUnreachableBlocks(f))
	assert.False(t, RemoveUnreachableBlocks(f))

	require.Len(t, f.Blocks, 3)
	assert.Equal(t, &mir.If{Cond: mir.Op(c), Then: 1, Else: 2}, f.Blocks[f.Entry].Terminator)
	assert.Equal(t, []mir.BlockID{0}, f.Blocks[1].Preds)
	assert.Equal(t, []mir.BlockID{0}, f.Blocks[2].Preds)

	require.NoError(t, f.Validate())
}

func TestDCEIdempotent(t *testing.T) {
	ctx := context.Background()

	for _, tc := range mirtest.Cases {
		for _, post := range []bool{false, true} {
			f := tc.Build()

			if post {
				_, err := NewSSADestruction().Run(ctx, f)
				require.NoError(t, err)
			}

			_, err := NewDeadCodeElimination().Run(ctx, f)
			require.NoError(t, err)

			before, err := mirtext.Format(nil, f)
			require.NoError(t, err)

			mod, err := NewDeadCodeElimination().Run(ctx, f)
			require.NoError(t, err)
			assert.False(t, mod, "%v post_ssa %v", tc.Name, post)

			after, err := mirtext.Format(nil, f)
			require.NoError(t, err)

			assert.Equal(t, string(before), string(after), "%v post_ssa %v", tc.Name, post)
		}
	}
}

func TestDCEPreservesReachableBlocks(t *testing.T) {
	ctx := context.Background()

	for _, tc := range mirtest.Cases {
		f := tc.Build()
		blocks := len(f.Blocks)

		_, err := NewDeadCodeElimination().Run(ctx, f)
		require.NoError(t, err)

		assert.Len(t, f.Blocks, blocks, tc.Name)
		require.NoError(t, f.Validate(), tc.Name)

		for _, args := range tc.Args {
			r, err := mirtest.RunFunction(ctx, f, args...)
			require.NoError(t, err)

			want, err := mirtest.RunFunction(ctx, tc.Build(), args...)
			require.NoError(t, err)

			assert.Equal(t, want, r, "%v %v", tc.Name, args)
		}
	}
}
