package passes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/mirtest"
)

func TestSSADestructionDiamond(t *testing.T) {
	f := mirtest.Diamond()

	then := mirtest.BlockNamed(f, "then")
	els := mirtest.BlockNamed(f, "else")
	merge := mirtest.BlockNamed(f, "merge")

	x := f.Blocks[merge].Instructions[0].(*mir.Phi).Dest

	mod, err := NewSSADestruction().Run(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, mod)

	assert.Equal(t, 0, f.CountPhis())
	assert.Len(t, f.Blocks, 4, "no edges split")

	assert.Equal(t, []mir.Instruction{&mir.Assign{Dest: x, Source: mir.Int(100), Type: f.Types[x]}}, f.Blocks[then].Instructions)
	assert.Equal(t, []mir.Instruction{&mir.Assign{Dest: x, Source: mir.Int(200), Type: f.Types[x]}}, f.Blocks[els].Instructions)
	assert.Empty(t, f.Blocks[merge].Instructions)

	assert.IsType(t, &mir.Jump{}, f.Blocks[then].Terminator)
	assert.IsType(t, &mir.Jump{}, f.Blocks[els].Terminator)

	require.NoError(t, f.Validate())
}

func TestSSADestructionLoop(t *testing.T) {
	f := mirtest.Loop()

	header := mirtest.BlockNamed(f, "header")
	body := mirtest.BlockNamed(f, "body")

	counter := f.Blocks[header].Instructions[0].(*mir.Phi)
	i, i2 := counter.Dest, counter.Sources[1].Value

	_, err := NewSSADestruction().Run(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, 0, f.CountPhis())

	entry := f.Blocks[f.Entry].Instructions
	require.Len(t, entry, 2)
	assert.Equal(t, &mir.Assign{Dest: i, Source: mir.Int(0), Type: f.Types[i]}, entry[0])
	assert.IsType(t, &mir.Jump{}, f.Blocks[f.Entry].Terminator)

	bi := f.Blocks[body].Instructions
	require.Len(t, bi, 4)
	assert.Equal(t, &mir.Assign{Dest: i, Source: i2, Type: f.Types[i]}, bi[2])
	assert.Equal(t, &mir.Jump{Target: header}, f.Blocks[body].Terminator)

	require.Len(t, f.Blocks[header].Instructions, 1)
	assert.IsType(t, &mir.BinaryOp{}, f.Blocks[header].Instructions[0])
}

func TestSSADestructionSplitsCriticalEdges(t *testing.T) {
	f := mirtest.CriticalDiamond()
	merge := mirtest.BlockNamed(f, "merge")
	b1 := mirtest.BlockNamed(f, "b1")
	b2 := mirtest.BlockNamed(f, "b2")

	_, err := NewSSADestruction().Run(context.Background(), f)
	require.NoError(t, err)

	require.Len(t, f.Blocks, 6, "two critical edges split once each")

	for _, id := range []mir.BlockID{4, 5} {
		b := f.Blocks[id]

		assert.Equal(t, &mir.Jump{Target: merge}, b.Terminator)
		assert.Len(t, b.Instructions, 1)
	}

	assert.Equal(t, []mir.BlockID{b1, 4}, mir.Successors(f, f.Entry))
	assert.Equal(t, []mir.BlockID{b2, 5}, mir.Successors(f, b1))
	assert.NotContains(t, mir.Successors(f, f.Entry), merge)
	assert.NotContains(t, mir.Successors(f, b1), merge)
	assert.Empty(t, f.Blocks[f.Entry].Instructions)
	assert.Len(t, f.Blocks[b2].Instructions, 1, "non-critical edge copy stays in the pred")

	require.NoError(t, f.Validate())
}

func TestSSADestructionSwap(t *testing.T) {
	f := mirtest.SwapLoop()
	body := mirtest.BlockNamed(f, "body")

	values := f.NumValues()

	_, err := NewSSADestruction().Run(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, values+1, f.NumValues(), "one temporary for the swap cycle")

	ins := f.Blocks[body].Instructions
	require.Len(t, ins, 5)

	tmp := ins[2].(*mir.Assign)
	assert.Equal(t, mir.ValueID(values), tmp.Dest)

	r, err := mirtest.RunFunction(context.Background(), f, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, r)
}

func TestSSADestructionNoPhis(t *testing.T) {
	f := mirtest.DeadAdd()

	mod, err := NewSSADestruction().Run(context.Background(), f)
	require.NoError(t, err)
	assert.False(t, mod)
}

func TestSSADestructionPreservesSemantics(t *testing.T) {
	ctx := context.Background()

	for _, tc := range mirtest.Cases {
		t.Run(tc.Name, func(t *testing.T) {
			orig := tc.Build()
			f := tc.Build()

			_, err := NewSSADestruction().Run(ctx, f)
			require.NoError(t, err)

			assert.Equal(t, 0, f.CountPhis())
			require.NoError(t, f.Validate())

			for _, b := range f.Blocks {
				for _, in := range b.Instructions {
					_, nop := in.(*mir.Nop)
					assert.False(t, nop)
				}
			}

			for _, args := range tc.Args {
				want, err := mirtest.RunFunction(ctx, orig, args...)
				require.NoError(t, err)

				got, err := mirtest.RunFunction(ctx, f, args...)
				require.NoError(t, err)

				assert.Equal(t, want, got, "args %v", args)
			}
		})
	}
}

func TestSequentializeChain(t *testing.T) {
	f := mir.NewFunction("f")

	a, b, c := f.NewValue(), f.NewValue(), f.NewValue()

	// a <- b, b <- c: b must be read before it is overwritten
	seq := sequentialize(f, []pcopy{
		{idx: 0, dest: a, src: mir.Op(b)},
		{idx: 1, dest: b, src: mir.Op(c)},
		{idx: 2, dest: c, src: mir.Op(c)},
	})

	require.Len(t, seq, 2)
	assert.Equal(t, a, seq[0].dest)
	assert.Equal(t, b, seq[1].dest)
	assert.Equal(t, 3, f.NumValues())
}
