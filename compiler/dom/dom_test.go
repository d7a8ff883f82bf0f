package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/tp"
)

type shape struct {
	n     int
	edges map[int][]int
}

func build(t *testing.T, s shape) *mir.Function {
	t.Helper()

	f := mir.NewFunction("f")
	b := mir.NewBuilder(f)
	c := f.NewParam(tp.Bool{})

	for i := 1; i < s.n; i++ {
		b.Block("b")
	}

	for i := 0; i < s.n; i++ {
		b.SetBlock(BlockID(i))

		switch e := s.edges[i]; len(e) {
		case 0:
			b.Return()
		case 1:
			b.Jump(BlockID(e[0]))
		case 2:
			b.If(mir.Op(c), BlockID(e[0]), BlockID(e[1]))
		default:
			t.Fatalf("too many edges: %v", e)
		}
	}

	require.NoError(t, f.Validate())

	return f
}

// bruteDominates: a dominates b iff b is unreachable from entry once a is removed.
func bruteDominates(f *mir.Function, a, b BlockID) bool {
	if a == b {
		return true
	}
	if a == f.Entry {
		return true
	}

	seen := map[BlockID]bool{f.Entry: true}
	stack := []BlockID{f.Entry}

	for len(stack) != 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, s := range mir.Successors(f, x) {
			if s == a || seen[s] {
				continue
			}

			seen[s] = true
			stack = append(stack, s)
		}
	}

	return !seen[b]
}

var shapes = map[string]shape{
	"diamond": {n: 4, edges: map[int][]int{0: {1, 2}, 1: {3}, 2: {3}}},
	"loop":    {n: 4, edges: map[int][]int{0: {1}, 1: {2, 3}, 2: {1}}},
	"nested": {n: 6, edges: map[int][]int{
		0: {1},
		1: {2, 5},
		2: {3},
		3: {3, 4},
		4: {1},
	}},
	"irreducible": {n: 4, edges: map[int][]int{0: {1, 2}, 1: {2}, 2: {1, 3}}},
	"nested_diamond": {n: 4, edges: map[int][]int{0: {1, 3}, 1: {2, 3}, 2: {3}}},
}

func TestDominatorsAgainstBruteForce(t *testing.T) {
	for name, s := range shapes {
		t.Run(name, func(t *testing.T) {
			f := build(t, s)
			tree := Compute(f)

			_, ok := tree[f.Entry]
			assert.False(t, ok, "entry has idom")

			reach := f.Reachable()

			for i := range f.Blocks {
				b := BlockID(i)
				if b == f.Entry || !reach.IsSet(b) {
					continue
				}

				d, ok := tree.Idom(b)
				require.True(t, ok, "block %v", b)

				assert.True(t, tree.StrictlyDominates(d, b))
				assert.True(t, bruteDominates(f, d, b), "idom %v of %v", d, b)

				for j := range f.Blocks {
					a := BlockID(j)
					if !reach.IsSet(a) {
						continue
					}

					assert.Equal(t, bruteDominates(f, a, b), tree.Dominates(a, b), "%v dom %v", a, b)
				}
			}
		})
	}
}

func TestDiamond(t *testing.T) {
	f := build(t, shapes["diamond"])
	tree := Compute(f)

	assert.Equal(t, Tree{1: 0, 2: 0, 3: 0}, tree)
	assert.Equal(t, []BlockID{0, 1, 2, 3}, sorted(ReversePostOrder(f)))
	assert.Equal(t, BlockID(0), ReversePostOrder(f)[0])

	df := ComputeFrontiers(f, tree)

	assert.Equal(t, []BlockID{3}, df.Of(1))
	assert.Equal(t, []BlockID{3}, df.Of(2))
	assert.Empty(t, df.Of(0))
	assert.Empty(t, df.Of(3))

	assert.Equal(t, map[BlockID][]BlockID{0: {1, 2, 3}}, tree.Children(f))
}

func TestLoopFrontiers(t *testing.T) {
	f := build(t, shapes["loop"])
	tree := Compute(f)

	assert.Equal(t, Tree{1: 0, 2: 1, 3: 1}, tree)

	df := ComputeFrontiers(f, tree)

	assert.Equal(t, []BlockID{1}, df.Of(1))
	assert.Equal(t, []BlockID{1}, df.Of(2))
	assert.Empty(t, df.Of(3))
}

func TestUnreachablePredSkipped(t *testing.T) {
	// 3 is unreachable and jumps into 2
	f := build(t, shape{n: 4, edges: map[int][]int{0: {1, 2}, 1: {2}, 3: {2}}})
	tree := Compute(f)

	assert.Equal(t, Tree{1: 0, 2: 0}, tree)
	assert.False(t, tree.Dominates(0, 3))

	df := ComputeFrontiers(f, tree)
	assert.Equal(t, []BlockID{2}, df.Of(1))
	assert.Empty(t, df.Of(3))

	assert.NotContains(t, ReversePostOrder(f), BlockID(3))
}

func TestEntryFrontier(t *testing.T) {
	f := build(t, shape{n: 4, edges: map[int][]int{0: {1, 2}, 1: {0}, 2: {0, 3}}})
	tree := Compute(f)

	assert.Equal(t, Tree{1: 0, 2: 0, 3: 2}, tree)

	df := ComputeFrontiers(f, tree)

	assert.Equal(t, []BlockID{0}, df.Of(0))
	assert.Equal(t, []BlockID{0}, df.Of(1))
	assert.Equal(t, []BlockID{0}, df.Of(2))
	assert.Empty(t, df.Of(3))
}

func sorted(l []BlockID) []BlockID {
	r := append([]BlockID{}, l...)

	for i := range r {
		for j := i + 1; j < len(r); j++ {
			if r[j] < r[i] {
				r[i], r[j] = r[j], r[i]
			}
		}
	}

	return r
}
