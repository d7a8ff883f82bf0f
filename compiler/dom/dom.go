package dom

import (
	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/set"
)

type (
	BlockID = mir.BlockID

	// Tree maps a block to its immediate dominator.
	// The entry and unreachable blocks have no entry.
	Tree map[BlockID]BlockID

	Frontiers map[BlockID]set.Bits[BlockID]
)

// ReversePostOrder returns blocks reachable from the entry in reverse post-order.
func ReversePostOrder(f *mir.Function) []BlockID {
	if !f.HasBlock(f.Entry) {
		return nil
	}

	type frame struct {
		id   BlockID
		succ []BlockID
	}

	visited := set.MakeBits[BlockID](len(f.Blocks))
	post := make([]BlockID, 0, len(f.Blocks))

	visited.Set(f.Entry)
	stack := []frame{{id: f.Entry, succ: mir.Successors(f, f.Entry)}}

	for len(stack) != 0 {
		top := &stack[len(stack)-1]

		if len(top.succ) == 0 {
			post = append(post, top.id)
			stack = stack[:len(stack)-1]

			continue
		}

		s := top.succ[0]
		top.succ = top.succ[1:]

		if !f.HasBlock(s) || !visited.Add(s) {
			continue
		}

		stack = append(stack, frame{id: s, succ: mir.Successors(f, s)})
	}

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}

	return post
}

// Compute builds the dominator tree with the Cooper-Harvey-Kennedy iterative algorithm.
func Compute(f *mir.Function) Tree {
	rpo := ReversePostOrder(f)
	if len(rpo) == 0 {
		return Tree{}
	}

	num := make(map[BlockID]int, len(rpo))
	for i, b := range rpo {
		num[b] = i
	}

	idom := make(Tree, len(rpo))
	entry := rpo[0]
	idom[entry] = entry

	intersect := func(a, b BlockID) BlockID {
		for a != b {
			for num[a] > num[b] {
				a = idom[a]
			}
			for num[b] > num[a] {
				b = idom[b]
			}
		}

		return a
	}

	iters := 0

	for changed := true; changed; {
		changed = false
		iters++

		for _, b := range rpo[1:] {
			nidom := mir.NoBlock

			for _, p := range f.Blocks[b].Preds {
				if _, ok := idom[p]; !ok {
					continue
				}

				if nidom == mir.NoBlock {
					nidom = p
				} else {
					nidom = intersect(p, nidom)
				}
			}

			if nidom == mir.NoBlock {
				continue
			}

			if old, ok := idom[b]; !ok || old != nidom {
				idom[b] = nidom
				changed = true
			}
		}
	}

	delete(idom, entry)

	tlog.V("dom").Printw("dominators", "func", f.Name, "blocks", len(rpo), "iters", iters)

	return idom
}

func (t Tree) Idom(b BlockID) (BlockID, bool) {
	d, ok := t[b]
	return d, ok
}

// Dominates reports whether every path from the entry to b goes through a.
// Blocks dominate themselves.
func (t Tree) Dominates(a, b BlockID) bool {
	for {
		if a == b {
			return true
		}

		d, ok := t[b]
		if !ok {
			return false
		}

		b = d
	}
}

func (t Tree) StrictlyDominates(a, b BlockID) bool {
	return a != b && t.Dominates(a, b)
}

// Children returns the dominator tree edges in block order.
func (t Tree) Children(f *mir.Function) map[BlockID][]BlockID {
	ch := make(map[BlockID][]BlockID)

	for i := range f.Blocks {
		if d, ok := t[BlockID(i)]; ok {
			ch[d] = append(ch[d], BlockID(i))
		}
	}

	return ch
}

// ComputeFrontiers returns dominance frontiers of all blocks given their dominator tree.
func ComputeFrontiers(f *mir.Function, t Tree) Frontiers {
	df := make(Frontiers)

	for i, b := range f.Blocks {
		join := BlockID(i)

		if len(b.Preds) < 2 {
			continue
		}

		jidom, ok := t[join]
		if !ok && join != f.Entry {
			continue
		}
		if !ok {
			jidom = mir.NoBlock
		}

		for _, p := range b.Preds {
			if _, ok := t[p]; !ok && p != f.Entry {
				continue
			}

			for r := p; r != jidom; {
				s := df[r]
				s.Set(join)
				df[r] = s

				up, ok := t[r]
				if !ok {
					break
				}

				r = up
			}
		}
	}

	return df
}

func (d Frontiers) Of(b BlockID) []BlockID {
	return d[b].Slice()
}
