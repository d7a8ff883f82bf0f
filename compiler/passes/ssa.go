package passes

import (
	"context"
	"sort"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/tp"
)

type (
	// SSADestruction replaces phis with copies on incoming edges.
	// Critical edges are split first so copies never leak into other paths.
	SSADestruction struct{}

	// pcopy is one element of a parallel copy.
	pcopy struct {
		idx  int
		dest mir.ValueID
		src  mir.Value
		typ  tp.Type
	}

	copyQueue struct {
		heap.Heap[pcopy]
	}
)

func NewSSADestruction() SSADestruction { return SSADestruction{} }

func (SSADestruction) Name() string { return "ssa_destruction" }

func (SSADestruction) Run(ctx context.Context, f *mir.Function) (modified bool, err error) {
	tr := tlog.SpanFromContext(ctx)

	phis := f.CountPhis()
	if phis == 0 {
		return false, nil
	}

	blocks := len(f.Blocks)

	splits := make(map[mir.Edge]mir.BlockID)
	copies := make(map[mir.BlockID][]pcopy)

	for bi := 0; bi < blocks; bi++ {
		id := mir.BlockID(bi)
		b := f.Blocks[id]

		for i, in := range b.Instructions {
			phi, ok := in.(*mir.Phi)
			if !ok {
				continue
			}

			for k := range phi.Sources {
				s := phi.Sources[k]

				at := insertionBlock(f, splits, s.Block, id)

				copies[at] = append(copies[at], pcopy{
					idx:  len(copies[at]),
					dest: phi.Dest,
					src:  s.Value,
					typ:  phi.Type,
				})
			}

			b.Instructions[i] = &mir.Nop{}
		}
	}

	targets := make([]mir.BlockID, 0, len(copies))
	for id := range copies {
		targets = append(targets, id)
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	emitted := 0

	for _, id := range targets {
		seq := sequentialize(f, copies[id])
		emitted += len(seq)

		b := f.Blocks[id]

		for _, c := range seq {
			b.Push(&mir.Assign{Dest: c.dest, Source: c.src, Type: c.typ})
		}
	}

	for _, b := range f.Blocks {
		sweepNops(b)
	}

	if n := f.CountPhis(); n != 0 {
		return true, errors.New("%d phis left after destruction", n)
	}

	tr.Printw("ssa destruction", "phis", phis, "copies", emitted, "split_edges", len(splits), "blocks", len(f.Blocks)-blocks)

	return true, nil
}

// insertionBlock returns the block where the copy for the pred->succ edge goes,
// splitting the edge if it is critical. Splits are cached per edge.
func insertionBlock(f *mir.Function, splits map[mir.Edge]mir.BlockID, pred, succ mir.BlockID) mir.BlockID {
	if !f.HasBlock(pred) || !f.Blocks[succ].HasPred(pred) {
		panic(errors.New("ssa destruction: func %v: phi source %v is not a predecessor of %v", f.Name, pred, succ))
	}

	e := mir.Edge{From: pred, To: succ}

	if mid, ok := splits[e]; ok {
		return mid
	}

	if !mir.IsCriticalEdge(f, pred, succ) {
		return pred
	}

	mid := mir.SplitCriticalEdge(f, pred, succ)
	splits[e] = mid

	return mid
}

// sequentialize orders a parallel copy so every source is read before it is overwritten.
// Cycles are broken with a fresh temporary.
func sequentialize(f *mir.Function, cs []pcopy) (seq []pcopy) {
	pending := make(map[mir.ValueID]*pcopy, len(cs))
	readers := make(map[mir.ValueID]int)

	for i := range cs {
		c := &cs[i]

		if id, ok := c.src.Operand(); ok && id == c.dest {
			continue
		}

		pending[c.dest] = c
	}

	for _, c := range pending {
		if id, ok := c.src.Operand(); ok {
			readers[id]++
		}
	}

	ready := copyQueue{Heap: heap.Heap[pcopy]{Less: copyLess}}

	for _, c := range cs {
		if p, ok := pending[c.dest]; ok && p.idx == c.idx && readers[c.dest] == 0 {
			ready.Push(c)
		}
	}

	for len(pending) != 0 {
		for ready.Len() != 0 {
			c := ready.Pop()

			delete(pending, c.dest)
			seq = append(seq, c)

			id, ok := c.src.Operand()
			if !ok {
				continue
			}

			readers[id]--

			if p, ok := pending[id]; ok && readers[id] == 0 {
				ready.Push(*p)
			}
		}

		if len(pending) == 0 {
			break
		}

		// only cycles are left: save one destination and redirect its readers
		var first *pcopy

		for _, p := range pending {
			if first == nil || p.idx < first.idx {
				first = p
			}
		}

		tmp := f.NewTypedValue(first.typ)
		seq = append(seq, pcopy{dest: tmp, src: mir.Op(first.dest), typ: first.typ})

		for _, p := range pending {
			if id, ok := p.src.Operand(); ok && id == first.dest {
				p.src = mir.Op(tmp)
			}
		}

		readers[first.dest] = 0

		tlog.V("ssa_copies").Printw("break copy cycle", "func", f.Name, "dest", first.dest, "tmp", tmp)

		ready.Push(*first)
	}

	return seq
}

func (q *copyQueue) Push(c pcopy) {
	tlog.V("ssa_copies").Printw("copy ready", "dest", c.dest, "src", c.src, "from", loc.Caller(1))

	q.Heap.Push(c)
}

func copyLess(d []pcopy, i, j int) bool {
	return d[i].idx < d[j].idx
}

func sweepNops(b *mir.BasicBlock) {
	j := 0

	for _, in := range b.Instructions {
		if _, ok := in.(*mir.Nop); ok {
			continue
		}

		b.Instructions[j] = in
		j++
	}

	for k := j; k < len(b.Instructions); k++ {
		b.Instructions[k] = nil
	}

	b.Instructions = b.Instructions[:j]
}
