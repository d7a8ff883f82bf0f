package mir

import (
	"strconv"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"
)

type (
	Edge struct {
		From, To BlockID
	}
)

func Successors(f *Function, id BlockID) []BlockID {
	return Targets(f.Blocks[id].Terminator)
}

func Predecessors(f *Function, id BlockID) []BlockID {
	return append([]BlockID{}, f.Blocks[id].Preds...)
}

// Connect records the edge in the predecessor list of to.
func Connect(f *Function, from, to BlockID) {
	tlog.V("cfg_edges").Printw("connect", "from", from, "to", to, "caller", loc.Caller(1))

	f.Blocks[to].AddPred(from)
}

func Disconnect(f *Function, from, to BlockID) {
	tlog.V("cfg_edges").Printw("disconnect", "from", from, "to", to, "caller", loc.Caller(1))

	f.Blocks[to].RemovePred(from)
}

// SetTerminator replaces the terminator of id keeping predecessor lists consistent.
func SetTerminator(f *Function, id BlockID, t Terminator) {
	b := f.Blocks[id]

	for _, s := range Targets(b.Terminator) {
		if f.HasBlock(s) {
			Disconnect(f, id, s)
		}
	}

	b.Terminator = t

	for _, s := range Targets(t) {
		Connect(f, id, s)
	}
}

// ReplaceEdge redirects the from->old edge to from->to.
func ReplaceEdge(f *Function, from, old, to BlockID) {
	ReplaceTarget(f.Blocks[from].Terminator, old, to)

	Disconnect(f, from, old)
	Connect(f, from, to)
}

// RecomputePreds rebuilds all predecessor lists from terminators.
func RecomputePreds(f *Function) {
	for _, b := range f.Blocks {
		b.Preds = b.Preds[:0]
	}

	for i, b := range f.Blocks {
		for _, s := range Targets(b.Terminator) {
			f.Blocks[s].AddPred(BlockID(i))
		}
	}
}

func IsCriticalEdge(f *Function, from, to BlockID) bool {
	return len(Successors(f, from)) > 1 && len(f.Blocks[to].Preds) > 1
}

// SplitCriticalEdge inserts an empty block jumping to to between from and to.
// Phis of to are updated to name the new block as their source.
func SplitCriticalEdge(f *Function, from, to BlockID) BlockID {
	name := "edge_" + strconv.Itoa(int(from)) + "_" + strconv.Itoa(int(to))
	mid := f.NewBlock(name)

	b := f.Blocks[mid]
	b.Terminator = &Jump{Target: to}
	b.Filled = true
	b.Sealed = true

	ReplaceEdge(f, from, to, mid)
	Connect(f, mid, to)

	for _, in := range f.Blocks[to].Instructions {
		phi, ok := in.(*Phi)
		if !ok {
			continue
		}

		for i := range phi.Sources {
			if phi.Sources[i].Block == from {
				phi.Sources[i].Block = mid
			}
		}
	}

	tlog.V("cfg_split").Printw("split critical edge", "from", from, "to", to, "new", mid)

	return mid
}

// SplitAllCriticalEdges collects critical edges first and splits them after.
func SplitAllCriticalEdges(f *Function) map[Edge]BlockID {
	var edges []Edge

	for i := range f.Blocks {
		from := BlockID(i)

		for _, to := range Successors(f, from) {
			if IsCriticalEdge(f, from, to) {
				edges = append(edges, Edge{From: from, To: to})
			}
		}
	}

	r := make(map[Edge]BlockID, len(edges))

	for _, e := range edges {
		r[e] = SplitCriticalEdge(f, e.From, e.To)
	}

	return r
}

func (e Edge) TlogAppend(b []byte) []byte {
	var enc tlwire.Encoder

	b = enc.AppendMap(b, 2)
	b = enc.AppendKeyInt(b, "from", int(e.From))
	b = enc.AppendKeyInt(b, "to", int(e.To))

	return b
}
