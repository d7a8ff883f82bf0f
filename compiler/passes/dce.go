package passes

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/mir"
)

type (
	// DeadCodeElimination removes blocks unreachable from the entry
	// and pure instructions whose results are never read.
	DeadCodeElimination struct{}
)

func NewDeadCodeElimination() DeadCodeElimination { return DeadCodeElimination{} }

func (DeadCodeElimination) Name() string { return "dce" }

func (DeadCodeElimination) Run(ctx context.Context, f *mir.Function) (modified bool, err error) {
	tr := tlog.SpanFromContext(ctx)

	blocks := len(f.Blocks)
	instrs := f.InstructionCount()

	if RemoveUnreachableBlocks(f) {
		modified = true
	}

	if RemoveDeadInstructions(f) {
		modified = true
	}

	if modified {
		tr.Printw("dce", "blocks_removed", blocks-len(f.Blocks), "instrs_removed", instrs-f.InstructionCount())
	}

	return modified, nil
}

// RemoveUnreachableBlocks compacts the block arena to blocks reachable from the entry.
// Block ids are remapped in terminators, phi sources and the entry.
func RemoveUnreachableBlocks(f *mir.Function) bool {
	reach := f.Reachable()

	if !reach.IsSet(f.Entry) {
		panic(errors.New("dce: func %v: entry block %v is unreachable", f.Name, f.Entry))
	}

	if reach.Size() == len(f.Blocks) {
		return false
	}

	remap := make([]mir.BlockID, len(f.Blocks))
	blocks := make([]*mir.BasicBlock, 0, reach.Size())

	for i, b := range f.Blocks {
		if !reach.IsSet(mir.BlockID(i)) {
			remap[i] = mir.NoBlock

			tlog.V("dce").Printw("remove block", "func", f.Name, "block", mir.BlockID(i), "name", b.Name)

			continue
		}

		remap[i] = mir.BlockID(len(blocks))
		blocks = append(blocks, b)
	}

	lookup := func(id mir.BlockID) mir.BlockID {
		if id < 0 || int(id) >= len(remap) || remap[id] == mir.NoBlock {
			panic(errors.New("dce: func %v: reachable block refers to removed block %v", f.Name, id))
		}

		return remap[id]
	}

	f.Blocks = blocks
	f.Entry = remap[f.Entry]

	terms := make([]mir.Terminator, len(blocks))

	for i, b := range blocks {
		terms[i] = b.Terminator
		b.Terminator = nil
		b.Preds = b.Preds[:0]

		mir.RemapTargets(terms[i], lookup)

		for _, in := range b.Instructions {
			phi, ok := in.(*mir.Phi)
			if !ok {
				continue
			}

			srcs := phi.Sources[:0]

			for _, s := range phi.Sources {
				if s.Block < 0 || int(s.Block) >= len(remap) || remap[s.Block] == mir.NoBlock {
					continue
				}

				s.Block = remap[s.Block]
				srcs = append(srcs, s)
			}

			phi.Sources = srcs
		}
	}

	for i, t := range terms {
		mir.SetTerminator(f, mir.BlockID(i), t)
	}

	return true
}

// RemoveDeadInstructions deletes pure instructions with no used results until nothing changes.
// Side effecting instructions are always kept. Nops are dropped.
func RemoveDeadInstructions(f *mir.Function) (modified bool) {
	for {
		uses := f.UseCounts()

		removed := filter(f, func(in mir.Instruction) bool {
			return !isDead(in, uses)
		})

		if removed == 0 {
			return modified
		}

		tlog.V("dce").Printw("removed dead instructions", "func", f.Name, "n", removed)

		modified = true
	}
}

func isDead(in mir.Instruction, uses map[mir.ValueID]int) bool {
	if _, ok := in.(*mir.Nop); ok {
		return true
	}

	if mir.HasSideEffects(in) {
		return false
	}

	for _, d := range mir.Dests(in) {
		if uses[d] != 0 {
			return false
		}
	}

	return true
}
