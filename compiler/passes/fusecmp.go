package passes

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/mir"
)

type (
	// FuseCmpBranch folds a comparison or negation feeding only the block's If
	// into the terminator.
	FuseCmpBranch struct{}
)

func NewFuseCmpBranch() FuseCmpBranch { return FuseCmpBranch{} }

func (FuseCmpBranch) Name() string { return "fuse_cmp_branch" }

func (FuseCmpBranch) Run(ctx context.Context, f *mir.Function) (modified bool, err error) {
	uses := f.UseCounts()
	fused := 0

	for i, b := range f.Blocks {
		t, ok := b.Terminator.(*mir.If)
		if !ok {
			continue
		}

		c, ok := t.Cond.Operand()
		if !ok || uses[c] != 1 {
			continue
		}

		j := lastDef(b, c)
		if j < 0 || redefined(b, j, b.Instructions[j]) {
			continue
		}

		var nt mir.Terminator

		switch in := b.Instructions[j].(type) {
		case *mir.BinaryOp:
			nt = fuseCompare(in, t)
		case *mir.UnaryOp:
			if in.Op == mir.Not {
				nt = &mir.If{Cond: in.Source, Then: t.Else, Else: t.Then}
			}
		}

		if nt == nil {
			continue
		}

		b.Instructions = append(b.Instructions[:j], b.Instructions[j+1:]...)
		mir.SetTerminator(f, mir.BlockID(i), nt)

		fused++
	}

	if fused != 0 {
		tlog.SpanFromContext(ctx).Printw("fused branches", "n", fused)
	}

	return fused != 0, nil
}

func fuseCompare(in *mir.BinaryOp, t *mir.If) mir.Terminator {
	switch in.Op {
	case mir.Eq, mir.Neq:
		x, ok := compareToZero(in)
		if !ok {
			break
		}

		if in.Op == mir.Eq {
			return &mir.If{Cond: x, Then: t.Else, Else: t.Then}
		}

		return &mir.If{Cond: x, Then: t.Then, Else: t.Else}
	case mir.U32Eq, mir.U32Neq:
	default:
		return nil
	}

	return &mir.BranchCmp{Op: in.Op, Left: in.Left, Right: in.Right, Then: t.Then, Else: t.Else}
}

// compareToZero returns the other operand when one side is a literal zero.
func compareToZero(in *mir.BinaryOp) (mir.Value, bool) {
	if v, ok := in.Right.Imm(); ok && v == 0 {
		return in.Left, true
	}

	if v, ok := in.Left.Imm(); ok && v == 0 {
		return in.Right, true
	}

	return mir.Value{}, false
}

// lastDef is the index of the last instruction in b defining id, or -1.
func lastDef(b *mir.BasicBlock, id mir.ValueID) int {
	for j := len(b.Instructions) - 1; j >= 0; j-- {
		for _, d := range mir.Dests(b.Instructions[j]) {
			if d == id {
				return j
			}
		}
	}

	return -1
}

// redefined reports whether an operand of in is assigned after position j.
// It only happens after phi copies were inserted.
func redefined(b *mir.BasicBlock, j int, in mir.Instruction) bool {
	ops := mir.Uses(nil, in)

	for _, x := range b.Instructions[j+1:] {
		for _, d := range mir.Dests(x) {
			for _, o := range ops {
				if d == o {
					return true
				}
			}
		}
	}

	return false
}
