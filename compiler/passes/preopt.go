package passes

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/mir"
)

type (
	// PreOptimization is a cheap cleanup run right after lowering.
	// It removes unused value computations, stores into frame allocations
	// nobody reads and then the allocations themselves.
	//
	// Escape analysis is single level: an allocation escapes when it is a call
	// argument or an AddressOf operand. Any other use of the address
	// (Load, GetElementPtr, being stored, returned or merged) keeps its stores.
	PreOptimization struct{}
)

func NewPreOptimization() PreOptimization { return PreOptimization{} }

func (PreOptimization) Name() string { return "preopt" }

func (PreOptimization) Run(ctx context.Context, f *mir.Function) (modified bool, err error) {
	tr := tlog.SpanFromContext(ctx)

	values := removeUnusedValues(f, f.UseCounts())
	stores := removeDeadStores(f, f.UseCounts())
	allocs := removeUnusedAllocs(f, f.UseCounts())

	modified = values+stores+allocs != 0

	if modified {
		tr.Printw("preopt", "values", values, "stores", stores, "allocs", allocs)
	}

	return modified, nil
}

func removeUnusedValues(f *mir.Function, uses map[mir.ValueID]int) int {
	return filter(f, func(in mir.Instruction) bool {
		switch in := in.(type) {
		case *mir.BinaryOp:
			return uses[in.Dest] != 0
		case *mir.UnaryOp:
			return uses[in.Dest] != 0
		case *mir.Assign:
			return uses[in.Dest] != 0
		case *mir.Load:
			return uses[in.Dest] != 0
		}

		return true
	})
}

func removeDeadStores(f *mir.Function, uses map[mir.ValueID]int) int {
	escaping := EscapingAllocs(f)

	stores := make(map[mir.ValueID]int)

	for _, b := range f.Blocks {
		for _, in := range b.Instructions {
			st, ok := in.(*mir.Store)
			if !ok {
				continue
			}

			if id, ok := st.Address.Operand(); ok {
				stores[id]++
			}
		}
	}

	dead := make(map[mir.ValueID]bool)

	for _, b := range f.Blocks {
		for _, in := range b.Instructions {
			fa, ok := in.(*mir.FrameAlloc)
			if !ok || escaping[fa.Dest] {
				continue
			}

			if uses[fa.Dest] == stores[fa.Dest] {
				dead[fa.Dest] = true
			}
		}
	}

	if len(dead) == 0 {
		return 0
	}

	return filter(f, func(in mir.Instruction) bool {
		st, ok := in.(*mir.Store)
		if !ok {
			return true
		}

		id, ok := st.Address.Operand()

		return !ok || !dead[id]
	})
}

func removeUnusedAllocs(f *mir.Function, uses map[mir.ValueID]int) int {
	return filter(f, func(in mir.Instruction) bool {
		fa, ok := in.(*mir.FrameAlloc)

		return !ok || uses[fa.Dest] != 0
	})
}

// EscapingAllocs returns frame allocations passed to calls or having their address taken.
func EscapingAllocs(f *mir.Function) map[mir.ValueID]bool {
	allocs := make(map[mir.ValueID]bool)

	for _, b := range f.Blocks {
		for _, in := range b.Instructions {
			if fa, ok := in.(*mir.FrameAlloc); ok {
				allocs[fa.Dest] = false
			}
		}
	}

	for _, b := range f.Blocks {
		for _, in := range b.Instructions {
			switch in := in.(type) {
			case *mir.Call:
				for _, a := range in.Args {
					if id, ok := a.Operand(); ok {
						if _, ok := allocs[id]; ok {
							allocs[id] = true
						}
					}
				}
			case *mir.AddressOf:
				if _, ok := allocs[in.Operand]; ok {
					allocs[in.Operand] = true
				}
			}
		}
	}

	return allocs
}

// filter keeps instructions keep accepts and returns the number removed.
func filter(f *mir.Function, keep func(mir.Instruction) bool) (n int) {
	for _, b := range f.Blocks {
		j := 0

		for _, in := range b.Instructions {
			if !keep(in) {
				n++
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

	return n
}
