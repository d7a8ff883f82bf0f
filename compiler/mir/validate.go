package mir

import (
	"tlog.app/go/errors"
)

// Validate checks structural invariants: terminators are set, edges and phi sources name
// existing blocks and predecessor lists agree with terminators.
func (f *Function) Validate() error {
	if !f.HasBlock(f.Entry) {
		return errors.New("entry block %v does not exist", f.Entry)
	}

	for i, b := range f.Blocks {
		id := BlockID(i)

		if b == nil {
			return errors.New("block %v is nil", id)
		}

		if b.Terminator == nil {
			return errors.New("block %v (%s): no terminator", id, b.Name)
		}

		for _, s := range Targets(b.Terminator) {
			if !f.HasBlock(s) {
				return errors.New("block %v: jump to undefined block %v", id, s)
			}

			if !f.Blocks[s].HasPred(id) {
				return errors.New("block %v: missing in preds of successor %v", id, s)
			}
		}

		for _, p := range b.Preds {
			if !f.HasBlock(p) {
				return errors.New("block %v: undefined pred %v", id, p)
			}

			if !hasTarget(f.Blocks[p].Terminator, id) {
				return errors.New("block %v: pred %v does not jump here", id, p)
			}
		}

		for j, in := range b.Instructions {
			switch in := in.(type) {
			case nil:
				return errors.New("block %v: instr %d: nil", id, j)
			case *Phi:
				if j >= b.PhiCount() {
					return errors.New("block %v: instr %d: phi after non-phi", id, j)
				}

				for _, s := range in.Sources {
					if !f.HasBlock(s.Block) {
						return errors.New("block %v: phi %v: undefined source block %v", id, in.Dest, s.Block)
					}

					if !b.HasPred(s.Block) {
						return errors.New("block %v: phi %v: source %v is not a pred", id, in.Dest, s.Block)
					}
				}
			}
		}
	}

	if f.Blocks[f.Entry].PhiCount() != 0 {
		return errors.New("entry block has phis")
	}

	return nil
}

// ValidateSSA checks that every value has a single definition and is defined before use
// where a use is in the defining block.
func (f *Function) ValidateSSA() error {
	def := make(map[ValueID]BlockID, f.NumValues())

	for _, p := range f.Params {
		def[p] = NoBlock
	}

	for i, b := range f.Blocks {
		for _, in := range b.Instructions {
			for _, d := range Dests(in) {
				if prev, ok := def[d]; ok {
					return errors.New("value %v defined twice: in %v and %v", d, prev, BlockID(i))
				}

				def[d] = BlockID(i)
			}
		}
	}

	var uses []ValueID

	for i, b := range f.Blocks {
		for _, in := range b.Instructions {
			uses = Uses(uses[:0], in)

			for _, u := range uses {
				if _, ok := def[u]; !ok {
					return errors.New("block %v: use of undefined value %v", BlockID(i), u)
				}
			}
		}

		uses = TerminatorUses(uses[:0], b.Terminator)

		for _, u := range uses {
			if _, ok := def[u]; !ok {
				return errors.New("block %v: terminator uses undefined value %v", BlockID(i), u)
			}
		}
	}

	return nil
}

func hasTarget(t Terminator, id BlockID) bool {
	for _, s := range Targets(t) {
		if s == id {
			return true
		}
	}

	return false
}
