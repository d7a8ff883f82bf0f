package mir

type (
	// Terminator is one of Jump, If, BranchCmp, Return and Unreachable.
	Terminator interface {
		terminator()
	}

	Jump struct {
		Target BlockID
	}

	// If goes to Then when Cond is non-zero.
	If struct {
		Cond       Value
		Then, Else BlockID
	}

	BranchCmp struct {
		Op          BinOp
		Left, Right Value
		Then, Else  BlockID
	}

	Return struct {
		Values []Value
	}

	Unreachable struct{}
)

func (*Jump) terminator()        {}
func (*If) terminator()          {}
func (*BranchCmp) terminator()   {}
func (*Return) terminator()      {}
func (*Unreachable) terminator() {}

// Targets returns distinct successor blocks in terminator order.
func Targets(t Terminator) []BlockID {
	switch t := t.(type) {
	case *Jump:
		return []BlockID{t.Target}
	case *If:
		if t.Then == t.Else {
			return []BlockID{t.Then}
		}

		return []BlockID{t.Then, t.Else}
	case *BranchCmp:
		if t.Then == t.Else {
			return []BlockID{t.Then}
		}

		return []BlockID{t.Then, t.Else}
	case *Return, *Unreachable, nil:
		return nil
	default:
		panic(t)
	}
}

// ReplaceTarget redirects edges pointing at from to the block to.
func ReplaceTarget(t Terminator, from, to BlockID) {
	switch t := t.(type) {
	case *Jump:
		if t.Target == from {
			t.Target = to
		}
	case *If:
		if t.Then == from {
			t.Then = to
		}
		if t.Else == from {
			t.Else = to
		}
	case *BranchCmp:
		if t.Then == from {
			t.Then = to
		}
		if t.Else == from {
			t.Else = to
		}
	}
}

// RemapTargets rewrites every target through m.
func RemapTargets(t Terminator, m func(BlockID) BlockID) {
	switch t := t.(type) {
	case *Jump:
		t.Target = m(t.Target)
	case *If:
		t.Then, t.Else = m(t.Then), m(t.Else)
	case *BranchCmp:
		t.Then, t.Else = m(t.Then), m(t.Else)
	}
}

func TerminatorUses(dst []ValueID, t Terminator) []ValueID {
	add := func(vs ...Value) {
		for _, v := range vs {
			if id, ok := v.Operand(); ok {
				dst = append(dst, id)
			}
		}
	}

	switch t := t.(type) {
	case *If:
		add(t.Cond)
	case *BranchCmp:
		add(t.Left, t.Right)
	case *Return:
		add(t.Values...)
	}

	return dst
}
