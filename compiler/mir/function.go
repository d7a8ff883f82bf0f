package mir

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/mirc/compiler/set"
	"github.com/slowlang/mirc/compiler/tp"
)

type (
	BasicBlock struct {
		Name string

		Instructions []Instruction
		Terminator   Terminator

		Preds []BlockID

		// Filled: instructions are final. Sealed: predecessor set is final.
		Filled bool
		Sealed bool
	}

	Function struct {
		Name string

		Blocks []*BasicBlock
		Entry  BlockID

		Params  []ValueID
		Returns []tp.Type

		Types map[ValueID]tp.Type

		nextValue ValueID
	}

	Module struct {
		Functions []*Function

		names map[string]FunctionID
	}
)

func NewFunction(name string) *Function {
	f := &Function{
		Name:  name,
		Types: make(map[ValueID]tp.Type),
	}

	f.Entry = f.NewBlock("entry")

	return f
}

func (f *Function) NewBlock(name string) BlockID {
	id := BlockID(len(f.Blocks))

	f.Blocks = append(f.Blocks, &BasicBlock{Name: name})

	return id
}

func (f *Function) Block(id BlockID) *BasicBlock {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}

	return f.Blocks[id]
}

func (f *Function) HasBlock(id BlockID) bool {
	return id >= 0 && int(id) < len(f.Blocks)
}

func (f *Function) NewValue() ValueID {
	id := f.nextValue
	f.nextValue++

	return id
}

func (f *Function) NewTypedValue(t tp.Type) ValueID {
	id := f.NewValue()
	f.Types[id] = t

	return id
}

// DeclareValue registers an externally numbered value, keeping NewValue ids fresh.
func (f *Function) DeclareValue(id ValueID, t tp.Type) {
	if id >= f.nextValue {
		f.nextValue = id + 1
	}

	if t != nil {
		f.Types[id] = t
	}
}

func (f *Function) NumValues() int { return int(f.nextValue) }

func (f *Function) NewParam(t tp.Type) ValueID {
	id := f.NewTypedValue(t)
	f.Params = append(f.Params, id)

	return id
}

func (f *Function) ParamTypes() []tp.Type {
	r := make([]tp.Type, len(f.Params))

	for i, p := range f.Params {
		r[i] = f.ValueType(Op(p))
	}

	return r
}

func (f *Function) ReturnTypes() []tp.Type {
	return f.Returns
}

func (f *Function) Signature() Signature {
	return Signature{Params: f.ParamTypes(), Returns: f.ReturnTypes()}
}

func (f *Function) InstructionCount() (n int) {
	for _, b := range f.Blocks {
		n += len(b.Instructions)
	}

	return n
}

// UseCounts counts reads of every value by instructions and terminators.
func (f *Function) UseCounts() map[ValueID]int {
	cnt := make(map[ValueID]int)
	var buf []ValueID

	for _, b := range f.Blocks {
		for _, in := range b.Instructions {
			buf = Uses(buf[:0], in)

			for _, id := range buf {
				cnt[id]++
			}
		}

		buf = TerminatorUses(buf[:0], b.Terminator)

		for _, id := range buf {
			cnt[id]++
		}
	}

	return cnt
}

// Reachable returns blocks reachable from the entry.
func (f *Function) Reachable() set.Bits[BlockID] {
	seen := set.MakeBits[BlockID](len(f.Blocks))

	if !f.HasBlock(f.Entry) {
		return seen
	}

	stack := []BlockID{f.Entry}
	seen.Set(f.Entry)

	for len(stack) != 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, s := range Targets(f.Blocks[id].Terminator) {
			if f.HasBlock(s) && seen.Add(s) {
				stack = append(stack, s)
			}
		}
	}

	return seen
}

func (f *Function) IsBlockReachable(id BlockID) bool {
	return f.Reachable().IsSet(id)
}

func (f *Function) UnreachableBlocks() (r []BlockID) {
	seen := f.Reachable()

	for id := range f.Blocks {
		if !seen.IsSet(BlockID(id)) {
			r = append(r, BlockID(id))
		}
	}

	return r
}

func (f *Function) CountPhis() (n int) {
	for _, b := range f.Blocks {
		for _, in := range b.Instructions {
			if _, ok := in.(*Phi); ok {
				n++
			}
		}
	}

	return n
}

func (f *Function) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 4)
	b = e.AppendKeyString(b, "name", f.Name)
	b = e.AppendKeyInt(b, "blocks", len(f.Blocks))
	b = e.AppendKeyInt(b, "instrs", f.InstructionCount())
	b = e.AppendKeyInt(b, "values", int(f.nextValue))

	return b
}

func (b *BasicBlock) AddPred(p BlockID) {
	for _, x := range b.Preds {
		if x == p {
			return
		}
	}

	b.Preds = append(b.Preds, p)
}

func (b *BasicBlock) RemovePred(p BlockID) {
	for i, x := range b.Preds {
		if x == p {
			b.Preds = append(b.Preds[:i], b.Preds[i+1:]...)
			return
		}
	}
}

func (b *BasicBlock) HasPred(p BlockID) bool {
	for _, x := range b.Preds {
		if x == p {
			return true
		}
	}

	return false
}

func (b *BasicBlock) Push(in Instruction) {
	b.Instructions = append(b.Instructions, in)
}

// PushPhiFront inserts a phi after the existing leading phis.
func (b *BasicBlock) PushPhiFront(p *Phi) {
	n := b.PhiCount()

	b.Instructions = append(b.Instructions, nil)
	copy(b.Instructions[n+1:], b.Instructions[n:])
	b.Instructions[n] = p
}

// PhiCount is the length of the leading run of phis.
func (b *BasicBlock) PhiCount() (n int) {
	for n < len(b.Instructions) {
		if _, ok := b.Instructions[n].(*Phi); !ok {
			break
		}

		n++
	}

	return n
}

func (b *BasicBlock) HasTerminator() bool {
	return b.Terminator != nil
}

func NewModule() *Module {
	return &Module{names: make(map[string]FunctionID)}
}

func (m *Module) AddFunction(f *Function) FunctionID {
	id := FunctionID(len(m.Functions))
	m.Functions = append(m.Functions, f)

	if m.names == nil {
		m.names = make(map[string]FunctionID)
	}

	m.names[f.Name] = id

	return id
}

func (m *Module) Function(id FunctionID) *Function {
	if id < 0 || int(id) >= len(m.Functions) {
		return nil
	}

	return m.Functions[id]
}

func (m *Module) Lookup(name string) (FunctionID, bool) {
	id, ok := m.names[name]
	return id, ok
}

func (m *Module) Validate() (err error) {
	for _, f := range m.Functions {
		err = f.Validate()
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}

		for _, b := range f.Blocks {
			for _, in := range b.Instructions {
				c, ok := in.(*Call)
				if !ok {
					continue
				}

				callee := m.Function(c.Callee)
				if callee == nil {
					return errors.New("func %v: call to undefined function #%d", f.Name, c.Callee)
				}

				if len(c.Args) != len(callee.Params) {
					return errors.New("func %v: call %v: %d args, want %d", f.Name, callee.Name, len(c.Args), len(callee.Params))
				}
			}
		}
	}

	return nil
}
