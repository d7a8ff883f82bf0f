package casm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slowlang/mirc/compiler/m31"
)

// vm executes the subset of opcodes the generator emits.
// Reads of unwritten memory and instructions reading the slot they write fail the test.
type vm struct {
	t *testing.T

	code []*Instr
	mem  map[int32]m31.Felt

	pc, fp int32
}

const stopPC = int32(1 << 30)

func runProgram(t *testing.T, p *Program, name string, args ...int64) []int64 {
	t.Helper()

	e, ok := p.Entrypoints[name]
	require.True(t, ok, "no entrypoint %v", name)

	x := &vm{
		t:    t,
		code: p.Code(),
		mem:  make(map[int32]m31.Felt),
	}

	for i, it := range p.Items {
		if d, ok := it.(Data); ok {
			x.mem[int32(i)] = m31.Felt(d.Value)
		}
	}

	m, k := 0, 0

	for _, n := range e.Args {
		m += n
	}

	for _, n := range e.Returns {
		k += n
	}

	require.Len(t, args, m, "args")

	base := int32(len(p.Items))

	for i, a := range args {
		x.mem[base+int32(i)] = m31.New(a)
	}

	x.fp = base + int32(m+k) + 2
	x.mem[x.fp-2] = 0
	x.mem[x.fp-1] = m31.Felt(stopPC)
	x.pc = e.PC

	for steps := 0; x.pc != stopPC; steps++ {
		require.Less(t, steps, 100000, "step limit")
		require.True(t, x.pc >= 0 && int(x.pc) < len(x.code), "pc %d out of code", x.pc)

		x.step(x.code[x.pc])
	}

	r := make([]int64, k)

	for i := range r {
		r[i] = int64(x.get(base + int32(m+i)))
	}

	return r
}

func (x *vm) get(a int32) m31.Felt {
	v, ok := x.mem[a]
	if !ok {
		x.t.Fatalf("pc %d: read of unwritten address %d", x.pc, a)
	}

	return v
}

func (x *vm) fpGet(off int32) m31.Felt { return x.get(x.fp + off) }

func (x *vm) fpSet(off int32, v m31.Felt) { x.mem[x.fp+off] = v }

func (x *vm) step(in *Instr) {
	ops := in.Operands()
	imm := m31.Felt(uint32(in.Imm.Literal))

	require.False(x.t, in.Imm.IsLabel(), "pc %d: unresolved label %v", x.pc, in.Imm.Label)

	switch in.Opcode {
	case StoreAddFpFp, StoreSubFpFp, StoreMulFpFp, StoreDivFpFp:
		require.True(x.t, ops[0] != ops[2] && ops[1] != ops[2] && ops[0] != ops[1], "pc %d: %v aliases", x.pc, in)
	case StoreAddFpImm, StoreSubFpImm, StoreMulFpImm, StoreDivFpImm, StoreDerefFp:
		require.NotEqual(x.t, ops[0], ops[2], "pc %d: %v aliases", x.pc, in)
	}

	next := x.pc + 1

	switch in.Opcode {
	case StoreAddFpFp:
		x.fpSet(in.Off2, x.fpGet(in.Off0).Add(x.fpGet(in.Off1)))
	case StoreSubFpFp:
		x.fpSet(in.Off2, x.fpGet(in.Off0).Sub(x.fpGet(in.Off1)))
	case StoreMulFpFp:
		x.fpSet(in.Off2, x.fpGet(in.Off0).Mul(x.fpGet(in.Off1)))
	case StoreDivFpFp:
		x.fpSet(in.Off2, x.fpGet(in.Off0).Div(x.fpGet(in.Off1)))
	case StoreAddFpImm:
		x.fpSet(in.Off2, x.fpGet(in.Off0).Add(imm))
	case StoreSubFpImm:
		x.fpSet(in.Off2, x.fpGet(in.Off0).Sub(imm))
	case StoreMulFpImm:
		x.fpSet(in.Off2, x.fpGet(in.Off0).Mul(imm))
	case StoreDivFpImm:
		x.fpSet(in.Off2, x.fpGet(in.Off0).Div(imm))
	case StoreDerefFp:
		x.fpSet(in.Off2, x.fpGet(in.Off0))
	case StoreDoubleDerefFp:
		x.fpSet(in.Off2, x.get(int32(x.fpGet(in.Off0))+in.Off1))
	case StoreImm:
		x.fpSet(in.Off2, imm)
	case CallAbsImm:
		x.fpSet(in.Off0, m31.Felt(x.fp))
		x.fpSet(in.Off0+1, m31.Felt(next))
		x.fp += in.Off0 + 2
		next = in.Imm.Literal
	case Ret:
		next = int32(x.fpGet(-1))
		x.fp = int32(x.fpGet(-2))
	case JmpAbsImm:
		next = in.Imm.Literal
	case JnzFpImm:
		if x.fpGet(in.Off0) != 0 {
			next = x.pc + in.Imm.Literal
		}
	default:
		x.t.Fatalf("pc %d: unexpected opcode %v", x.pc, in.Opcode)
	}

	x.pc = next
}
