package compiler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mirc/compiler/casm"
	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/mirtest"
	"github.com/slowlang/mirc/compiler/mirtext"
	"github.com/slowlang/mirc/compiler/passes"
	"github.com/slowlang/mirc/compiler/tp"
)

func module(fs ...*mir.Function) *mir.Module {
	m := mir.NewModule()

	for _, f := range fs {
		m.AddFunction(f)
	}

	return m
}

func countBranchCmp(m *mir.Module) (n int) {
	for _, f := range m.Functions {
		for _, b := range f.Blocks {
			if _, ok := b.Terminator.(*mir.BranchCmp); ok {
				n++
			}
		}
	}

	return n
}

func TestCompile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SourceFile = "pair.mir"

	p, err := Compile(context.Background(), mirtest.CallPair(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "pair.mir", p.Metadata.SourceFile)
	assert.Equal(t, Version, p.Metadata.CompilerVersion)

	require.Contains(t, p.Entrypoints, "main")
	require.Contains(t, p.Entrypoints, "add")

	for name, e := range p.Entrypoints {
		a, ok := p.Label(name)
		require.True(t, ok, name)
		assert.Equal(t, a, e.PC, name)
	}

	for pc, in := range p.Code() {
		assert.False(t, in.Imm.IsLabel(), "pc %d: %v", pc, in)
	}

	_, err = json.Marshal(p)
	require.NoError(t, err)
}

func TestOptimizeSelectsPipeline(t *testing.T) {
	ctx := context.Background()

	plain, fused := 0, 0

	for _, tc := range mirtest.Cases {
		m := module(tc.Build())

		cfg := DefaultConfig()
		cfg.Optimize = false

		require.NoError(t, Optimize(ctx, m, cfg), tc.Name)
		plain += countBranchCmp(m)

		m = module(tc.Build())

		cfg.Optimize = true
		cfg.Pipeline = passes.PipelineAggressive

		require.NoError(t, Optimize(ctx, m, cfg), tc.Name)
		fused += countBranchCmp(m)

		for _, f := range m.Functions {
			assert.Zero(t, f.CountPhis(), tc.Name)
		}
	}

	assert.Zero(t, plain)
	assert.NotZero(t, fused)
}

func TestValidateInput(t *testing.T) {
	f := mir.NewFunction("twice")
	b := mir.NewBuilder(f)
	f.Returns = []tp.Type{tp.Felt{}}

	a := b.Assign(mir.Int(1), tp.Felt{})
	b.Push(&mir.Assign{Dest: a, Source: mir.Int(2), Type: tp.Felt{}})
	b.Return(mir.Op(a))

	cfg := DefaultConfig()

	_, err := Compile(context.Background(), module(f), cfg)
	assert.Error(t, err)
}

func TestCodegenErrorKind(t *testing.T) {
	f := mir.NewFunction("lt")
	b := mir.NewBuilder(f)
	a := f.NewParam(tp.Felt{})
	f.Returns = []tp.Type{tp.Bool{}}

	b.Return(mir.Op(b.Binary(mir.Less, mir.Op(a), mir.Int(3))))

	_, err := Compile(context.Background(), module(f), DefaultConfig())
	assert.ErrorIs(t, err, casm.ErrUnsupportedInstruction)
}

func TestTargets(t *testing.T) {
	tg, err := ParseTarget("casm")
	require.NoError(t, err)
	assert.Equal(t, TargetCASM, tg)
	assert.Equal(t, "casm", tg.String())

	_, err = ParseTarget("arm64")
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Target = Target(5)

	_, err = Compile(context.Background(), mirtest.CallPair(), cfg)
	assert.Error(t, err)
}

func TestCompileFile(t *testing.T) {
	text, err := mirtext.FormatModule(nil, mirtest.CallPair())
	require.NoError(t, err)

	name := filepath.Join(t.TempDir(), "pair.mir")
	require.NoError(t, os.WriteFile(name, text, 0o644))

	p, err := CompileFile(context.Background(), name, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, name, p.Metadata.SourceFile)
	assert.Contains(t, p.Entrypoints, "main")

	_, err = CompileFile(context.Background(), filepath.Join(t.TempDir(), "missing.mir"), DefaultConfig())
	assert.Error(t, err)
}
