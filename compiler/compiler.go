package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/casm"
	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/mirtext"
	"github.com/slowlang/mirc/compiler/passes"
)

type (
	Target int

	Config struct {
		Target   Target
		Pipeline passes.Pipeline

		// Optimize selects Pipeline. The basic pipeline is used otherwise.
		Optimize bool

		ValidateInput  bool
		ValidateOutput bool

		Validation passes.ValidationConfig

		// MaxIterations bounds fixpoint passes. Zero keeps the default.
		MaxIterations int

		SourceFile string
	}
)

const (
	TargetCASM Target = iota
)

var Version = "v0.1.0"

var targetNames = []string{
	TargetCASM: "casm",
}

func DefaultConfig() Config {
	return Config{
		Target:         TargetCASM,
		Pipeline:       passes.PipelineStandard,
		Optimize:       true,
		ValidateInput:  true,
		ValidateOutput: true,
		Validation:     passes.DefaultValidationConfig(),
	}
}

func (t Target) String() string {
	if t >= 0 && int(t) < len(targetNames) {
		return targetNames[t]
	}

	return "target?"
}

func ParseTarget(s string) (Target, error) {
	for t, n := range targetNames {
		if n == s {
			return Target(t), nil
		}
	}

	return 0, errors.New("unknown target: %q", s)
}

func CompileFile(ctx context.Context, name string, cfg Config) (*casm.Program, error) {
	m, err := mirtext.ParseFile(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}

	if cfg.SourceFile == "" {
		cfg.SourceFile = name
	}

	return Compile(ctx, m, cfg)
}

// Optimize runs the configured pipeline over the module in place.
func Optimize(ctx context.Context, m *mir.Module, cfg Config) (err error) {
	p := passes.PipelineBasic
	if cfg.Optimize {
		p = cfg.Pipeline
	}

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compiler: optimize", "pipeline", p)
	defer tr.Finish("err", &err)

	if cfg.ValidateInput {
		err = validateInput(m)
		if err != nil {
			return errors.Wrap(err, "input")
		}
	}

	mgr, err := passes.New(p, cfg.Validation)
	if err != nil {
		return err
	}

	if cfg.MaxIterations != 0 {
		mgr.MaxIterations = cfg.MaxIterations
	}

	_, err = mgr.RunModule(ctx, m)
	if err != nil {
		return errors.Wrap(err, "%v pipeline", p)
	}

	if cfg.ValidateOutput {
		err = validateOutput(m)
		if err != nil {
			return errors.Wrap(err, "output")
		}
	}

	return nil
}

// Compile lowers the module out of SSA and generates code for the target.
// The module is modified.
func Compile(ctx context.Context, m *mir.Module, cfg Config) (p *casm.Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compiler: compile", "target", cfg.Target, "funcs", len(m.Functions))
	defer tr.Finish("err", &err)

	err = Optimize(ctx, m, cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Target {
	case TargetCASM:
		g := casm.New(m)
		g.Metadata = casm.Metadata{
			SourceFile:      cfg.SourceFile,
			CompilerVersion: Version,
		}

		p, err = g.Generate(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "casm")
		}
	default:
		return nil, errors.New("unsupported target: %v", cfg.Target)
	}

	tr.Printw("compiled", "items", p.Len(), "entrypoints", len(p.Entrypoints))

	return p, nil
}

func validateInput(m *mir.Module) error {
	err := m.Validate()
	if err != nil {
		return err
	}

	for _, f := range m.Functions {
		err = f.Validate()
		if err == nil {
			err = f.ValidateSSA()
		}
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}
	}

	return nil
}

func validateOutput(m *mir.Module) error {
	for _, f := range m.Functions {
		err := f.Validate()
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}

		if n := f.CountPhis(); n != 0 {
			return errors.New("func %v: %d phis left", f.Name, n)
		}
	}

	return nil
}
