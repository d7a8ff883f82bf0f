package passes

import (
	"context"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/mirtext"
)

type (
	// Pass transforms one function in place.
	// It reports whether the function was modified.
	Pass interface {
		Name() string
		Run(ctx context.Context, f *mir.Function) (bool, error)
	}

	ModulePass interface {
		Name() string
		RunModule(ctx context.Context, m *mir.Module) (bool, error)
	}

	// Manager runs passes in the order they were added.
	Manager struct {
		// MaxIterations bounds RunToFixpoint.
		MaxIterations int

		steps []step
	}

	step struct {
		pass   Pass
		module ModulePass
	}

	// Conditional runs Pass only on functions Cond accepts.
	Conditional struct {
		Pass
		Cond func(f *mir.Function) bool
	}

	// Fixpoint reruns Passes until none of them modifies the function.
	Fixpoint struct {
		Passes        []Pass
		MaxIterations int
	}
)

const DefaultMaxIterations = 10

func NewManager(ps ...Pass) *Manager {
	m := &Manager{MaxIterations: DefaultMaxIterations}

	return m.Add(ps...)
}

func (m *Manager) Add(ps ...Pass) *Manager {
	for _, p := range ps {
		m.steps = append(m.steps, step{pass: p})
	}

	return m
}

func (m *Manager) AddConditional(p Pass, cond func(f *mir.Function) bool) *Manager {
	return m.Add(Conditional{Pass: p, Cond: cond})
}

func (m *Manager) AddModule(p ModulePass) *Manager {
	m.steps = append(m.steps, step{module: p})

	return m
}

// Names lists the pipeline in execution order.
func (m *Manager) Names() []string {
	r := make([]string, len(m.steps))

	for i, s := range m.steps {
		if s.module != nil {
			r[i] = s.module.Name()
		} else {
			r[i] = s.pass.Name()
		}
	}

	return r
}

// Run applies function passes to f once, in order. Module passes are skipped.
func (m *Manager) Run(ctx context.Context, f *mir.Function) (modified bool, err error) {
	for _, s := range m.steps {
		if s.pass == nil {
			continue
		}

		mod, err := RunPass(ctx, s.pass, f)
		if err != nil {
			return modified, err
		}

		modified = modified || mod
	}

	return modified, nil
}

// RunToFixpoint repeats Run until no pass modifies f or MaxIterations is reached.
func (m *Manager) RunToFixpoint(ctx context.Context, f *mir.Function) (iters int, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "passes: fixpoint", "func", f.Name)
	defer tr.Finish("err", &err)

	limit := m.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}

	for iters < limit {
		iters++

		mod, err := m.Run(ctx, f)
		if err != nil {
			return iters, errors.Wrap(err, "iteration %d", iters)
		}

		if !mod {
			return iters, nil
		}
	}

	tr.Printw("iteration limit reached", "max", limit)

	return iters, nil
}

// RunModule applies every step in order. Function passes run over all functions.
func (m *Manager) RunModule(ctx context.Context, mod *mir.Module) (modified bool, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "passes: run module", "funcs", len(mod.Functions), "passes", m.Names())
	defer tr.Finish("err", &err)

	for _, s := range m.steps {
		if s.module != nil {
			ok, err := s.module.RunModule(ctx, mod)
			if err != nil {
				return modified, errors.Wrap(err, "%v", s.module.Name())
			}

			modified = modified || ok

			continue
		}

		for _, f := range mod.Functions {
			ok, err := RunPass(ctx, s.pass, f)
			if err != nil {
				return modified, errors.Wrap(err, "func %v", f.Name)
			}

			modified = modified || ok
		}
	}

	return modified, nil
}

// RunPass runs a single pass in its own span with optional MIR dumps around it.
func RunPass(ctx context.Context, p Pass, f *mir.Function) (modified bool, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "pass: "+p.Name(), "func", f.Name)
	defer tr.Finish("err", &err)

	if tr.If("dump_mir_before") {
		dump(tr, "mir before", f)
	}

	modified, err = p.Run(ctx, f)
	if err != nil {
		return modified, errors.Wrap(err, "%v", p.Name())
	}

	if modified && tr.If("dump_mir_after") {
		dump(tr, "mir after", f)
	}

	return modified, nil
}

func dump(tr tlog.Span, msg string, f *mir.Function) {
	text, err := mirtext.Format(nil, f)
	if err != nil {
		tr.Printw(msg, "func", f.Name, "err", err)
		return
	}

	tr.Printw(msg, "func", f.Name, "mir", string(text))
}

func (c Conditional) Run(ctx context.Context, f *mir.Function) (bool, error) {
	if c.Cond != nil && !c.Cond(f) {
		tlog.SpanFromContext(ctx).Printw("skipped", "pass", c.Pass.Name(), "func", f.Name)

		return false, nil
	}

	return c.Pass.Run(ctx, f)
}

func (x Fixpoint) Name() string {
	var b strings.Builder

	b.WriteString("fixpoint(")

	for i, p := range x.Passes {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(p.Name())
	}

	b.WriteString(")")

	return b.String()
}

func (x Fixpoint) Run(ctx context.Context, f *mir.Function) (modified bool, err error) {
	limit := x.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}

	for i := 0; i < limit; i++ {
		changed := false

		for _, p := range x.Passes {
			ok, err := RunPass(ctx, p, f)
			if err != nil {
				return modified, err
			}

			changed = changed || ok
		}

		if !changed {
			return modified, nil
		}

		modified = true
	}

	tlog.SpanFromContext(ctx).Printw("fixpoint iteration limit reached", "pass", x.Name(), "max", limit)

	return modified, nil
}

// FunctionUsesMemory reports whether f has any frame memory or pointer instruction.
func FunctionUsesMemory(f *mir.Function) bool {
	for _, b := range f.Blocks {
		for _, in := range b.Instructions {
			switch in.(type) {
			case *mir.FrameAlloc, *mir.Load, *mir.Store, *mir.AddressOf, *mir.GetElementPtr:
				return true
			}
		}
	}

	return false
}
