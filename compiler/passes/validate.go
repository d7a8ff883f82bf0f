package passes

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/mir"
)

type (
	ValidationConfig struct {
		// CheckSSA requires a single definition per value and defined uses.
		CheckSSA bool

		// Verbose logs the function text along with any finding.
		Verbose bool

		// Fatal makes findings fail the pipeline. Otherwise they are only logged.
		Fatal bool
	}

	// Validation checks function structure without modifying it.
	Validation struct {
		Config ValidationConfig

		postSSA bool
	}

	// ModuleValidation checks calls across functions.
	ModuleValidation struct {
		Config ValidationConfig
	}
)

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{CheckSSA: true, Fatal: true}
}

func NewValidation(cfg ValidationConfig) *Validation {
	return &Validation{Config: cfg}
}

// NewPostSSAValidation checks functions after SSA destruction.
// Phis are forbidden and values may be defined more than once.
func NewPostSSAValidation(cfg ValidationConfig) *Validation {
	cfg.CheckSSA = false

	return &Validation{Config: cfg, postSSA: true}
}

func (v *Validation) Name() string {
	if v.postSSA {
		return "validate_post_ssa"
	}

	return "validate"
}

func (v *Validation) Run(ctx context.Context, f *mir.Function) (bool, error) {
	err := v.check(f)
	if err == nil {
		return false, nil
	}

	return false, report(ctx, v.Config, f, err)
}

func (v *Validation) check(f *mir.Function) error {
	err := f.Validate()
	if err != nil {
		return err
	}

	if v.Config.CheckSSA {
		err = f.ValidateSSA()
		if err != nil {
			return err
		}
	}

	if v.postSSA {
		if n := f.CountPhis(); n != 0 {
			return errors.New("%d phis after ssa destruction", n)
		}
	}

	return nil
}

func NewModuleValidation(cfg ValidationConfig) ModuleValidation {
	return ModuleValidation{Config: cfg}
}

func (ModuleValidation) Name() string { return "validate_module" }

func (v ModuleValidation) RunModule(ctx context.Context, m *mir.Module) (bool, error) {
	err := m.Validate()
	if err == nil {
		return false, nil
	}

	return false, report(ctx, v.Config, nil, err)
}

func report(ctx context.Context, cfg ValidationConfig, f *mir.Function, err error) error {
	tr := tlog.SpanFromContext(ctx)

	if cfg.Verbose && f != nil {
		dump(tr, "invalid mir", f)
	}

	if !cfg.Fatal {
		tr.Printw("validation failed", "err", err)

		return nil
	}

	return errors.Wrap(err, "invalid mir")
}
