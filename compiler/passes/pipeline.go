package passes

import (
	"tlog.app/go/errors"
)

type (
	Pipeline int
)

const (
	PipelineBasic Pipeline = iota
	PipelineStandard
	PipelineAggressive
)

var pipelineNames = []string{
	PipelineBasic:      "basic",
	PipelineStandard:   "standard",
	PipelineAggressive: "aggressive",
}

func (p Pipeline) String() string {
	if p >= 0 && int(p) < len(pipelineNames) {
		return pipelineNames[p]
	}

	return "pipeline?"
}

func ParsePipeline(s string) (Pipeline, error) {
	for p, n := range pipelineNames {
		if n == s {
			return Pipeline(p), nil
		}
	}

	return 0, errors.New("unknown pipeline: %q", s)
}

// New builds the manager for the pipeline.
func New(p Pipeline, cfg ValidationConfig) (*Manager, error) {
	switch p {
	case PipelineBasic:
		return BasicPipeline(cfg), nil
	case PipelineStandard:
		return StandardPipeline(cfg), nil
	case PipelineAggressive:
		return AggressivePipeline(cfg), nil
	}

	return nil, errors.New("unsupported pipeline: %v", p)
}

// BasicPipeline lowers out of SSA and cleans up.
func BasicPipeline(cfg ValidationConfig) *Manager {
	return NewManager().
		AddModule(NewModuleValidation(cfg)).
		Add(
			NewValidation(cfg),
			NewSSADestruction(),
			NewDeadCodeElimination(),
			NewPostSSAValidation(cfg),
		)
}

func StandardPipeline(cfg ValidationConfig) *Manager {
	return NewManager().
		AddModule(NewModuleValidation(cfg)).
		Add(NewValidation(cfg)).
		AddConditional(NewPreOptimization(), FunctionUsesMemory).
		Add(
			NewDeadCodeElimination(),
			NewValidation(cfg),
			NewSSADestruction(),
			NewFuseCmpBranch(),
			NewDeadCodeElimination(),
			NewPostSSAValidation(cfg),
		)
}

// AggressivePipeline is StandardPipeline with cleanup repeated until nothing changes.
func AggressivePipeline(cfg ValidationConfig) *Manager {
	return NewManager().
		AddModule(NewModuleValidation(cfg)).
		Add(NewValidation(cfg)).
		AddConditional(NewPreOptimization(), FunctionUsesMemory).
		Add(
			Fixpoint{Passes: []Pass{NewDeadCodeElimination()}},
			NewValidation(cfg),
			NewSSADestruction(),
			Fixpoint{Passes: []Pass{NewFuseCmpBranch(), NewDeadCodeElimination()}},
			NewPostSSAValidation(cfg),
		)
}
