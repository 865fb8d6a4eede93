package scape

import (
	"context"

	"consensusdeme/internal/agent"
	"consensusdeme/internal/model"
)

type Fitness float64

type Trace map[string]any

type Agent interface {
	ID() string
}

type Scape interface {
	Name() string
	Evaluate(ctx context.Context, a Agent) (Fitness, Trace, error)
}

// TrialRunner is implemented by scapes that can report per-trial results and
// stream tick samples while they evaluate.
type TrialRunner interface {
	Scape
	Run(ctx context.Context, prog agent.Program, seed int64, observe TrialObserver) (model.Phenotype, error)
}
