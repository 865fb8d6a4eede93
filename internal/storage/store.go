package storage

import (
	"context"

	"consensusdeme/internal/model"
)

// Store persists evaluation runs, their phenotypes, and per-scape summaries.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SavePhenotypes(ctx context.Context, runID string, phenotypes []model.Phenotype) error
	GetPhenotypes(ctx context.Context, runID string) ([]model.Phenotype, bool, error)
	SaveScapeSummary(ctx context.Context, summary model.ScapeSummary) error
	GetScapeSummary(ctx context.Context, name string) (model.ScapeSummary, bool, error)
}

// Resetter is implemented by stores that can drop everything they hold.
type Resetter interface {
	Reset(ctx context.Context) error
}
