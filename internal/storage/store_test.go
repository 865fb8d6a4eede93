package storage

import (
	"context"
	"testing"

	"consensusdeme/internal/model"
)

func sampleRun(id, created string) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: CurrentVersion(),
		ID:              id,
		Scape:           "election",
		Seed:            7,
		Candidates:      2,
		Workers:         2,
		BestCandidate:   "max-gossip",
		BestFitness:     512,
		CreatedAtUTC:    created,
	}
}

func samplePhenotypes(runID string) []model.Phenotype {
	return []model.Phenotype{
		{
			VersionedRecord: CurrentVersion(),
			RunID:           runID,
			Index:           0,
			Candidate:       "c0",
			Program:         "max-gossip",
			Seed:            7,
			Fitness:         512,
			Trials: []model.TrialResult{
				{Trial: 0, ValidVotes: 25, MaxVotes: 25, Leader: 99, FullConsensusTime: 20, Score: 550},
				{Trial: 1, ValidVotes: 25, MaxVotes: 25, Leader: 98, FullConsensusTime: 18, Score: 500},
			},
		},
		{
			VersionedRecord: CurrentVersion(),
			RunID:           runID,
			Index:           1,
			Candidate:       "c1",
			Program:         "idle",
			Seed:            8,
			Trials:          []model.TrialResult{{Trial: 0}},
		},
	}
}

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.SaveRun(ctx, sampleRun("run-a", "2026-01-01T00:00:00Z")); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-b", "2026-02-01T00:00:00Z")); err != nil {
		t.Fatalf("save run: %v", err)
	}
	run, ok, err := store.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || run.BestCandidate != "max-gossip" || run.Seed != 7 {
		t.Fatalf("unexpected run: ok=%t %+v", ok, run)
	}
	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, got ok=%t err=%v", ok, err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" || runs[1].ID != "run-a" {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	input := samplePhenotypes("run-a")
	if err := store.SavePhenotypes(ctx, "run-a", input); err != nil {
		t.Fatalf("save phenotypes: %v", err)
	}
	input[0].Trials[0].Score = -1
	output, ok, err := store.GetPhenotypes(ctx, "run-a")
	if err != nil {
		t.Fatalf("get phenotypes: %v", err)
	}
	if !ok || len(output) != 2 {
		t.Fatalf("unexpected phenotypes: ok=%t %+v", ok, output)
	}
	if output[0].Trials[0].Score != 550 || output[0].Trials[1].FullConsensusTime != 18 {
		t.Fatalf("stored phenotypes alias caller data: %+v", output[0].Trials)
	}

	summary := model.ScapeSummary{
		VersionedRecord: CurrentVersion(),
		Name:            "election",
		Description:     "best observed fitness",
		BestFitness:     512,
		BestProgram:     "max-gossip",
		Evaluations:     2,
	}
	if err := store.SaveScapeSummary(ctx, summary); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	loaded, ok, err := store.GetScapeSummary(ctx, "election")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if !ok || loaded != summary {
		t.Fatalf("unexpected summary: ok=%t %+v", ok, loaded)
	}

	resetter, ok := store.(Resetter)
	if !ok {
		t.Fatal("expected store to support reset")
	}
	if err := resetter.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runs, err = store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs after reset: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs after reset, got %d", len(runs))
	}
	if _, ok, _ := store.GetScapeSummary(ctx, "election"); ok {
		t.Fatal("summary survived reset")
	}
}
