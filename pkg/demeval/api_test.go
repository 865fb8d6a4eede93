package demeval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"consensusdeme/internal/stats"
)

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:  "memory",
		DataDir:    filepath.Join(base, "runs"),
		ExportsDir: filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func smallExperiment() Experiment {
	exp := DefaultExperiment()
	exp.Width = 3
	exp.Height = 3
	exp.EvalTime = 30
	exp.TrialCount = 2
	exp.MinID = 1
	exp.MaxID = 1000
	exp.Seed = 11
	exp.Workers = 2
	return exp
}

func TestClientBatchRunsPhenotypesAndExport(t *testing.T) {
	client, base := newTestClient(t)
	ctx := context.Background()

	exp := smallExperiment()
	exp.TickTrace = true
	summary, err := client.Batch(ctx, BatchRequest{
		Experiment: exp,
		Programs:   []string{"idle", "max-gossip"},
		Repeat:     2,
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if summary.RunID == "" {
		t.Fatal("expected run id")
	}
	if len(summary.Phenotypes) != 4 {
		t.Fatalf("expected 4 phenotypes, got %d", len(summary.Phenotypes))
	}
	if summary.Best.Program != "max-gossip" {
		t.Fatalf("expected max-gossip to win, got %+v", summary.Best)
	}
	if want := 4 * exp.TrialCount * exp.EvalTime; summary.TickEntries != want {
		t.Fatalf("expected %d tick entries, got %d", want, summary.TickEntries)
	}
	for _, file := range []string{"config.json", "phenotypes.json", "dominant.csv", stats.TickTraceFile} {
		if _, err := os.Stat(filepath.Join(summary.ArtifactsDir, file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID {
		t.Fatalf("expected run %s in index: %+v", summary.RunID, runs)
	}
	if runs[0].Candidates != 4 || runs[0].BestFitness != summary.Best.Fitness {
		t.Fatalf("unexpected run item: %+v", runs[0])
	}

	phenotypes, err := client.Phenotypes(ctx, PhenotypesRequest{Latest: true})
	if err != nil {
		t.Fatalf("phenotypes: %v", err)
	}
	if len(phenotypes) != 4 {
		t.Fatalf("expected 4 stored phenotypes, got %d", len(phenotypes))
	}

	scapeSummary, err := client.ScapeSummary(ctx, "election")
	if err != nil {
		t.Fatalf("scape summary: %v", err)
	}
	if scapeSummary.Evaluations != 4 || scapeSummary.BestProgram != "max-gossip" {
		t.Fatalf("unexpected scape summary: %+v", scapeSummary)
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.RunID != summary.RunID {
		t.Fatalf("expected export of %s, got %s", summary.RunID, exported.RunID)
	}
	if !strings.HasPrefix(exported.Directory, filepath.Join(base, "exports")) {
		t.Fatalf("unexpected export directory: %s", exported.Directory)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, stats.TickTraceFile)); err != nil {
		t.Fatalf("expected exported tick trace: %v", err)
	}
}

func TestClientBatchRepeatUsesDistinctSeeds(t *testing.T) {
	client, _ := newTestClient(t)
	summary, err := client.Batch(context.Background(), BatchRequest{
		Experiment: smallExperiment(),
		Programs:   []string{"max-gossip"},
		Repeat:     3,
		RunID:      "repeat-run",
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if summary.RunID != "repeat-run" {
		t.Fatalf("expected requested run id, got %s", summary.RunID)
	}
	seen := map[int64]bool{}
	for _, ph := range summary.Phenotypes {
		if seen[ph.Seed] {
			t.Fatalf("duplicate seed %d", ph.Seed)
		}
		seen[ph.Seed] = true
	}
}

func TestClientBatchDefaultsToExperimentProgram(t *testing.T) {
	client, _ := newTestClient(t)
	exp := smallExperiment()
	exp.Program = "self-vote"
	summary, err := client.Batch(context.Background(), BatchRequest{Experiment: exp})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(summary.Phenotypes) != 1 || summary.Phenotypes[0].Program != "self-vote" {
		t.Fatalf("unexpected phenotypes: %+v", summary.Phenotypes)
	}
	if summary.TickEntries != 0 {
		t.Fatalf("expected no tick trace, got %d entries", summary.TickEntries)
	}
}

func TestClientBatchRejectsUnknownProgram(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.Batch(context.Background(), BatchRequest{
		Experiment: smallExperiment(),
		Programs:   []string{"does-not-exist"},
	})
	if err == nil {
		t.Fatal("expected unknown program error")
	}
}

func TestClientEvaluateMatchesBatchCandidate(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	exp := smallExperiment()
	exp.Program = "max-gossip"
	summary, err := client.Batch(ctx, BatchRequest{Experiment: exp})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	exp.Seed = summary.Phenotypes[0].Seed
	single, err := client.Evaluate(ctx, exp)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if single.Fitness != summary.Phenotypes[0].Fitness {
		t.Fatalf("fitness mismatch: evaluate=%f batch=%f", single.Fitness, summary.Phenotypes[0].Fitness)
	}
	if single.Candidate != "max-gossip" {
		t.Fatalf("unexpected candidate name: %s", single.Candidate)
	}
}

func TestClientEvaluateValidatesExperiment(t *testing.T) {
	client, _ := newTestClient(t)
	exp := smallExperiment()
	exp.Policy = "carrier-pigeon"
	if _, err := client.Evaluate(context.Background(), exp); err == nil {
		t.Fatal("expected validation error")
	}
	exp = smallExperiment()
	exp.Program = ""
	if _, err := client.Evaluate(context.Background(), exp); err == nil {
		t.Fatal("expected missing program error")
	}
}

func TestClientRunSelectionErrors(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected error without run id or latest")
	}
	if _, err := client.Export(ctx, ExportRequest{RunID: "a", Latest: true}); err == nil {
		t.Fatal("expected error with both run id and latest")
	}
	if _, err := client.Phenotypes(ctx, PhenotypesRequest{Latest: true}); err == nil {
		t.Fatal("expected error when no runs exist")
	}
	if _, err := client.Phenotypes(ctx, PhenotypesRequest{RunID: "missing"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
	if _, err := client.ScapeSummary(ctx, "election"); err == nil {
		t.Fatal("expected missing scape summary error")
	}
}

func TestClientResetClearsStore(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	if _, err := client.Batch(ctx, BatchRequest{Experiment: smallExperiment(), Programs: []string{"self-vote"}}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if err := client.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := client.ScapeSummary(ctx, "election"); err == nil {
		t.Fatal("expected scape summary to be gone after reset")
	}
}

func TestClientProgramsListsBuiltIns(t *testing.T) {
	client, _ := newTestClient(t)
	names := strings.Join(client.Programs(), ",")
	for _, want := range []string{"idle", "self-vote", "max-gossip", "facing-relay", "polled-max"} {
		if !strings.Contains(names, want) {
			t.Fatalf("expected %s in %s", want, names)
		}
	}
}
