package platform

import (
	"context"
	"sync"
	"testing"

	"consensusdeme/internal/agent"
	"consensusdeme/internal/consensus"
	"consensusdeme/internal/scape"
	"consensusdeme/internal/storage"
)

type testScape struct {
	name    string
	fitness scape.Fitness
}

func (s testScape) Name() string {
	if s.name == "" {
		return "noop"
	}
	return s.name
}

func (s testScape) Evaluate(context.Context, scape.Agent) (scape.Fitness, scape.Trace, error) {
	return s.fitness, scape.Trace{"status": "ok"}, nil
}

func newElection(t *testing.T) *scape.ElectionScape {
	t.Helper()
	cfg := scape.DefaultElectionConfig()
	cfg.Deme.Width, cfg.Deme.Height = 3, 3
	cfg.EvalTime = 30
	cfg.TrialCount = 2
	s, err := scape.NewElectionScape(cfg)
	if err != nil {
		t.Fatalf("new election scape: %v", err)
	}
	return s
}

func programs(t *testing.T, names ...string) []agent.Program {
	t.Helper()
	out := make([]agent.Program, 0, len(names))
	for _, name := range names {
		p, err := agent.LookupProgram(name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		out = append(out, p)
	}
	return out
}

func startedPolis(t *testing.T, scapes ...scape.Scape) *Polis {
	t.Helper()
	p := NewPolis(Config{Store: storage.NewMemoryStore(), Scapes: scapes})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	return p
}

func TestPolisInitAndRegisterScape(t *testing.T) {
	p := startedPolis(t)
	if !p.Started() {
		t.Fatal("polis should be started after init")
	}
	if err := p.RegisterScape(testScape{}); err != nil {
		t.Fatalf("register scape failed: %v", err)
	}
	if len(p.RegisteredScapes()) != 1 {
		t.Fatalf("expected 1 registered scape, got %d", len(p.RegisteredScapes()))
	}
	if _, ok := p.GetScape("noop"); !ok {
		t.Fatal("expected get scape to resolve registered scape")
	}
}

func TestPolisInitRegistersConfiguredScapes(t *testing.T) {
	p := startedPolis(t, newElection(t), testScape{name: "flat"})
	names := p.RegisteredScapes()
	if len(names) != 2 || names[0] != scape.ElectionName || names[1] != "flat" {
		t.Fatalf("unexpected scapes: %v", names)
	}

	dup := NewPolis(Config{Store: storage.NewMemoryStore(), Scapes: []scape.Scape{testScape{}, testScape{}}})
	if err := dup.Init(context.Background()); err == nil {
		t.Fatal("expected duplicate scape error")
	}
}

func TestPolisLifecycleStopAndReinit(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore()})

	if err := p.RegisterScape(testScape{}); err == nil {
		t.Fatal("expected register scape to fail before init")
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("second init should be idempotent: %v", err)
	}
	if err := p.RegisterScape(testScape{}); err != nil {
		t.Fatalf("register scape failed: %v", err)
	}

	p.Stop()
	if p.Started() {
		t.Fatal("expected polis stopped after stop call")
	}
	if p.LastStopReason() != StopReasonNormal {
		t.Fatalf("expected stop reason %q, got=%q", StopReasonNormal, p.LastStopReason())
	}
	if len(p.RegisteredScapes()) != 0 {
		t.Fatalf("expected scapes cleared after stop, got %d", len(p.RegisteredScapes()))
	}

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
	if !p.Started() {
		t.Fatal("expected polis started after re-init")
	}
}

func TestPolisStopWithReasonRejectsInvalidReason(t *testing.T) {
	p := startedPolis(t)
	if err := p.StopWithReason("crash"); err == nil {
		t.Fatal("expected invalid reason error")
	}
	if !p.Started() {
		t.Fatal("invalid stop reason should not stop the polis")
	}
}

func TestStartDefaultReusesRunningPolis(t *testing.T) {
	cfg := Config{Store: storage.NewMemoryStore()}
	first, err := StartDefault(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start default: %v", err)
	}
	second, err := StartDefault(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start default again: %v", err)
	}
	if first != second {
		t.Fatal("expected the running default polis to be reused")
	}
	if got, ok := Default(); !ok || got != first {
		t.Fatal("expected Default to return the running polis")
	}
	if err := StopDefault(StopReasonShutdown); err != nil {
		t.Fatalf("stop default: %v", err)
	}
	if _, ok := Default(); ok {
		t.Fatal("expected no default polis after stop")
	}
	if first.LastStopReason() != StopReasonShutdown {
		t.Fatalf("expected shutdown reason, got %q", first.LastStopReason())
	}
}

func TestEvaluateBatchPersistsRun(t *testing.T) {
	ctx := context.Background()
	p := startedPolis(t, newElection(t))

	result, err := p.EvaluateBatch(ctx, BatchConfig{
		RunID:     "run-1",
		ScapeName: scape.ElectionName,
		Seed:      5,
		Workers:   2,
		Programs:  programs(t, "idle", "max-gossip", "self-vote"),
	})
	if err != nil {
		t.Fatalf("evaluate batch: %v", err)
	}
	if len(result.Phenotypes) != 3 {
		t.Fatalf("expected 3 phenotypes, got %d", len(result.Phenotypes))
	}
	for i, ph := range result.Phenotypes {
		if ph.Index != i || ph.RunID != "run-1" || ph.Seed != int64(5+i) || len(ph.Trials) != 2 {
			t.Fatalf("unexpected phenotype %d: %+v", i, ph)
		}
	}
	if result.Best.Program != "max-gossip" {
		t.Fatalf("expected max-gossip to win, got %+v", result.Best)
	}

	run, ok, err := p.Store().GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("expected stored run, ok=%t err=%v", ok, err)
	}
	if run.BestCandidate != result.Best.Candidate || run.Candidates != 3 {
		t.Fatalf("unexpected run record: %+v", run)
	}
	stored, ok, err := p.Store().GetPhenotypes(ctx, "run-1")
	if err != nil || !ok || len(stored) != 3 {
		t.Fatalf("expected stored phenotypes, ok=%t err=%v n=%d", ok, err, len(stored))
	}

	summary, ok, err := p.Store().GetScapeSummary(ctx, scape.ElectionName)
	if err != nil || !ok {
		t.Fatalf("expected scape summary, ok=%t err=%v", ok, err)
	}
	if summary.BestFitness != result.Best.Fitness || summary.BestProgram != "max-gossip" || summary.Evaluations != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if _, err := p.EvaluateBatch(ctx, BatchConfig{
		RunID:     "run-2",
		ScapeName: scape.ElectionName,
		Seed:      5,
		Programs:  programs(t, "idle"),
	}); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	summary, _, _ = p.Store().GetScapeSummary(ctx, scape.ElectionName)
	if summary.Evaluations != 4 || summary.BestProgram != "max-gossip" {
		t.Fatalf("summary should accumulate and keep the best: %+v", summary)
	}
}

func TestEvaluateBatchIndependentOfWorkerCount(t *testing.T) {
	ctx := context.Background()
	progs := programs(t, "facing-relay", "max-gossip", "polled-max", "self-vote", "facing-relay")
	var fitness [][]float64
	for _, workers := range []int{1, 4} {
		p := startedPolis(t, newElection(t))
		result, err := p.EvaluateBatch(ctx, BatchConfig{ScapeName: scape.ElectionName, Seed: 9, Workers: workers, Programs: progs})
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		row := make([]float64, 0, len(result.Phenotypes))
		for _, ph := range result.Phenotypes {
			row = append(row, ph.Fitness)
		}
		fitness = append(fitness, row)
	}
	for i := range fitness[0] {
		if fitness[0][i] != fitness[1][i] {
			t.Fatalf("candidate %d differs across worker counts: %v vs %v", i, fitness[0], fitness[1])
		}
	}
}

func TestEvaluateBatchGeneratesRunID(t *testing.T) {
	p := startedPolis(t, testScape{name: "flat", fitness: 3})
	result, err := p.EvaluateBatch(context.Background(), BatchConfig{ScapeName: "flat", Programs: programs(t, "idle")})
	if err != nil {
		t.Fatalf("evaluate batch: %v", err)
	}
	if result.Run.ID == "" || result.Best.Fitness != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(p.ActiveRuns()) != 0 {
		t.Fatalf("run should be unregistered after completion: %v", p.ActiveRuns())
	}
}

func TestEvaluateBatchStreamsTickSamples(t *testing.T) {
	p := startedPolis(t, newElection(t))
	var (
		mu    sync.Mutex
		ticks = map[int]int{}
	)
	_, err := p.EvaluateBatch(context.Background(), BatchConfig{
		ScapeName: scape.ElectionName,
		Workers:   2,
		Programs:  programs(t, "self-vote", "idle"),
		Observer: func(index, _ int, _ consensus.TickSample) {
			mu.Lock()
			ticks[index]++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("evaluate batch: %v", err)
	}
	if ticks[0] != 60 || ticks[1] != 60 {
		t.Fatalf("expected 60 samples per candidate, got %v", ticks)
	}
}

func TestEvaluateBatchErrors(t *testing.T) {
	ctx := context.Background()
	p := startedPolis(t, newElection(t))

	if _, err := p.EvaluateBatch(ctx, BatchConfig{ScapeName: scape.ElectionName}); err == nil {
		t.Fatal("expected error without programs")
	}
	if _, err := p.EvaluateBatch(ctx, BatchConfig{ScapeName: "missing", Programs: programs(t, "idle")}); err == nil {
		t.Fatal("expected unregistered scape error")
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.EvaluateBatch(cancelled, BatchConfig{ScapeName: scape.ElectionName, Programs: programs(t, "idle")}); err == nil {
		t.Fatal("expected cancellation error")
	}
	if err := p.StopRun("nope"); err == nil {
		t.Fatal("expected error stopping an inactive run")
	}

	p.Stop()
	if _, err := p.EvaluateBatch(ctx, BatchConfig{ScapeName: scape.ElectionName, Programs: programs(t, "idle")}); err == nil {
		t.Fatal("expected error on stopped polis")
	}
}

func TestPolisResetClearsStore(t *testing.T) {
	ctx := context.Background()
	p := startedPolis(t, testScape{name: "flat", fitness: 1})
	if _, err := p.EvaluateBatch(ctx, BatchConfig{RunID: "r", ScapeName: "flat", Programs: programs(t, "idle")}); err != nil {
		t.Fatalf("evaluate batch: %v", err)
	}
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !p.Started() {
		t.Fatal("polis should restart after reset")
	}
	if _, ok, _ := p.Store().GetRun(ctx, "r"); ok {
		t.Fatal("run survived reset")
	}
	if _, ok := p.GetScape("flat"); !ok {
		t.Fatal("configured scapes should be registered again after reset")
	}
}
