package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"consensusdeme/internal/agent"
	"consensusdeme/internal/consensus"
	"consensusdeme/internal/logging"
	"consensusdeme/internal/model"
	"consensusdeme/internal/random"
	"consensusdeme/internal/scape"
	"consensusdeme/internal/storage"

	"github.com/google/uuid"
)

type Config struct {
	Store  storage.Store
	Logger *slog.Logger
	// Scapes are registered on every Init.
	Scapes []scape.Scape
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

// BatchConfig describes one evaluation run: every program is scored on its
// own deme, seeded from Seed and its position in Programs.
type BatchConfig struct {
	RunID     string
	ScapeName string
	Seed      int64
	Workers   int
	Programs  []agent.Program
	// Observer receives tick samples from every worker and must be safe for
	// concurrent use.
	Observer func(index, trial int, sample consensus.TickSample)
}

type BatchResult struct {
	Run        model.RunRecord
	Phenotypes []model.Phenotype
	Best       model.Phenotype
}

type Polis struct {
	store storage.Store
	log   *slog.Logger

	mu sync.RWMutex

	scapes         map[string]scape.Scape
	started        bool
	lastStopReason StopReason
	runs           map[string]context.CancelFunc

	config Config
}

var (
	defaultPolisMu sync.Mutex
	defaultPolis   *Polis
)

func NewPolis(cfg Config) *Polis {
	return &Polis{
		store:          cfg.Store,
		log:            logging.OrDiscard(cfg.Logger),
		scapes:         make(map[string]scape.Scape),
		runs:           make(map[string]context.CancelFunc),
		config:         cfg,
		lastStopReason: StopReasonNormal,
	}
}

func StartDefault(ctx context.Context, cfg Config) (*Polis, error) {
	defaultPolisMu.Lock()
	defer defaultPolisMu.Unlock()

	if defaultPolis != nil && defaultPolis.Started() {
		return defaultPolis, nil
	}

	p := NewPolis(cfg)
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	defaultPolis = p
	return defaultPolis, nil
}

func Default() (*Polis, bool) {
	defaultPolisMu.Lock()
	p := defaultPolis
	defaultPolisMu.Unlock()

	if p == nil || !p.Started() {
		return nil, false
	}
	return p, true
}

func StopDefault(reason StopReason) error {
	defaultPolisMu.Lock()
	p := defaultPolis
	defaultPolisMu.Unlock()
	if p == nil {
		return nil
	}
	if err := p.StopWithReason(reason); err != nil {
		return err
	}
	defaultPolisMu.Lock()
	if defaultPolis == p {
		defaultPolis = nil
	}
	defaultPolisMu.Unlock()
	return nil
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}

	scapes := make(map[string]scape.Scape, len(p.config.Scapes))
	for i, s := range p.config.Scapes {
		if s == nil {
			return fmt.Errorf("scape is nil at index %d", i)
		}
		name := s.Name()
		if name == "" {
			return fmt.Errorf("scape name is required at index %d", i)
		}
		if _, exists := scapes[name]; exists {
			return fmt.Errorf("duplicate scape: %s", name)
		}
		scapes[name] = s
	}
	p.scapes = scapes
	p.started = true
	p.log.Debug("polis started", "scapes", len(scapes))
	return nil
}

// Reset stops the polis, wipes the store when it supports it, and starts
// again.
func (p *Polis) Reset(ctx context.Context) error {
	_ = p.StopWithReason(StopReasonShutdown)
	if resetter, ok := p.store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	}
	return p.Init(ctx)
}

func (p *Polis) Store() storage.Store { return p.store }

func (p *Polis) RegisterScape(s scape.Scape) error {
	if s == nil {
		return fmt.Errorf("scape is nil")
	}

	name := s.Name()
	if name == "" {
		return fmt.Errorf("scape name is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return fmt.Errorf("polis is not initialized")
	}
	p.scapes[name] = s
	return nil
}

func (p *Polis) GetScape(name string) (scape.Scape, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.scapes[name]
	return s, ok
}

func (p *Polis) Stop() {
	_ = p.StopWithReason(StopReasonNormal)
}

func (p *Polis) Shutdown() {
	_ = p.StopWithReason(StopReasonShutdown)
}

// StopWithReason cancels active batches and forgets registered scapes.
func (p *Polis) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	if !isValidStopReason(reason) {
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.runs {
		cancel()
	}

	p.started = false
	p.lastStopReason = reason
	p.scapes = make(map[string]scape.Scape)
	p.runs = make(map[string]context.CancelFunc)
	return nil
}

// StopRun cancels an active batch. Candidates already evaluated are
// discarded along with the rest of the run.
func (p *Polis) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.RLock()
	cancel, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Polis) registerRun(runID string, cancel context.CancelFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return fmt.Errorf("polis is not initialized")
	}
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	p.runs[runID] = cancel
	return nil
}

func (p *Polis) unregisterRun(runID string) {
	p.mu.Lock()
	delete(p.runs, runID)
	p.mu.Unlock()
}

// EvaluateBatch scores every program in cfg on the named scape using a
// worker pool, then persists the run, its phenotypes and the scape summary.
// Results do not depend on the worker count.
func (p *Polis) EvaluateBatch(ctx context.Context, cfg BatchConfig) (BatchResult, error) {
	if len(cfg.Programs) == 0 {
		return BatchResult{}, fmt.Errorf("at least one program is required")
	}
	if cfg.ScapeName == "" {
		return BatchResult{}, fmt.Errorf("scape name is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	p.mu.RLock()
	target, ok := p.scapes[cfg.ScapeName]
	started := p.started
	p.mu.RUnlock()

	if !started {
		return BatchResult{}, fmt.Errorf("polis is not initialized")
	}
	if !ok {
		return BatchResult{}, fmt.Errorf("scape not registered: %s", cfg.ScapeName)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.registerRun(runID, cancel); err != nil {
		return BatchResult{}, err
	}
	defer p.unregisterRun(runID)

	p.log.Info("batch started",
		"run_id", runID,
		"scape", cfg.ScapeName,
		"candidates", len(cfg.Programs),
		"workers", cfg.Workers,
		"seed", cfg.Seed,
	)
	begin := time.Now()
	phenotypes, err := p.evaluateAll(runCtx, target, runID, cfg)
	if err != nil {
		p.log.Warn("batch aborted", "run_id", runID, "err", err)
		return BatchResult{}, err
	}

	best := phenotypes[0]
	for _, ph := range phenotypes[1:] {
		if ph.Fitness > best.Fitness {
			best = ph
		}
	}
	run := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              runID,
		Scape:           cfg.ScapeName,
		Seed:            cfg.Seed,
		Candidates:      len(phenotypes),
		Workers:         cfg.Workers,
		BestCandidate:   best.Candidate,
		BestFitness:     best.Fitness,
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := p.store.SaveRun(ctx, run); err != nil {
		return BatchResult{}, err
	}
	if err := p.store.SavePhenotypes(ctx, runID, phenotypes); err != nil {
		return BatchResult{}, err
	}
	if err := p.updateScapeSummary(ctx, cfg.ScapeName, best, len(phenotypes)); err != nil {
		return BatchResult{}, err
	}
	p.log.Info("batch finished",
		"run_id", runID,
		"best_candidate", best.Candidate,
		"best_fitness", best.Fitness,
		"elapsed", time.Since(begin),
	)
	return BatchResult{Run: run, Phenotypes: phenotypes, Best: best}, nil
}

func (p *Polis) evaluateAll(ctx context.Context, target scape.Scape, runID string, cfg BatchConfig) ([]model.Phenotype, error) {
	type job struct {
		idx     int
		program agent.Program
	}
	type result struct {
		idx       int
		phenotype model.Phenotype
		err       error
	}

	jobs := make(chan job)
	results := make(chan result, len(cfg.Programs))

	workerCount := cfg.Workers
	if workerCount > len(cfg.Programs) {
		workerCount = len(cfg.Programs)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				phenotype, err := p.evaluateOne(ctx, target, cfg, j.idx, j.program)
				if err != nil {
					results <- result{idx: j.idx, err: fmt.Errorf("candidate %d (%s): %w", j.idx, j.program.Name, err)}
					continue
				}
				phenotype.RunID = runID
				results <- result{idx: j.idx, phenotype: phenotype}
			}
		}()
	}

	for i, prog := range cfg.Programs {
		jobs <- job{idx: i, program: prog}
	}
	close(jobs)

	wg.Wait()
	close(results)

	phenotypes := make([]model.Phenotype, len(cfg.Programs))
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		phenotypes[res.idx] = res.phenotype
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return phenotypes, nil
}

func (p *Polis) evaluateOne(ctx context.Context, target scape.Scape, cfg BatchConfig, idx int, prog agent.Program) (model.Phenotype, error) {
	seed := random.Derive(cfg.Seed, idx)
	candidate := scape.NewCandidate(fmt.Sprintf("c%d-%s", idx, prog.Name), prog, seed)

	var phenotype model.Phenotype
	if runner, ok := target.(scape.TrialRunner); ok {
		var observe scape.TrialObserver
		if cfg.Observer != nil {
			observe = func(trial int, sample consensus.TickSample) { cfg.Observer(idx, trial, sample) }
		}
		ph, err := runner.Run(ctx, prog, seed, observe)
		if err != nil {
			return model.Phenotype{}, err
		}
		phenotype = ph
	} else {
		fitness, _, err := target.Evaluate(ctx, candidate)
		if err != nil {
			return model.Phenotype{}, err
		}
		phenotype = model.Phenotype{Program: prog.Name, Seed: seed, Fitness: float64(fitness)}
	}
	phenotype.VersionedRecord = storage.CurrentVersion()
	phenotype.Index = idx
	phenotype.Candidate = candidate.ID()
	p.log.Log(ctx, logging.LevelTrace, "candidate evaluated",
		"candidate", phenotype.Candidate,
		"fitness", phenotype.Fitness,
		"trials", len(phenotype.Trials),
	)
	return phenotype, nil
}

func (p *Polis) updateScapeSummary(ctx context.Context, scapeName string, best model.Phenotype, evaluations int) error {
	summary, ok, err := p.store.GetScapeSummary(ctx, scapeName)
	if err != nil {
		return err
	}
	if !ok {
		summary = model.ScapeSummary{
			VersionedRecord: storage.CurrentVersion(),
			Name:            scapeName,
			Description:     fmt.Sprintf("best observed fitness for scape %s", scapeName),
			BestFitness:     best.Fitness,
			BestProgram:     best.Program,
		}
	}
	if best.Fitness > summary.BestFitness {
		summary.BestFitness = best.Fitness
		summary.BestProgram = best.Program
	}
	summary.Evaluations += evaluations
	return p.store.SaveScapeSummary(ctx, summary)
}

func (p *Polis) RegisteredScapes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.scapes))
	for name := range p.scapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) LastStopReason() StopReason {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastStopReason
}

func isValidStopReason(reason StopReason) bool {
	switch reason {
	case StopReasonNormal, StopReasonShutdown:
		return true
	default:
		return false
	}
}
