// Package demeval evaluates consensus programs on simulated demes and keeps
// the results in a store plus an on-disk artifact tree.
package demeval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"consensusdeme/internal/agent"
	"consensusdeme/internal/config"
	"consensusdeme/internal/logging"
	"consensusdeme/internal/model"
	"consensusdeme/internal/platform"
	"consensusdeme/internal/scape"
	"consensusdeme/internal/stats"
	"consensusdeme/internal/storage"

	"github.com/google/uuid"
)

const (
	defaultDataDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "consensusdeme.db"
)

type (
	Experiment  = config.Experiment
	Phenotype   = model.Phenotype
	TrialResult = model.TrialResult
)

func DefaultExperiment() Experiment { return config.Default() }

type Options struct {
	StoreKind  string
	DBPath     string
	DataDir    string
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	store storage.Store
	log   *slog.Logger

	dataDir    string
	exportsDir string
	inited     bool
}

type BatchRequest struct {
	Experiment Experiment
	// Programs are registry names. Empty means Experiment.Program.
	Programs []string
	// Repeat evaluates each program this many times with distinct seeds.
	Repeat int
	RunID  string
}

type BatchSummary struct {
	RunID        string
	ArtifactsDir string
	Run          model.RunRecord
	Best         Phenotype
	Phenotypes   []Phenotype
	TickEntries  int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID         string
	CreatedAtUTC  string
	Scape         string
	Seed          int64
	Candidates    int
	Workers       int
	BestCandidate string
	BestFitness   float64
}

type PhenotypesRequest struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type ScapeSummaryItem struct {
	Name        string
	Description string
	BestFitness float64
	BestProgram string
	Evaluations int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		log:        logging.OrDiscard(opts.Logger),
		dataDir:    dataDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.inited {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.inited = true
	return nil
}

func (c *Client) Reset(ctx context.Context) error {
	p := c.newPolis(nil)
	if err := p.Reset(ctx); err != nil {
		return err
	}
	c.inited = true
	return nil
}

// Programs lists the names accepted in requests.
func (c *Client) Programs() []string { return agent.ListPrograms() }

// Evaluate scores exp.Program on its own without persisting anything.
func (c *Client) Evaluate(ctx context.Context, exp Experiment) (Phenotype, error) {
	if err := exp.Validate(); err != nil {
		return Phenotype{}, err
	}
	if exp.Program == "" {
		return Phenotype{}, errors.New("program is required")
	}
	prog, err := agent.LookupProgram(exp.Program)
	if err != nil {
		return Phenotype{}, err
	}
	election, err := electionFor(exp)
	if err != nil {
		return Phenotype{}, err
	}
	phenotype, err := election.Run(ctx, prog, exp.Seed, nil)
	if err != nil {
		return Phenotype{}, err
	}
	phenotype.Candidate = prog.Name
	phenotype.VersionedRecord = storage.CurrentVersion()
	c.log.Debug("program evaluated", "program", prog.Name, "seed", exp.Seed, "fitness", phenotype.Fitness)
	return phenotype, nil
}

// Batch evaluates every requested program, persists the run and writes its
// artifacts under the data directory.
func (c *Client) Batch(ctx context.Context, req BatchRequest) (BatchSummary, error) {
	exp := req.Experiment
	if err := exp.Validate(); err != nil {
		return BatchSummary{}, err
	}
	names := req.Programs
	if len(names) == 0 {
		if exp.Program == "" {
			return BatchSummary{}, errors.New("at least one program is required")
		}
		names = []string{exp.Program}
	}
	repeat := req.Repeat
	if repeat <= 0 {
		repeat = 1
	}
	programs := make([]agent.Program, 0, len(names)*repeat)
	for _, name := range names {
		prog, err := agent.LookupProgram(name)
		if err != nil {
			return BatchSummary{}, err
		}
		for i := 0; i < repeat; i++ {
			programs = append(programs, prog)
		}
	}

	election, err := electionFor(exp)
	if err != nil {
		return BatchSummary{}, err
	}
	p := c.newPolis([]scape.Scape{election})
	if err := p.Init(ctx); err != nil {
		return BatchSummary{}, err
	}
	defer p.Stop()
	c.inited = true

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	batch := platform.BatchConfig{
		RunID:     runID,
		ScapeName: election.Name(),
		Seed:      exp.Seed,
		Workers:   exp.Workers,
		Programs:  programs,
	}
	var tickLog *stats.TickLog
	if exp.TickTrace {
		tickLog, err = stats.OpenTickLog(filepath.Join(c.dataDir, runID))
		if err != nil {
			return BatchSummary{}, err
		}
		defer func() {
			_ = tickLog.Close()
		}()
		batch.Observer = tickLog.Observe
	}

	result, err := p.EvaluateBatch(ctx, batch)
	if err != nil {
		return BatchSummary{}, err
	}
	tickEntries := 0
	if tickLog != nil {
		tickEntries = tickLog.Entries()
		if err := tickLog.Close(); err != nil {
			return BatchSummary{}, err
		}
	}

	runDir, err := stats.WriteRunArtifacts(c.dataDir, stats.RunArtifacts{
		Config:     runConfig(exp, result.Run),
		Phenotypes: result.Phenotypes,
	})
	if err != nil {
		return BatchSummary{}, err
	}
	if err := stats.AppendRunIndex(c.dataDir, stats.IndexEntryFromRun(result.Run)); err != nil {
		return BatchSummary{}, err
	}

	return BatchSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Run:          result.Run,
		Best:         result.Best,
		Phenotypes:   result.Phenotypes,
		TickEntries:  tickEntries,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.dataDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:         e.RunID,
			CreatedAtUTC:  e.CreatedAtUTC,
			Scape:         e.Scape,
			Seed:          e.Seed,
			Candidates:    e.Candidates,
			Workers:       e.Workers,
			BestCandidate: e.BestCandidate,
			BestFitness:   e.BestFitness,
		})
	}
	return out, nil
}

// Phenotypes reads a run's candidates from the store, falling back to the
// artifact tree when the store does not know the run.
func (c *Client) Phenotypes(ctx context.Context, req PhenotypesRequest) ([]Phenotype, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	phenotypes, ok, err := c.store.GetPhenotypes(ctx, runID)
	if err != nil {
		return nil, err
	}
	if ok {
		return phenotypes, nil
	}
	phenotypes, ok, err = stats.ReadPhenotypes(c.dataDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("phenotypes not found for run: %s", runID)
	}
	return phenotypes, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.dataDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) ScapeSummary(ctx context.Context, scapeName string) (ScapeSummaryItem, error) {
	if scapeName == "" {
		return ScapeSummaryItem{}, errors.New("scape name is required")
	}
	if err := c.Init(ctx); err != nil {
		return ScapeSummaryItem{}, err
	}
	summary, ok, err := c.store.GetScapeSummary(ctx, scapeName)
	if err != nil {
		return ScapeSummaryItem{}, err
	}
	if !ok {
		return ScapeSummaryItem{}, fmt.Errorf("scape summary not found: %s", scapeName)
	}
	return ScapeSummaryItem{
		Name:        summary.Name,
		Description: summary.Description,
		BestFitness: summary.BestFitness,
		BestProgram: summary.BestProgram,
		Evaluations: summary.Evaluations,
	}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if !latest {
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.dataDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) newPolis(scapes []scape.Scape) *platform.Polis {
	return platform.NewPolis(platform.Config{Store: c.store, Logger: c.log, Scapes: scapes})
}

func electionFor(exp Experiment) (*scape.ElectionScape, error) {
	return scape.NewElectionScape(scape.ElectionConfig{
		Deme:       exp.DemeConfig(),
		EvalTime:   exp.EvalTime,
		TrialCount: exp.TrialCount,
		MinID:      exp.MinID,
		MaxID:      exp.MaxID,
	})
}

func runConfig(exp Experiment, run model.RunRecord) stats.RunConfig {
	return stats.RunConfig{
		RunID:         run.ID,
		Scape:         run.Scape,
		Seed:          run.Seed,
		Workers:       run.Workers,
		Candidates:    run.Candidates,
		EvalTime:      exp.EvalTime,
		TrialCount:    exp.TrialCount,
		Width:         exp.Width,
		Height:        exp.Height,
		Policy:        exp.Policy,
		Latency:       exp.Latency,
		InboxCapacity: exp.InboxCapacity,
		Handling:      exp.Handling,
		MaxThreads:    exp.MaxThreads,
		MinID:         exp.MinID,
		MaxID:         exp.MaxID,
		TickTrace:     exp.TickTrace,
	}
}
