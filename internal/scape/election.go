package scape

import (
	"context"
	"fmt"

	"consensusdeme/internal/agent"
	"consensusdeme/internal/consensus"
	"consensusdeme/internal/deme"
	"consensusdeme/internal/model"
	"consensusdeme/internal/random"
)

const ElectionName = "election"

// ProgramAgent is a candidate the election scape can load onto every cell.
type ProgramAgent interface {
	Agent
	Program() agent.Program
	Seed() int64
}

// Candidate pairs a program with the seed of its private deme.
type Candidate struct {
	name    string
	program agent.Program
	seed    int64
}

func NewCandidate(name string, program agent.Program, seed int64) Candidate {
	if name == "" {
		name = program.Name
	}
	return Candidate{name: name, program: program, seed: seed}
}

func (c Candidate) ID() string             { return c.name }
func (c Candidate) Program() agent.Program { return c.program }
func (c Candidate) Seed() int64            { return c.seed }

type ElectionConfig struct {
	Deme       deme.Config
	EvalTime   int
	TrialCount int
	MinID      uint32
	MaxID      uint32
	Factory    deme.Factory
}

func DefaultElectionConfig() ElectionConfig {
	return ElectionConfig{
		Deme:       deme.DefaultConfig(),
		EvalTime:   256,
		TrialCount: 3,
		MinID:      consensus.DefaultMinID,
		MaxID:      consensus.DefaultMaxID,
	}
}

// TrialObserver sees every tick of every trial.
type TrialObserver func(trial int, sample consensus.TickSample)

// ElectionScape scores a program by how quickly and how completely a deme
// running it agrees on a single leader.
type ElectionScape struct {
	cfg ElectionConfig
}

func NewElectionScape(cfg ElectionConfig) (*ElectionScape, error) {
	if err := cfg.Deme.Validate(); err != nil {
		return nil, err
	}
	if cfg.EvalTime <= 0 {
		return nil, fmt.Errorf("eval time must be positive, got %d", cfg.EvalTime)
	}
	if cfg.TrialCount <= 0 {
		return nil, fmt.Errorf("trial count must be positive, got %d", cfg.TrialCount)
	}
	if err := consensus.CheckRange(cfg.MinID, cfg.MaxID, cfg.Deme.Size()); err != nil {
		return nil, err
	}
	if cfg.Factory == nil {
		cfg.Factory = deme.MachineFactory
	}
	return &ElectionScape{cfg: cfg}, nil
}

func (s *ElectionScape) Name() string { return ElectionName }

func (s *ElectionScape) Config() ElectionConfig { return s.cfg }

func (s *ElectionScape) Evaluate(ctx context.Context, a Agent) (Fitness, Trace, error) {
	candidate, ok := a.(ProgramAgent)
	if !ok {
		return 0, nil, fmt.Errorf("agent %s does not carry a program", a.ID())
	}
	phenotype, err := s.Run(ctx, candidate.Program(), candidate.Seed(), nil)
	if err != nil {
		return 0, nil, err
	}
	return Fitness(phenotype.Fitness), Trace{
		"trials":      phenotype.Trials,
		"worst_trial": phenotype.Worst,
		"deme_size":   s.cfg.Deme.Size(),
	}, nil
}

// Run evaluates prog over every trial on a fresh deme seeded with seed. The
// fitness is the lowest trial score.
func (s *ElectionScape) Run(ctx context.Context, prog agent.Program, seed int64, observe TrialObserver) (model.Phenotype, error) {
	d, err := deme.New(s.cfg.Deme, random.New(seed), s.cfg.Factory)
	if err != nil {
		return model.Phenotype{}, err
	}
	d.SetProgram(prog)
	plugin, err := consensus.Attach(d, s.cfg.MinID, s.cfg.MaxID)
	if err != nil {
		return model.Phenotype{}, err
	}
	defer plugin.Detach()

	phenotype := model.Phenotype{
		Program: prog.Name,
		Seed:    seed,
		Trials:  make([]model.TrialResult, 0, s.cfg.TrialCount),
	}
	size := d.Size()
	for trial := 0; trial < s.cfg.TrialCount; trial++ {
		var tickObserver consensus.TickObserver
		if observe != nil {
			tickObserver = func(sample consensus.TickSample) { observe(trial, sample) }
		}
		summary, err := plugin.RunTrial(ctx, s.cfg.EvalTime, tickObserver)
		if err != nil {
			return model.Phenotype{}, fmt.Errorf("trial %d: %w", trial, err)
		}
		result := TrialResultFromSummary(trial, summary, size)
		if trial == 0 || result.Score < phenotype.Fitness {
			phenotype.Fitness = result.Score
			phenotype.Worst = trial
		}
		phenotype.Trials = append(phenotype.Trials, result)
	}
	return phenotype, nil
}

func TrialResultFromSummary(trial int, s consensus.Summary, demeSize int) model.TrialResult {
	return model.TrialResult{
		Trial:                 trial,
		ValidVotes:            s.ValidVotes,
		MaxVotes:              s.MaxVotes,
		Leader:                s.Leader,
		FullConsensusTime:     s.FullConsensusTime,
		RecentConsensusStreak: s.RecentConsensusStreak,
		MessagesExchanged:     s.MessagesExchanged,
		MinID:                 s.MinID,
		MaxID:                 s.MaxID,
		Score:                 s.Score(demeSize),
	}
}
