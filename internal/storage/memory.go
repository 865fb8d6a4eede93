package storage

import (
	"context"
	"sort"
	"sync"

	"consensusdeme/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	phenotypes  map[string][]model.Phenotype
	scapes      map[string]model.ScapeSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.phenotypes = make(map[string][]model.Phenotype)
	s.scapes = make(map[string]model.ScapeSummary)
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = make(map[string]model.RunRecord)
	s.phenotypes = make(map[string][]model.Phenotype)
	s.scapes = make(map[string]model.ScapeSummary)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SavePhenotypes(_ context.Context, runID string, phenotypes []model.Phenotype) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.phenotypes[runID] = clonePhenotypes(phenotypes)
	return nil
}

func (s *MemoryStore) GetPhenotypes(_ context.Context, runID string) ([]model.Phenotype, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	phenotypes, ok := s.phenotypes[runID]
	if !ok {
		return nil, false, nil
	}
	return clonePhenotypes(phenotypes), true, nil
}

func (s *MemoryStore) SaveScapeSummary(_ context.Context, summary model.ScapeSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.scapes[summary.Name] = summary
	return nil
}

func (s *MemoryStore) GetScapeSummary(_ context.Context, name string) (model.ScapeSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.scapes[name]
	return summary, ok, nil
}

// sortRuns orders runs newest first, breaking ties by id.
func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
		}
		return runs[i].ID < runs[j].ID
	})
}
