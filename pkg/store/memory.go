package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
)

// InMemoryStore is a thread-safe map-backed Store. Not durable; intended for
// tests and ephemeral development servers.
type InMemoryStore struct {
	mu           sync.RWMutex
	datasets     map[string]*dataset.Dataset
	grants       map[string]dataset.Grant // cell key -> grant
	successors   map[string]string        // predecessor id -> successor id
	predecessors map[string]string        // successor id -> predecessor id
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		datasets:     make(map[string]*dataset.Dataset),
		grants:       make(map[string]dataset.Grant),
		successors:   make(map[string]string),
		predecessors: make(map[string]string),
	}
}

func cellKey(g dataset.Grant) string {
	return fmt.Sprintf("%s|%s|%s|%s", g.DatasetID, g.Subject.Kind, g.Subject.ID, g.Operation)
}

func (s *InMemoryStore) CreateDataset(_ context.Context, ds *dataset.Dataset, predecessorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.datasets[ds.ID]; exists {
		return fmt.Errorf("%w: dataset %s already exists", dataset.ErrChainConflict, ds.ID)
	}
	if predecessorID != "" {
		if _, ok := s.datasets[predecessorID]; !ok {
			return fmt.Errorf("predecessor %s: %w", predecessorID, dataset.ErrNotFound)
		}
		if taken, ok := s.successors[predecessorID]; ok {
			return fmt.Errorf("%w: %s is already replaced by %s", dataset.ErrChainConflict, predecessorID, taken)
		}
	}

	s.datasets[ds.ID] = ds.Clone()
	if predecessorID != "" {
		s.successors[predecessorID] = ds.ID
		s.predecessors[ds.ID] = predecessorID
	}
	return nil
}

func (s *InMemoryStore) GetDataset(_ context.Context, id string) (*dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", id, dataset.ErrNotFound)
	}
	return ds.Clone(), nil
}

func (s *InMemoryStore) UpdateDataset(_ context.Context, ds *dataset.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[ds.ID]; !ok {
		return fmt.Errorf("dataset %s: %w", ds.ID, dataset.ErrNotFound)
	}
	s.datasets[ds.ID] = ds.Clone()
	return nil
}

func (s *InMemoryStore) ListDatasets(_ context.Context) ([]*dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*dataset.Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		out = append(out, ds.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadTime.Equal(out[j].UploadTime) {
			return out[i].UploadTime.After(out[j].UploadTime)
		}
		return out[i].ID < out[j].ID // stable order for equal timestamps
	})
	return out, nil
}

func (s *InMemoryStore) Grant(_ context.Context, g dataset.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[cellKey(g)] = g
	return nil
}

func (s *InMemoryStore) Revoke(_ context.Context, g dataset.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, cellKey(g))
	return nil
}

func (s *InMemoryStore) HasGrant(_ context.Context, g dataset.Grant) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grants[cellKey(g)]
	return ok, nil
}

func (s *InMemoryStore) Grants(_ context.Context, datasetID string) ([]dataset.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []dataset.Grant
	for _, g := range s.grants {
		if g.DatasetID == datasetID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return cellKey(out[i]) < cellKey(out[j])
	})
	return out, nil
}

func (s *InMemoryStore) ApplyGrants(_ context.Context, grants, revokes []dataset.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range grants {
		s.grants[cellKey(g)] = g
	}
	for _, g := range revokes {
		delete(s.grants, cellKey(g))
	}
	return nil
}

func (s *InMemoryStore) SuccessorOf(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.successors[id], nil
}

func (s *InMemoryStore) PredecessorOf(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.predecessors[id], nil
}

func (s *InMemoryStore) Close() error { return nil }
