// Package chain maintains the linear "replaces" relation between dataset
// versions. Each dataset has at most one direct predecessor and at most one
// direct successor; chains are acyclic by construction and walks are bounded
// defensively anyway.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
	"github.com/Mindburn-Labs/datakeep/pkg/store"
)

// maxChainLength bounds chain walks. Links are created one per upload, so a
// chain longer than this indicates corrupted storage rather than real data.
const maxChainLength = 10000

// Manager answers neighbor and full-chain queries over stored links. Link
// creation itself happens inside store.CreateDataset so that the dataset row
// and its link commit atomically; Manager.Validate is the pre-flight check
// the registry runs before attempting that transaction.
type Manager struct {
	store store.Store
}

func NewManager(s store.Store) *Manager {
	return &Manager{store: s}
}

// Validate checks the chain invariants for linking newID onto predecessorID:
// the predecessor must exist, must not already have a successor, and the link
// must not close a cycle. The authoritative enforcement is the store's unique
// constraint; this check exists to fail fast and to produce typed errors
// before any state is written.
func (m *Manager) Validate(ctx context.Context, newID, predecessorID string) error {
	if newID == predecessorID {
		return fmt.Errorf("%w: dataset cannot replace itself", dataset.ErrChainConflict)
	}
	if _, err := m.store.GetDataset(ctx, predecessorID); err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return fmt.Errorf("predecessor %s: %w", predecessorID, dataset.ErrNotFound)
		}
		return fmt.Errorf("load predecessor %s: %w", predecessorID, err)
	}

	successor, err := m.store.SuccessorOf(ctx, predecessorID)
	if err != nil {
		return fmt.Errorf("lookup successor: %w", err)
	}
	if successor != "" {
		return fmt.Errorf("%w: %s is already replaced by %s", dataset.ErrChainConflict, predecessorID, successor)
	}

	// Cycle guard: newID must not be an ancestor of predecessorID. Only
	// possible if ids are reused, but cheap to rule out.
	cursor := predecessorID
	for i := 0; i < maxChainLength; i++ {
		prev, err := m.store.PredecessorOf(ctx, cursor)
		if err != nil {
			return fmt.Errorf("walk predecessors: %w", err)
		}
		if prev == "" {
			return nil
		}
		if prev == newID {
			return fmt.Errorf("%w: linking %s would create a cycle", dataset.ErrChainConflict, newID)
		}
		cursor = prev
	}
	return fmt.Errorf("%w: predecessor chain of %s exceeds %d links", dataset.ErrChainConflict, predecessorID, maxChainLength)
}

// SuccessorOf returns the id of the dataset that replaces id, or "" when id
// is the chain tip.
func (m *Manager) SuccessorOf(ctx context.Context, id string) (string, error) {
	return m.store.SuccessorOf(ctx, id)
}

// PredecessorOf returns the id that id replaces, or "" when id is the root.
func (m *Manager) PredecessorOf(ctx context.Context, id string) (string, error) {
	return m.store.PredecessorOf(ctx, id)
}

// ChainOf returns the full version sequence containing id, ordered oldest to
// newest. A dataset with no links yields a single-element chain.
func (m *Manager) ChainOf(ctx context.Context, id string) ([]string, error) {
	if _, err := m.store.GetDataset(ctx, id); err != nil {
		return nil, err
	}

	// Walk back to the root.
	root := id
	for i := 0; ; i++ {
		if i >= maxChainLength {
			return nil, fmt.Errorf("%w: predecessor walk from %s did not terminate", dataset.ErrChainConflict, id)
		}
		prev, err := m.store.PredecessorOf(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("walk predecessors: %w", err)
		}
		if prev == "" {
			break
		}
		root = prev
	}

	// Walk forward to the tip collecting the sequence.
	out := []string{root}
	seen := map[string]struct{}{root: {}}
	cursor := root
	for i := 0; ; i++ {
		if i >= maxChainLength {
			return nil, fmt.Errorf("%w: successor walk from %s did not terminate", dataset.ErrChainConflict, id)
		}
		next, err := m.store.SuccessorOf(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("walk successors: %w", err)
		}
		if next == "" {
			return out, nil
		}
		if _, dup := seen[next]; dup {
			return nil, fmt.Errorf("%w: malformed cycle at %s", dataset.ErrChainConflict, next)
		}
		seen[next] = struct{}{}
		out = append(out, next)
		cursor = next
	}
}
