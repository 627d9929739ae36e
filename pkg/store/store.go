// Package store persists dataset records, permission grants, and version
// chain links. Three implementations share one interface: in-memory (tests,
// ephemeral dev), SQLite (single-node default), and Postgres.
//
// The store enforces only structural uniqueness (one record per id, one
// successor per predecessor, one row per grant cell); lifecycle and access
// invariants belong to the registry, authz, and chain packages above it.
package store

import (
	"context"

	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
)

// Store is the persistence contract for the registry core.
//
// Error mapping: implementations return errors wrapping dataset.ErrNotFound
// for unknown ids and dataset.ErrChainConflict when a chain-link uniqueness
// constraint is violated, so callers never inspect driver errors.
type Store interface {
	// CreateDataset inserts a new record and, when predecessorID is non-empty,
	// records the chain link in the same transaction. Either both persist or
	// neither does.
	CreateDataset(ctx context.Context, ds *dataset.Dataset, predecessorID string) error

	// GetDataset returns the record for id.
	GetDataset(ctx context.Context, id string) (*dataset.Dataset, error)

	// UpdateDataset overwrites the record for ds.ID.
	UpdateDataset(ctx context.Context, ds *dataset.Dataset) error

	// ListDatasets returns all records ordered by upload time descending.
	ListDatasets(ctx context.Context) ([]*dataset.Dataset, error)

	// Grant upserts one permission cell (idempotent).
	Grant(ctx context.Context, g dataset.Grant) error

	// Revoke removes one permission cell (idempotent; missing cell is a no-op).
	Revoke(ctx context.Context, g dataset.Grant) error

	// HasGrant reports whether the exact cell exists.
	HasGrant(ctx context.Context, g dataset.Grant) (bool, error)

	// Grants returns every cell for datasetID.
	Grants(ctx context.Context, datasetID string) ([]dataset.Grant, error)

	// ApplyGrants applies grants then revokes atomically (all-or-nothing).
	ApplyGrants(ctx context.Context, grants, revokes []dataset.Grant) error

	// SuccessorOf returns the id of the dataset replacing id, or "" when none.
	SuccessorOf(ctx context.Context, id string) (string, error)

	// PredecessorOf returns the id the dataset with id replaces, or "" when none.
	PredecessorOf(ctx context.Context, id string) (string, error)

	// Close releases underlying resources.
	Close() error
}
