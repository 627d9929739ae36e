// Package authz implements the per-dataset permission matrix:
// (dataset, subject, operation) -> granted, where a subject is a user or a
// group. Ownership is an implicit, unrevocable grant of both operations and is
// never materialized as a stored cell.
package authz

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
	"github.com/Mindburn-Labs/datakeep/pkg/groups"
	"github.com/Mindburn-Labs/datakeep/pkg/store"
)

// Matrix evaluates and mutates permission cells. Grants persist in the store;
// group membership is resolved through the groups.Resolver at check time, so
// directory changes take effect without touching stored cells.
type Matrix struct {
	store    store.Store
	resolver groups.Resolver
}

func NewMatrix(s store.Store, r groups.Resolver) *Matrix {
	return &Matrix{store: s, resolver: r}
}

// Grant records one cell. Granting to the dataset owner is a no-op: ownership
// already implies full access and must not be representable as a revocable
// cell. Re-granting an existing cell is idempotent.
func (m *Matrix) Grant(ctx context.Context, datasetID string, subject dataset.Subject, op dataset.Operation) error {
	if !op.Valid() {
		return fmt.Errorf("%w: unknown operation %q", dataset.ErrValidation, op)
	}
	owner, err := m.ownerOf(ctx, datasetID)
	if err != nil {
		return err
	}
	if subject.Kind == dataset.SubjectUser && subject.ID == owner {
		return nil
	}
	return m.store.Grant(ctx, dataset.Grant{DatasetID: datasetID, Subject: subject, Operation: op})
}

// Revoke removes one cell. Revoking a cell that does not exist is a no-op.
func (m *Matrix) Revoke(ctx context.Context, datasetID string, subject dataset.Subject, op dataset.Operation) error {
	if !op.Valid() {
		return fmt.Errorf("%w: unknown operation %q", dataset.ErrValidation, op)
	}
	return m.store.Revoke(ctx, dataset.Grant{DatasetID: datasetID, Subject: subject, Operation: op})
}

// Check reports whether userID may perform op on the dataset. True when the
// user is the owner, holds a direct grant, or belongs to a group holding the
// grant. Read and write are independent; neither implies the other.
func (m *Matrix) Check(ctx context.Context, datasetID, userID string, op dataset.Operation) (bool, error) {
	owner, err := m.ownerOf(ctx, datasetID)
	if err != nil {
		return false, err
	}
	if userID == owner {
		return true, nil
	}

	direct, err := m.store.HasGrant(ctx, dataset.Grant{
		DatasetID: datasetID, Subject: dataset.User(userID), Operation: op,
	})
	if err != nil {
		return false, fmt.Errorf("check direct grant: %w", err)
	}
	if direct {
		return true, nil
	}

	memberOf, err := m.resolver.GroupsOf(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("resolve groups: %w", err)
	}
	for _, g := range memberOf {
		held, err := m.store.HasGrant(ctx, dataset.Grant{
			DatasetID: datasetID, Subject: dataset.Group(g), Operation: op,
		})
		if err != nil {
			return false, fmt.Errorf("check group grant: %w", err)
		}
		if held {
			return true, nil
		}
	}
	return false, nil
}

// AccessList is the audit/display view of a dataset's matrix, split by
// operation and subject kind. The implicit owner grant is not included.
type AccessList struct {
	Read  SubjectSet `json:"read"`
	Write SubjectSet `json:"write"`
}

type SubjectSet struct {
	Users  []string `json:"users"`
	Groups []string `json:"groups"`
}

// List returns all stored cells for the dataset grouped for display.
func (m *Matrix) List(ctx context.Context, datasetID string) (*AccessList, error) {
	cells, err := m.store.Grants(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}

	out := &AccessList{
		Read:  SubjectSet{Users: []string{}, Groups: []string{}},
		Write: SubjectSet{Users: []string{}, Groups: []string{}},
	}
	for _, c := range cells {
		set := &out.Read
		if c.Operation == dataset.OpWrite {
			set = &out.Write
		}
		switch c.Subject.Kind {
		case dataset.SubjectUser:
			set.Users = append(set.Users, c.Subject.ID)
		case dataset.SubjectGroup:
			set.Groups = append(set.Groups, c.Subject.ID)
		}
	}
	return out, nil
}

func (m *Matrix) ownerOf(ctx context.Context, datasetID string) (string, error) {
	ds, err := m.store.GetDataset(ctx, datasetID)
	if err != nil {
		return "", err
	}
	return ds.Owner, nil
}
