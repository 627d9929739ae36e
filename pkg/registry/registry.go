// Package registry implements the dataset lifecycle: staged uploads, hash
// verification at completion, version chaining, invalidation, and the
// permission-checked read surface. It composes the store, blob, authz, and
// chain packages and is the only layer that mutates dataset records.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/datakeep/pkg/audit"
	"github.com/Mindburn-Labs/datakeep/pkg/authz"
	"github.com/Mindburn-Labs/datakeep/pkg/blob"
	"github.com/Mindburn-Labs/datakeep/pkg/chain"
	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
	"github.com/Mindburn-Labs/datakeep/pkg/integrity"
	"github.com/Mindburn-Labs/datakeep/pkg/store"
)

// previewLimit caps the JSON previews cached inline on manifest entries.
const previewLimit = 64 * 1024

// Registry is the transactional core of the service. All operations take the
// acting user explicitly; permission checks never read ambient state.
type Registry struct {
	store  store.Store
	blobs  blob.Store
	access *authz.Matrix
	chains *chain.Manager
	audit  audit.Logger
	locks  *keyedMutex
	log    *slog.Logger
	now    func() time.Time
}

// Option configures optional Registry collaborators.
type Option func(*Registry)

// WithAuditLogger routes audit events to l instead of discarding them.
func WithAuditLogger(l audit.Logger) Option {
	return func(r *Registry) { r.audit = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(s store.Store, b blob.Store, access *authz.Matrix, chains *chain.Manager, opts ...Option) *Registry {
	r := &Registry{
		store:  s,
		blobs:  b,
		access: access,
		chains: chains,
		audit:  audit.Nop(),
		locks:  newKeyedMutex(),
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BeginUpload registers a new, incomplete dataset version. When replaces is
// non-empty the new version is linked as the sole successor of that dataset;
// the caller must hold write permission on the predecessor. The returned
// record carries the assigned id.
func (r *Registry) BeginUpload(ctx context.Context, actor string, ds *dataset.Dataset, replaces string) (*dataset.Dataset, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: acting user is required", dataset.ErrValidation)
	}
	if err := dataset.ValidateMetadata(ds); err != nil {
		return nil, err
	}

	work := ds.Clone()
	if work.ID == "" {
		work.ID = uuid.New().String()
	}
	work.Owner = actor
	work.Replaces = replaces
	work.Complete = false
	work.Invalidated = false
	work.Hash = ""
	work.Content = nil
	work.Size = 0
	work.UploadTime = r.now().UTC()

	release := r.locks.Acquire(work.ID, replaces)
	defer release()

	if replaces != "" {
		ok, err := r.access.Check(ctx, replaces, actor, dataset.OpWrite)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s may not replace dataset %s", dataset.ErrForbidden, actor, replaces)
		}
		if err := r.chains.Validate(ctx, work.ID, replaces); err != nil {
			return nil, err
		}
	}

	if err := r.store.CreateDataset(ctx, work, replaces); err != nil {
		return nil, err
	}

	r.log.Info("upload started", "dataset", work.ID, "owner", actor, "replaces", replaces)
	_ = r.audit.Record(ctx, audit.EventMutation, "dataset.begin_upload", work.ID,
		map[string]any{"replaces": replaces})
	return work, nil
}

// AppendFile stages one file into an incomplete dataset and stores its bytes
// content-addressed. Small JSON members get an inline preview on the manifest
// entry. Completed or invalidated datasets reject appends.
func (r *Registry) AppendFile(ctx context.Context, actor, datasetID, name string, data []byte) (*dataset.FileEntry, error) {
	if err := validateEntryName(name); err != nil {
		return nil, err
	}

	release := r.locks.Acquire(datasetID)
	defer release()

	ds, err := r.writableDataset(ctx, actor, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.Complete {
		return nil, fmt.Errorf("%w: dataset %s is complete", dataset.ErrImmutable, datasetID)
	}
	for _, e := range ds.Content {
		if e.Name == name {
			return nil, fmt.Errorf("%w: duplicate entry %q", dataset.ErrValidation, name)
		}
	}

	ref, err := r.blobs.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("store blob for %q: %w", name, err)
	}

	entry := dataset.FileEntry{
		Name:       name,
		Size:       int64(len(data)),
		ContentRef: ref,
	}
	if strings.HasSuffix(name, ".json") && len(data) <= previewLimit && json.Valid(data) {
		entry.Preview = json.RawMessage(append([]byte(nil), data...))
	}

	ds.Content = append(ds.Content, entry)
	if err := r.store.UpdateDataset(ctx, ds); err != nil {
		return nil, err
	}
	return &entry, nil
}

// CompleteUpload seals the dataset. When claimedHash is non-empty the stored
// content must reproduce it exactly; a mismatch leaves the dataset incomplete
// so the producer can correct and retry. An empty claim seals with the
// computed digest.
func (r *Registry) CompleteUpload(ctx context.Context, actor, datasetID, claimedHash string) (*dataset.Dataset, error) {
	release := r.locks.Acquire(datasetID)
	defer release()

	ds, err := r.writableDataset(ctx, actor, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.Complete {
		return nil, fmt.Errorf("%w: dataset %s is already complete", dataset.ErrImmutable, datasetID)
	}
	if len(ds.Content) == 0 {
		return nil, fmt.Errorf("%w: dataset %s has no files", dataset.ErrValidation, datasetID)
	}

	if claimedHash == "" {
		claimedHash, err = integrity.Digest(ctx, ds.Content, r.blobs)
		if err != nil {
			return nil, err
		}
	} else if err := integrity.Verify(ctx, ds.Content, r.blobs, claimedHash); err != nil {
		r.log.Warn("completion rejected", "dataset", datasetID, "err", err)
		return nil, err
	}

	ds.Complete = true
	ds.Hash = claimedHash
	ds.Size = ds.TotalSize()
	ds.StorageTime = r.now().UTC()
	if err := r.store.UpdateDataset(ctx, ds); err != nil {
		return nil, err
	}

	meta := map[string]any{"hash": claimedHash, "size": ds.Size}
	if mh, err := integrity.MetadataHash(ds); err == nil {
		meta["metadata_hash"] = mh
	}
	r.log.Info("upload completed", "dataset", datasetID, "files", len(ds.Content), "size", ds.Size)
	_ = r.audit.Record(ctx, audit.EventMutation, "dataset.complete_upload", datasetID, meta)
	return ds, nil
}

// Read returns the dataset record. Invalidated datasets stay readable as
// tombstones so consumers can learn a version was withdrawn.
func (r *Registry) Read(ctx context.Context, actor, datasetID string) (*dataset.Dataset, error) {
	ds, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	ok, err := r.access.Check(ctx, datasetID, actor, dataset.OpRead)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s may not read dataset %s", dataset.ErrForbidden, actor, datasetID)
	}
	return ds, nil
}

// ReadFile returns the bytes of one manifest entry, re-verifying the stored
// content against the entry's content address before release.
func (r *Registry) ReadFile(ctx context.Context, actor, datasetID, name string) ([]byte, error) {
	ds, err := r.Read(ctx, actor, datasetID)
	if err != nil {
		return nil, err
	}
	for _, e := range ds.Content {
		if e.Name != name {
			continue
		}
		data, err := r.blobs.Get(ctx, e.ContentRef)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", name, err)
		}
		if int64(len(data)) != e.Size || blob.Ref(data) != e.ContentRef {
			return nil, &integrity.Mismatch{Entry: name, Expected: e.ContentRef, Computed: blob.Ref(data)}
		}
		_ = r.audit.Record(ctx, audit.EventAccess, "dataset.read_file", datasetID,
			map[string]any{"entry": name})
		return data, nil
	}
	return nil, fmt.Errorf("%w: dataset %s has no entry %q", dataset.ErrNotFound, datasetID, name)
}

// Invalidate marks the dataset as withdrawn. The record and its chain links
// remain; only visibility in listings changes. Invalidation is idempotent
// and permanent.
func (r *Registry) Invalidate(ctx context.Context, actor, datasetID string) error {
	release := r.locks.Acquire(datasetID)
	defer release()

	ds, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return err
	}
	ok, err := r.access.Check(ctx, datasetID, actor, dataset.OpWrite)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not invalidate dataset %s", dataset.ErrForbidden, actor, datasetID)
	}
	if ds.Invalidated {
		return nil
	}

	ds.Invalidated = true
	if err := r.store.UpdateDataset(ctx, ds); err != nil {
		return err
	}

	r.log.Info("dataset invalidated", "dataset", datasetID, "actor", actor)
	_ = r.audit.Record(ctx, audit.EventMutation, "dataset.invalidate", datasetID, nil)
	return nil
}

// ListVisible returns every dataset the actor may read, newest upload first.
// Invalidated datasets are excluded; they remain reachable by id via Read.
func (r *Registry) ListVisible(ctx context.Context, actor string) ([]*dataset.Dataset, error) {
	all, err := r.store.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]*dataset.Dataset, 0, len(all))
	for _, ds := range all {
		if ds.Invalidated {
			continue
		}
		ok, err := r.access.Check(ctx, ds.ID, actor, dataset.OpRead)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, ds)
		}
	}
	return visible, nil
}

// Visible is the streaming form of ListVisible. The returned sequence runs
// the permission check per element as it is consumed and may be ranged over
// more than once; each pass re-checks against the snapshot taken here.
// A check failure ends the pass early and is reported through errOut.
func (r *Registry) Visible(ctx context.Context, actor string) (iter.Seq[*dataset.Dataset], func() error, error) {
	all, err := r.store.ListDatasets(ctx)
	if err != nil {
		return nil, nil, err
	}

	var iterErr error
	seq := func(yield func(*dataset.Dataset) bool) {
		iterErr = nil
		for _, ds := range all {
			if ds.Invalidated {
				continue
			}
			ok, err := r.access.Check(ctx, ds.ID, actor, dataset.OpRead)
			if err != nil {
				iterErr = err
				return
			}
			if ok && !yield(ds) {
				return
			}
		}
	}
	errOut := func() error { return iterErr }
	return seq, errOut, nil
}

// UpdatePermissions applies grant and revoke cells atomically. Only the
// dataset owner may change the matrix; the owner's implicit access is not a
// cell and cannot be granted or revoked.
func (r *Registry) UpdatePermissions(ctx context.Context, actor, datasetID string, grants, revokes []dataset.Grant) error {
	release := r.locks.Acquire(datasetID)
	defer release()

	ds, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return err
	}
	if actor != ds.Owner {
		return fmt.Errorf("%w: only the owner may change permissions on %s", dataset.ErrForbidden, datasetID)
	}

	apply := make([]dataset.Grant, 0, len(grants))
	for _, g := range grants {
		g.DatasetID = datasetID
		if err := validateGrant(g); err != nil {
			return err
		}
		// Ownership already implies full access; never materialize it.
		if g.Subject.Kind == dataset.SubjectUser && g.Subject.ID == ds.Owner {
			continue
		}
		apply = append(apply, g)
	}
	remove := make([]dataset.Grant, 0, len(revokes))
	for _, g := range revokes {
		g.DatasetID = datasetID
		if err := validateGrant(g); err != nil {
			return err
		}
		remove = append(remove, g)
	}

	if err := r.store.ApplyGrants(ctx, apply, remove); err != nil {
		return err
	}
	_ = r.audit.Record(ctx, audit.EventMutation, "dataset.update_permissions", datasetID,
		map[string]any{"granted": len(apply), "revoked": len(remove)})
	return nil
}

// Permissions returns the stored matrix for display. Owner only.
func (r *Registry) Permissions(ctx context.Context, actor, datasetID string) (*authz.AccessList, error) {
	ds, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if actor != ds.Owner {
		return nil, fmt.Errorf("%w: only the owner may list permissions on %s", dataset.ErrForbidden, datasetID)
	}
	return r.access.List(ctx, datasetID)
}

// Chain returns the full version sequence containing datasetID, oldest first.
// Requires read permission on the queried dataset.
func (r *Registry) Chain(ctx context.Context, actor, datasetID string) ([]string, error) {
	if _, err := r.Read(ctx, actor, datasetID); err != nil {
		return nil, err
	}
	return r.chains.ChainOf(ctx, datasetID)
}

// writableDataset loads the record and enforces write permission and the
// invalidation tombstone.
func (r *Registry) writableDataset(ctx context.Context, actor, datasetID string) (*dataset.Dataset, error) {
	ds, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	ok, err := r.access.Check(ctx, datasetID, actor, dataset.OpWrite)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s may not write dataset %s", dataset.ErrForbidden, actor, datasetID)
	}
	if ds.Invalidated {
		return nil, fmt.Errorf("%w: dataset %s is invalidated", dataset.ErrImmutable, datasetID)
	}
	return ds, nil
}

func validateEntryName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: entry name is required", dataset.ErrValidation)
	case strings.HasPrefix(name, "/"), strings.Contains(name, ".."):
		return fmt.Errorf("%w: entry name %q must be a relative path", dataset.ErrValidation, name)
	}
	return nil
}

func validateGrant(g dataset.Grant) error {
	if !g.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", dataset.ErrValidation, g.Operation)
	}
	if g.Subject.Kind != dataset.SubjectUser && g.Subject.Kind != dataset.SubjectGroup {
		return fmt.Errorf("%w: unknown subject kind %q", dataset.ErrValidation, g.Subject.Kind)
	}
	if g.Subject.ID == "" {
		return fmt.Errorf("%w: subject id is required", dataset.ErrValidation)
	}
	return nil
}
