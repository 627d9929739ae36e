package registry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/datakeep/pkg/authz"
	"github.com/Mindburn-Labs/datakeep/pkg/blob"
	"github.com/Mindburn-Labs/datakeep/pkg/chain"
	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
	"github.com/Mindburn-Labs/datakeep/pkg/groups"
	"github.com/Mindburn-Labs/datakeep/pkg/integrity"
	"github.com/Mindburn-Labs/datakeep/pkg/registry"
	"github.com/Mindburn-Labs/datakeep/pkg/store"
)

type fixture struct {
	registry *registry.Registry
	store    store.Store
	blobs    blob.Store
	groups   *groups.StaticResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	bl := blob.NewMemoryStore()
	resolver := groups.NewStaticResolver()
	matrix := authz.NewMatrix(st, resolver)
	chains := chain.NewManager(st)
	reg := registry.New(st, bl, matrix, chains)
	return &fixture{registry: reg, store: st, blobs: bl, groups: resolver}
}

func newMetadata(title string) *dataset.Dataset {
	return &dataset.Dataset{
		Title:         title,
		Author:        "Jane Roe",
		Email:         "jane@example.org",
		ContainerType: dataset.ContainerType{Name: "measurement", Version: "1.0"},
		ModelVersion:  "1.0",
	}
}

// uploadComplete runs the full upload flow and returns the sealed dataset.
func uploadComplete(t *testing.T, f *fixture, actor, title string, replaces string, files map[string][]byte) *dataset.Dataset {
	t.Helper()
	ctx := context.Background()

	ds, err := f.registry.BeginUpload(ctx, actor, newMetadata(title), replaces)
	require.NoError(t, err)
	for name, data := range files {
		_, err := f.registry.AppendFile(ctx, actor, ds.ID, name, data)
		require.NoError(t, err)
	}
	sealed, err := f.registry.CompleteUpload(ctx, actor, ds.ID, "")
	require.NoError(t, err)
	return sealed
}

func TestUploadLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds, err := f.registry.BeginUpload(ctx, "alice", newMetadata("scan 1"), "")
	require.NoError(t, err)
	assert.NotEmpty(t, ds.ID)
	assert.Equal(t, "alice", ds.Owner)
	assert.False(t, ds.Complete)

	entry, err := f.registry.AppendFile(ctx, "alice", ds.ID, "data/points.json", []byte(`{"n": 3}`))
	require.NoError(t, err)
	assert.Equal(t, int64(8), entry.Size)
	assert.NotEmpty(t, entry.ContentRef)
	assert.NotEmpty(t, entry.Preview, "small json entries get inline previews")

	_, err = f.registry.AppendFile(ctx, "alice", ds.ID, "data/raw.bin", []byte{1, 2, 3, 4})
	require.NoError(t, err)

	sealed, err := f.registry.CompleteUpload(ctx, "alice", ds.ID, "")
	require.NoError(t, err)
	assert.True(t, sealed.Complete)
	assert.NotEmpty(t, sealed.Hash)
	assert.Equal(t, int64(12), sealed.Size)
	assert.False(t, sealed.StorageTime.IsZero())

	got, err := f.registry.Read(ctx, "alice", ds.ID)
	require.NoError(t, err)
	assert.Equal(t, sealed.Hash, got.Hash)
	assert.Len(t, got.Content, 2)
}

func TestBeginUpload_RejectsBadMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	md := newMetadata("scan")
	md.Title = ""
	_, err := f.registry.BeginUpload(ctx, "alice", md, "")
	assert.ErrorIs(t, err, dataset.ErrValidation)

	_, err = f.registry.BeginUpload(ctx, "", newMetadata("scan"), "")
	assert.ErrorIs(t, err, dataset.ErrValidation)
}

func TestAppendFile_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds, err := f.registry.BeginUpload(ctx, "alice", newMetadata("scan"), "")
	require.NoError(t, err)

	t.Run("unknown dataset", func(t *testing.T) {
		_, err := f.registry.AppendFile(ctx, "alice", "no-such-id", "a.bin", []byte{1})
		assert.ErrorIs(t, err, dataset.ErrNotFound)
	})
	t.Run("bad names", func(t *testing.T) {
		for _, name := range []string{"", "/abs/path", "a/../b"} {
			_, err := f.registry.AppendFile(ctx, "alice", ds.ID, name, []byte{1})
			assert.ErrorIs(t, err, dataset.ErrValidation, "name %q", name)
		}
	})
	t.Run("duplicate name", func(t *testing.T) {
		_, err := f.registry.AppendFile(ctx, "alice", ds.ID, "a.bin", []byte{1})
		require.NoError(t, err)
		_, err = f.registry.AppendFile(ctx, "alice", ds.ID, "a.bin", []byte{2})
		assert.ErrorIs(t, err, dataset.ErrValidation)
	})
	t.Run("non-writer forbidden", func(t *testing.T) {
		_, err := f.registry.AppendFile(ctx, "mallory", ds.ID, "b.bin", []byte{1})
		assert.ErrorIs(t, err, dataset.ErrForbidden)
	})
	t.Run("immutable after completion", func(t *testing.T) {
		_, err := f.registry.CompleteUpload(ctx, "alice", ds.ID, "")
		require.NoError(t, err)
		_, err = f.registry.AppendFile(ctx, "alice", ds.ID, "late.bin", []byte{1})
		assert.ErrorIs(t, err, dataset.ErrImmutable)
	})
}

func TestCompleteUpload_HashVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds, err := f.registry.BeginUpload(ctx, "alice", newMetadata("scan"), "")
	require.NoError(t, err)
	_, err = f.registry.AppendFile(ctx, "alice", ds.ID, "a.bin", []byte("payload"))
	require.NoError(t, err)

	// Wrong claim: rejected, dataset stays incomplete.
	_, err = f.registry.CompleteUpload(ctx, "alice", ds.ID, "deadbeef")
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrIntegrity)

	got, err := f.registry.Read(ctx, "alice", ds.ID)
	require.NoError(t, err)
	assert.False(t, got.Complete, "failed verification must not seal the dataset")

	// Correct claim on retry succeeds.
	want, err := integrity.Digest(ctx, got.Content, f.blobs)
	require.NoError(t, err)
	sealed, err := f.registry.CompleteUpload(ctx, "alice", ds.ID, want)
	require.NoError(t, err)
	assert.True(t, sealed.Complete)
	assert.Equal(t, want, sealed.Hash)
}

func TestCompleteUpload_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds, err := f.registry.BeginUpload(ctx, "alice", newMetadata("scan"), "")
	require.NoError(t, err)

	_, err = f.registry.CompleteUpload(ctx, "alice", ds.ID, "")
	assert.ErrorIs(t, err, dataset.ErrValidation, "empty manifest cannot complete")

	_, err = f.registry.AppendFile(ctx, "alice", ds.ID, "a.bin", []byte{1})
	require.NoError(t, err)
	_, err = f.registry.CompleteUpload(ctx, "alice", ds.ID, "")
	require.NoError(t, err)

	_, err = f.registry.CompleteUpload(ctx, "alice", ds.ID, "")
	assert.ErrorIs(t, err, dataset.ErrImmutable, "double completion is rejected")
}

func TestVersionChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := uploadComplete(t, f, "alice", "scan v1", "", map[string][]byte{"a.bin": {1}})
	v2 := uploadComplete(t, f, "alice", "scan v2", v1.ID, map[string][]byte{"a.bin": {1, 2}})

	t.Run("chain query", func(t *testing.T) {
		seq, err := f.registry.Chain(ctx, "alice", v1.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{v1.ID, v2.ID}, seq)
	})

	t.Run("second successor conflicts", func(t *testing.T) {
		_, err := f.registry.BeginUpload(ctx, "alice", newMetadata("scan v2b"), v1.ID)
		assert.ErrorIs(t, err, dataset.ErrChainConflict)
	})

	t.Run("unknown predecessor", func(t *testing.T) {
		_, err := f.registry.BeginUpload(ctx, "alice", newMetadata("scan"), "no-such-id")
		assert.ErrorIs(t, err, dataset.ErrNotFound)
	})

	t.Run("replacing needs write on predecessor", func(t *testing.T) {
		_, err := f.registry.BeginUpload(ctx, "mallory", newMetadata("hijack"), v2.ID)
		assert.ErrorIs(t, err, dataset.ErrForbidden)
	})

	t.Run("granted writer may replace", func(t *testing.T) {
		require.NoError(t, f.registry.UpdatePermissions(ctx, "alice", v2.ID,
			[]dataset.Grant{{Subject: dataset.User("bob"), Operation: dataset.OpWrite}}, nil))
		v3, err := f.registry.BeginUpload(ctx, "bob", newMetadata("scan v3"), v2.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", v3.Owner)
	})
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds := uploadComplete(t, f, "alice", "scan", "", map[string][]byte{"a.bin": {1}})

	t.Run("non-writer forbidden", func(t *testing.T) {
		err := f.registry.Invalidate(ctx, "mallory", ds.ID)
		assert.ErrorIs(t, err, dataset.ErrForbidden)
	})

	require.NoError(t, f.registry.Invalidate(ctx, "alice", ds.ID))
	require.NoError(t, f.registry.Invalidate(ctx, "alice", ds.ID), "invalidation is idempotent")

	t.Run("tombstone retains read", func(t *testing.T) {
		got, err := f.registry.Read(ctx, "alice", ds.ID)
		require.NoError(t, err)
		assert.True(t, got.Invalidated)
	})

	t.Run("hidden from listings", func(t *testing.T) {
		visible, err := f.registry.ListVisible(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, visible)
	})

	t.Run("writes rejected", func(t *testing.T) {
		_, err := f.registry.AppendFile(ctx, "alice", ds.ID, "b.bin", []byte{2})
		assert.ErrorIs(t, err, dataset.ErrImmutable)
	})
}

func TestReadAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds := uploadComplete(t, f, "alice", "scan", "", map[string][]byte{"a.bin": {1}})

	_, err := f.registry.Read(ctx, "bob", ds.ID)
	assert.ErrorIs(t, err, dataset.ErrForbidden)

	_, err = f.registry.Read(ctx, "bob", "no-such-id")
	assert.ErrorIs(t, err, dataset.ErrNotFound)

	require.NoError(t, f.registry.UpdatePermissions(ctx, "alice", ds.ID,
		[]dataset.Grant{{Subject: dataset.User("bob"), Operation: dataset.OpRead}}, nil))

	got, err := f.registry.Read(ctx, "bob", ds.ID)
	require.NoError(t, err)
	assert.Equal(t, ds.ID, got.ID)

	// Read does not imply write.
	_, err = f.registry.AppendFile(ctx, "bob", ds.ID, "b.bin", []byte{2})
	assert.ErrorIs(t, err, dataset.ErrForbidden)
}

func TestReadFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds := uploadComplete(t, f, "alice", "scan", "", map[string][]byte{
		"a.bin": {0xAA, 0xBB},
	})

	data, err := f.registry.ReadFile(ctx, "alice", ds.ID, "a.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, data)

	_, err = f.registry.ReadFile(ctx, "alice", ds.ID, "missing.bin")
	assert.ErrorIs(t, err, dataset.ErrNotFound)

	_, err = f.registry.ReadFile(ctx, "bob", ds.ID, "a.bin")
	assert.ErrorIs(t, err, dataset.ErrForbidden)
}

func TestListVisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	st := store.NewInMemoryStore()
	bl := blob.NewMemoryStore()
	resolver := groups.NewStaticResolver()
	reg := registry.New(st, bl, authz.NewMatrix(st, resolver), chain.NewManager(st),
		registry.WithClock(func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}))
	f = &fixture{registry: reg, store: st, blobs: bl, groups: resolver}

	older := uploadComplete(t, f, "alice", "older", "", map[string][]byte{"a": {1}})
	newer := uploadComplete(t, f, "alice", "newer", "", map[string][]byte{"a": {1}})
	other := uploadComplete(t, f, "carol", "carols", "", map[string][]byte{"a": {1}})

	visible, err := f.registry.ListVisible(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, newer.ID, visible[0].ID, "newest upload first")
	assert.Equal(t, older.ID, visible[1].ID)

	t.Run("group grant extends visibility", func(t *testing.T) {
		f.groups.Assign("alice", "lab-7")
		require.NoError(t, f.registry.UpdatePermissions(ctx, "carol", other.ID,
			[]dataset.Grant{{Subject: dataset.Group("lab-7"), Operation: dataset.OpRead}}, nil))

		visible, err := f.registry.ListVisible(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, visible, 3)
	})

	t.Run("stranger sees nothing", func(t *testing.T) {
		visible, err := f.registry.ListVisible(ctx, "mallory")
		require.NoError(t, err)
		assert.Empty(t, visible)
	})
}

func TestVisibleSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := uploadComplete(t, f, "alice", "first", "", map[string][]byte{"a": {1}})
	second := uploadComplete(t, f, "alice", "second", "", map[string][]byte{"a": {2}})
	uploadComplete(t, f, "carol", "carols", "", map[string][]byte{"a": {3}})

	seq, seqErr, err := f.registry.Visible(ctx, "alice")
	require.NoError(t, err)

	var ids []string
	for ds := range seq {
		ids = append(ids, ds.ID)
	}
	require.NoError(t, seqErr())
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	t.Run("restartable", func(t *testing.T) {
		count := 0
		for range seq {
			count++
		}
		require.NoError(t, seqErr())
		assert.Equal(t, 2, count, "second pass yields the same snapshot")
	})

	t.Run("early break", func(t *testing.T) {
		for range seq {
			break
		}
		require.NoError(t, seqErr())
	})
}

func TestUpdatePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds := uploadComplete(t, f, "alice", "scan", "", map[string][]byte{"a": {1}})

	t.Run("owner only", func(t *testing.T) {
		err := f.registry.UpdatePermissions(ctx, "bob", ds.ID,
			[]dataset.Grant{{Subject: dataset.User("bob"), Operation: dataset.OpRead}}, nil)
		assert.ErrorIs(t, err, dataset.ErrForbidden)
	})

	t.Run("invalid grants rejected atomically", func(t *testing.T) {
		err := f.registry.UpdatePermissions(ctx, "alice", ds.ID, []dataset.Grant{
			{Subject: dataset.User("bob"), Operation: dataset.OpRead},
			{Subject: dataset.User("bob"), Operation: "admin"},
		}, nil)
		assert.ErrorIs(t, err, dataset.ErrValidation)

		_, err = f.registry.Read(ctx, "bob", ds.ID)
		assert.ErrorIs(t, err, dataset.ErrForbidden, "no partial application")
	})

	t.Run("grant and revoke round trip", func(t *testing.T) {
		require.NoError(t, f.registry.UpdatePermissions(ctx, "alice", ds.ID,
			[]dataset.Grant{{Subject: dataset.User("bob"), Operation: dataset.OpRead}}, nil))
		_, err := f.registry.Read(ctx, "bob", ds.ID)
		require.NoError(t, err)

		require.NoError(t, f.registry.UpdatePermissions(ctx, "alice", ds.ID, nil,
			[]dataset.Grant{{Subject: dataset.User("bob"), Operation: dataset.OpRead}}))
		_, err = f.registry.Read(ctx, "bob", ds.ID)
		assert.ErrorIs(t, err, dataset.ErrForbidden)
	})

	t.Run("owner grant is not materialized", func(t *testing.T) {
		require.NoError(t, f.registry.UpdatePermissions(ctx, "alice", ds.ID,
			[]dataset.Grant{{Subject: dataset.User("alice"), Operation: dataset.OpRead}}, nil))
		acl, err := f.registry.Permissions(ctx, "alice", ds.ID)
		require.NoError(t, err)
		assert.NotContains(t, acl.Read.Users, "alice")
	})

	t.Run("permission listing is owner only", func(t *testing.T) {
		_, err := f.registry.Permissions(ctx, "bob", ds.ID)
		assert.ErrorIs(t, err, dataset.ErrForbidden)
	})
}

func TestConcurrentSuccessors_OnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := uploadComplete(t, f, "alice", "scan v1", "", map[string][]byte{"a": {1}})

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.registry.BeginUpload(ctx, "alice", newMetadata("racer"), v1.ID)
		}(i)
	}
	wg.Wait()

	var won, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		default:
			assert.ErrorIs(t, err, dataset.ErrChainConflict)
			conflicted++
		}
	}
	assert.Equal(t, 1, won, "exactly one successor may link")
	assert.Equal(t, attempts-1, conflicted)
}

// gatedBlobStore parks every Get until released, so a completion digest can
// be held mid-flight while it owns the dataset lock.
type gatedBlobStore struct {
	blob.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.Store.Get(ctx, ref)
}

func TestPermissionUpdateSerializesWithCompletion(t *testing.T) {
	st := store.NewInMemoryStore()
	gated := &gatedBlobStore{
		Store:   blob.NewMemoryStore(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	resolver := groups.NewStaticResolver()
	reg := registry.New(st, gated, authz.NewMatrix(st, resolver), chain.NewManager(st))
	ctx := context.Background()

	ds, err := reg.BeginUpload(ctx, "alice", newMetadata("serialized"), "")
	require.NoError(t, err)
	_, err = reg.AppendFile(ctx, "alice", ds.ID, "data/a.bin", []byte{1, 2, 3})
	require.NoError(t, err)

	completed := make(chan error, 1)
	go func() {
		_, err := reg.CompleteUpload(ctx, "alice", ds.ID, "")
		completed <- err
	}()
	<-gated.entered

	updated := make(chan error, 1)
	go func() {
		updated <- reg.UpdatePermissions(ctx, "alice", ds.ID,
			[]dataset.Grant{{Subject: dataset.User("bob"), Operation: dataset.OpRead}}, nil)
	}()

	select {
	case err := <-updated:
		t.Fatalf("permission update finished while completion held the dataset lock: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(gated.release)
	require.NoError(t, <-completed)
	require.NoError(t, <-updated)

	got, err := reg.Read(ctx, "bob", ds.ID)
	require.NoError(t, err)
	assert.True(t, got.Complete)
}
