package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/datakeep/pkg/chain"
	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
	"github.com/Mindburn-Labs/datakeep/pkg/store"
)

func seedChain(t *testing.T, s store.Store, ids ...string) {
	t.Helper()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	prev := ""
	for i, id := range ids {
		ds := &dataset.Dataset{
			ID:            id,
			Title:         "t",
			Author:        "a",
			Email:         "a@example.org",
			Owner:         "alice",
			ContainerType: dataset.ContainerType{Name: "x"},
			UploadTime:    base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, s.CreateDataset(context.Background(), ds, prev))
		prev = id
	}
}

func TestChainOf_FromAnyMember(t *testing.T) {
	s := store.NewInMemoryStore()
	m := chain.NewManager(s)
	seedChain(t, s, "v1", "v2", "v3")
	ctx := context.Background()

	want := []string{"v1", "v2", "v3"}
	for _, id := range want {
		got, err := m.ChainOf(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "chain queried from %s", id)
	}
}

func TestChainOf_Singleton(t *testing.T) {
	s := store.NewInMemoryStore()
	m := chain.NewManager(s)
	seedChain(t, s, "solo")

	got, err := m.ChainOf(context.Background(), "solo")
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, got)
}

func TestChainOf_Unknown(t *testing.T) {
	m := chain.NewManager(store.NewInMemoryStore())
	_, err := m.ChainOf(context.Background(), "ghost")
	assert.ErrorIs(t, err, dataset.ErrNotFound)
}

func TestValidate_SecondSuccessorConflicts(t *testing.T) {
	s := store.NewInMemoryStore()
	m := chain.NewManager(s)
	seedChain(t, s, "v1", "v2")

	err := m.Validate(context.Background(), "v3", "v1")
	assert.ErrorIs(t, err, dataset.ErrChainConflict)
}

func TestValidate_UnknownPredecessor(t *testing.T) {
	m := chain.NewManager(store.NewInMemoryStore())
	err := m.Validate(context.Background(), "new", "ghost")
	assert.ErrorIs(t, err, dataset.ErrNotFound)
}

func TestValidate_SelfLink(t *testing.T) {
	s := store.NewInMemoryStore()
	m := chain.NewManager(s)
	seedChain(t, s, "v1")

	err := m.Validate(context.Background(), "v1", "v1")
	assert.ErrorIs(t, err, dataset.ErrChainConflict)
}

func TestNeighbors(t *testing.T) {
	s := store.NewInMemoryStore()
	m := chain.NewManager(s)
	seedChain(t, s, "v1", "v2")
	ctx := context.Background()

	succ, err := m.SuccessorOf(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v2", succ)

	pred, err := m.PredecessorOf(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, "v1", pred)

	succ, _ = m.SuccessorOf(ctx, "v2")
	assert.Empty(t, succ)
	pred, _ = m.PredecessorOf(ctx, "v1")
	assert.Empty(t, pred)
}

// faultyStore fails every dataset load with a fixed error.
type faultyStore struct {
	store.Store
	getErr error
}

func (f *faultyStore) GetDataset(ctx context.Context, id string) (*dataset.Dataset, error) {
	return nil, f.getErr
}

func TestValidate_StoreFailureIsNotUnknownPredecessor(t *testing.T) {
	ioErr := errors.New("connection reset by peer")
	m := chain.NewManager(&faultyStore{Store: store.NewInMemoryStore(), getErr: ioErr})

	err := m.Validate(context.Background(), "v2", "v1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ioErr)
	assert.NotErrorIs(t, err, dataset.ErrNotFound)
}
