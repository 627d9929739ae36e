package integrity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/datakeep/pkg/blob"
	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
	"github.com/Mindburn-Labs/datakeep/pkg/integrity"
)

func storeEntries(t *testing.T, blobs blob.Store, files map[string][]byte) []dataset.FileEntry {
	t.Helper()
	var out []dataset.FileEntry
	for name, data := range files {
		ref, err := blobs.Put(context.Background(), data)
		require.NoError(t, err)
		out = append(out, dataset.FileEntry{Name: name, Size: int64(len(data)), ContentRef: ref})
	}
	return out
}

func TestDigest_OrderIndependent(t *testing.T) {
	blobs := blob.NewMemoryStore()
	ctx := context.Background()

	entries := storeEntries(t, blobs, map[string][]byte{
		"b.bin":        []byte("bbbb"),
		"a.txt":        []byte("aaaa"),
		"content.json": []byte(`{"k":1}`),
	})

	first, err := integrity.Digest(ctx, entries, blobs)
	require.NoError(t, err)

	// Every rotation of the append order yields the same digest.
	for i := 1; i < len(entries); i++ {
		perm := append(append([]dataset.FileEntry{}, entries[i:]...), entries[:i]...)
		got, err := integrity.Digest(ctx, perm, blobs)
		require.NoError(t, err)
		assert.Equal(t, first, got, "rotation %d", i)
	}
}

func TestDigest_SensitiveToContent(t *testing.T) {
	blobs := blob.NewMemoryStore()
	ctx := context.Background()

	a := storeEntries(t, blobs, map[string][]byte{"a.txt": []byte("aaaa")})
	b := storeEntries(t, blobs, map[string][]byte{"a.txt": []byte("aaab")})

	da, err := integrity.Digest(ctx, a, blobs)
	require.NoError(t, err)
	db, err := integrity.Digest(ctx, b, blobs)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestDigest_NameSizePairsCannotCollide(t *testing.T) {
	blobs := blob.NewMemoryStore()
	ctx := context.Background()

	// "ab" + "c" vs "a" + "bc": same concatenated bytes, different manifests.
	x := storeEntries(t, blobs, map[string][]byte{"f1": []byte("ab"), "f2": []byte("c")})
	y := storeEntries(t, blobs, map[string][]byte{"f1": []byte("a"), "f2": []byte("bc")})

	dx, err := integrity.Digest(ctx, x, blobs)
	require.NoError(t, err)
	dy, err := integrity.Digest(ctx, y, blobs)
	require.NoError(t, err)
	assert.NotEqual(t, dx, dy)
}

func TestDigest_SizeMismatchNamesEntry(t *testing.T) {
	blobs := blob.NewMemoryStore()
	ctx := context.Background()

	ref, err := blobs.Put(ctx, []byte("four"))
	require.NoError(t, err)
	entries := []dataset.FileEntry{{Name: "f.bin", Size: 99, ContentRef: ref}}

	_, err = integrity.Digest(ctx, entries, blobs)
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrIntegrity)

	var mismatch *integrity.Mismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "f.bin", mismatch.Entry)
}

func TestVerify(t *testing.T) {
	blobs := blob.NewMemoryStore()
	ctx := context.Background()
	entries := storeEntries(t, blobs, map[string][]byte{"a.txt": []byte("aaaa")})

	good, err := integrity.Digest(ctx, entries, blobs)
	require.NoError(t, err)

	assert.NoError(t, integrity.Verify(ctx, entries, blobs, good))

	err = integrity.Verify(ctx, entries, blobs, "deadbeef")
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrIntegrity)

	var mismatch *integrity.Mismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "deadbeef", mismatch.Expected)
	assert.Equal(t, good, mismatch.Computed)
	assert.Empty(t, mismatch.Entry)
}

func TestMetadataHash_Stable(t *testing.T) {
	d := &dataset.Dataset{
		Title:         "Scan 7",
		Author:        "A. Researcher",
		Email:         "a@example.org",
		Keywords:      []string{"laser", "hologram"},
		ModelVersion:  "1.0.0",
		ContainerType: dataset.ContainerType{Name: "measurement", Version: "1.1"},
	}
	h1, err := integrity.MetadataHash(d)
	require.NoError(t, err)
	h2, err := integrity.MetadataHash(d)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	d.Comment = "changed"
	h3, _ := integrity.MetadataHash(d)
	assert.NotEqual(t, h1, h3)
}
