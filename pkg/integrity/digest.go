// Package integrity computes and verifies the content digest of a dataset's
// file manifest. The digest is defined over a canonical serialization (entries
// ordered by NFC-normalized name, each contributing its name, its size, and
// its exact payload bytes) so the result is independent of the
// order in which files were appended during upload.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/datakeep/pkg/blob"
	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
)

// Digest computes the canonical content digest for a manifest, resolving
// payload bytes through the content store. Inline previews are not part of
// the digest; only stored file bytes are hashed.
func Digest(ctx context.Context, entries []dataset.FileEntry, blobs blob.Store) (string, error) {
	ordered := make([]dataset.FileEntry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool {
		return norm.NFC.String(ordered[i].Name) < norm.NFC.String(ordered[j].Name)
	})

	h := sha256.New()
	for _, e := range ordered {
		data, err := blobs.Get(ctx, e.ContentRef)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", e.Name, err)
		}
		if int64(len(data)) != e.Size {
			return "", &Mismatch{
				Entry:    e.Name,
				Expected: strconv.FormatInt(e.Size, 10) + " bytes",
				Computed: strconv.Itoa(len(data)) + " bytes",
			}
		}
		// Canonical record: normalized name, declared size, raw bytes. The
		// separators keep (name, size) pairs from colliding across entries.
		h.Write([]byte(norm.NFC.String(e.Name)))
		h.Write([]byte{'\n'})
		h.Write([]byte(strconv.FormatInt(e.Size, 10)))
		h.Write([]byte{'\n'})
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the manifest digest and compares it to the claimed hash.
// It never mutates state; on mismatch it returns a *Mismatch carrying the
// expected and computed digests for operator diagnosis.
func Verify(ctx context.Context, entries []dataset.FileEntry, blobs blob.Store, claimed string) error {
	computed, err := Digest(ctx, entries, blobs)
	if err != nil {
		return err
	}
	if computed != claimed {
		return &Mismatch{Expected: claimed, Computed: computed}
	}
	return nil
}

// Mismatch reports an integrity failure. Entry names the manifest entry whose
// bytes disagreed with its declaration, or is empty when the aggregate digest
// itself mismatched.
type Mismatch struct {
	Entry    string
	Expected string
	Computed string
}

func (m *Mismatch) Error() string {
	if m.Entry != "" {
		return fmt.Sprintf("integrity: entry %q: expected %s, got %s", m.Entry, m.Expected, m.Computed)
	}
	return fmt.Sprintf("integrity: digest mismatch: claimed %s, computed %s", m.Expected, m.Computed)
}

// Is makes errors.Is(err, dataset.ErrIntegrity) hold for any Mismatch.
func (m *Mismatch) Is(target error) bool {
	return target == dataset.ErrIntegrity
}
