// Package blob provides content-addressed storage for dataset file payloads.
// Bytes are keyed by their SHA-256 digest ("sha256:<hex>"), which makes puts
// idempotent and lets the integrity layer verify content against references.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when no payload exists under the given reference.
var ErrNotFound = errors.New("blob not found")

// Store is the content-store contract required by the registry core.
type Store interface {
	// Put persists data and returns its content reference (SHA-256).
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves the payload for a reference.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Size returns the payload size for a reference without fetching it
	// where the backend allows; implementations may fall back to Get.
	Size(ctx context.Context, ref string) (int64, error)
	// Exists reports whether the reference resolves to a payload.
	Exists(ctx context.Context, ref string) (bool, error)
}

// Ref computes the content reference for a payload.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// parseRef validates a "sha256:<hex>" reference and returns the hex part.
func parseRef(ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, "sha256:")
	if !ok {
		return "", fmt.Errorf("invalid content reference %q", ref)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid content reference hex: %w", err)
	}
	return raw, nil
}

// FileStore is a filesystem-backed Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a content store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := Ref(data)
	raw, _ := parseRef(ref)
	path := filepath.Join(s.baseDir, raw+".blob")

	// Idempotent: identical content lands on the same path.
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	// Write to temp, then rename, so a crash never leaves a partial blob
	// under its final name.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, raw+".blob"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Size(_ context.Context, ref string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseRef(ref)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(filepath.Join(s.baseDir, raw+".blob"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return 0, fmt.Errorf("stat blob: %w", err)
	}
	return info.Size(), nil
}

func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, raw+".blob"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}
