package blob

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	gcmNonceSize = 12
	gcmOverhead  = 16
)

// EncryptedFileStore is a filesystem content store with at-rest encryption.
// Files are still addressed by the SHA-256 of their plaintext, so references
// and integrity digests are identical to the plain FileStore; on disk each
// payload is sealed with AES-256-GCM under a per-object key derived from the
// master key via HKDF.
type EncryptedFileStore struct {
	baseDir   string
	masterKey []byte
	mu        sync.RWMutex
}

// NewEncryptedFileStore creates an encrypting content store rooted at
// baseDir. masterKey must be at least 32 bytes.
func NewEncryptedFileStore(baseDir string, masterKey []byte) (*EncryptedFileStore, error) {
	if len(masterKey) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes, got %d", len(masterKey))
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure blob dir: %w", err)
	}
	return &EncryptedFileStore{baseDir: baseDir, masterKey: append([]byte(nil), masterKey...)}, nil
}

// objectKey derives the AES key for one object. Binding the key to the
// content reference means a blob copied to another path cannot be decrypted
// under a different identity.
func (s *EncryptedFileStore) objectKey(raw string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, s.masterKey, []byte(raw), []byte("datakeep/blob/v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive object key: %w", err)
	}
	return key, nil
}

func (s *EncryptedFileStore) aead(raw string) (cipher.AEAD, error) {
	key, err := s.objectKey(raw)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

func (s *EncryptedFileStore) path(raw string) string {
	return filepath.Join(s.baseDir, raw+".sealed")
}

func (s *EncryptedFileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := Ref(data)
	raw, _ := parseRef(ref)
	path := s.path(raw)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	gcm, err := s.aead(raw)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, data, []byte(raw))

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return "", fmt.Errorf("write sealed blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit sealed blob: %w", err)
	}
	return ref, nil
}

func (s *EncryptedFileStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(s.path(raw))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("read sealed blob: %w", err)
	}
	if len(sealed) < gcmNonceSize {
		return nil, fmt.Errorf("sealed blob %s is truncated", ref)
	}

	gcm, err := s.aead(raw)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, sealed[:gcmNonceSize], sealed[gcmNonceSize:], []byte(raw))
	if err != nil {
		return nil, fmt.Errorf("unseal blob %s: %w", ref, err)
	}
	return plain, nil
}

func (s *EncryptedFileStore) Size(_ context.Context, ref string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseRef(ref)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(s.path(raw))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return 0, fmt.Errorf("stat sealed blob: %w", err)
	}
	return info.Size() - gcmNonceSize - gcmOverhead, nil
}

func (s *EncryptedFileStore) Exists(_ context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.path(raw))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat sealed blob: %w", err)
}
