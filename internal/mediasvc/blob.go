package mediasvc

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobStore holds uploaded file contents on the local filesystem,
// addressed by the SHA-256 of their content. Identical uploads share
// one file.
type BlobStore struct {
	dir string
}

// NewBlobStore creates the blob directory if needed.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Write stores the content and returns its blob key.
func (b *BlobStore) Write(r io.Reader) (key string, size int64, err error) {
	tmp, err := os.CreateTemp(b.dir, "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp blob: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	hash := sha256.New()
	size, err = io.Copy(io.MultiWriter(tmp, hash), r)
	if err != nil {
		return "", 0, fmt.Errorf("write blob: %w", err)
	}

	key = hex.EncodeToString(hash.Sum(nil))
	final := b.path(key)
	if _, err := os.Stat(final); err == nil {
		// Content already stored under this key.
		return key, size, nil
	}

	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", 0, fmt.Errorf("finalize blob: %w", err)
	}
	return key, size, nil
}

// Open returns a reader over the blob content. The caller closes it.
func (b *BlobStore) Open(key string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return f, nil
}

// Remove deletes the blob. Removing an absent blob is a no-op.
func (b *BlobStore) Remove(key string) error {
	err := os.Remove(b.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", key, err)
	}
	return nil
}

func (b *BlobStore) path(key string) string {
	return filepath.Join(b.dir, key)
}
