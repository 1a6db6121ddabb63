package image

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/zeebo/blake3"
)

// BlobDiskCache stores blobs on disk, keyed by repository and CID. Writers
// coordinate through a lock file per entry so several processes can share
// one cache directory.
type BlobDiskCache struct {
	dir string
}

func NewBlobDiskCache(dir string) (*BlobDiskCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob cache directory: %w", err)
	}
	return &BlobDiskCache{dir: dir}, nil
}

// Get returns the cached blob, or ok=false when it is not cached.
func (c *BlobDiskCache) Get(did, cid string) ([]byte, bool, error) {
	data, err := os.ReadFile(c.path(did, cid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached blob: %w", err)
	}
	return data, true, nil
}

// Put stores a blob, replacing any existing entry atomically.
func (c *BlobDiskCache) Put(did, cid string, data []byte) error {
	path := c.path(did, cid)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob cache shard: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock blob cache entry: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

// Clear removes a cached blob. Clearing a missing entry is not an error.
func (c *BlobDiskCache) Clear(did, cid string) error {
	path := c.path(did, cid)

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to lock blob cache entry: %w", err)
	}
	defer func() {
		lock.Unlock()
		os.Remove(path + ".lock")
	}()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear cached blob: %w", err)
	}
	return nil
}

func (c *BlobDiskCache) path(did, cid string) string {
	sum := blake3.Sum256([]byte(did + "/" + cid))
	key := hex.EncodeToString(sum[:16])
	return filepath.Join(c.dir, key[:2], key)
}
