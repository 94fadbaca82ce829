package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a JSON-document-per-key Storage backed by the filesystem, adapted
// from the teacher's internal/snapshot.Manager: every write goes to a
// temp file in the same directory, then os.Rename replaces the real path,
// so a crash mid-write never leaves a half-written document behind.
type File struct {
	root string
	mu   sync.Mutex
}

// NewFile returns a Storage rooted at dir. Collections are subdirectories
// of dir, created on first write.
func NewFile(dir string) *File {
	return &File{root: dir}
}

func (f *File) collectionDir(collection string) string {
	return filepath.Join(f.root, collection)
}

func (f *File) keyPath(collection, key string) string {
	return filepath.Join(f.collectionDir(collection), key+".json")
}

func (f *File) Get(ctx context.Context, collection, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.keyPath(collection, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read %s/%s: %w", collection, key, err)
	}
	return data, nil
}

func (f *File) Put(ctx context.Context, collection, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.collectionDir(collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", collection, err)
	}

	path := f.keyPath(collection, key)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("storage: write temp %s/%s: %w", collection, key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: rename %s/%s: %w", collection, key, err)
	}
	return nil
}

func (f *File) List(ctx context.Context, collection string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.collectionDir(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list %s: %w", collection, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		keys = append(keys, name[:len(name)-len(".json")])
	}
	return keys, nil
}
