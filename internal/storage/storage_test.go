package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStorageContract(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "manifests", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "manifests", "echo", []byte(`{"app":"echo"}`)))
	require.NoError(t, s.Put(ctx, "manifests", "sieve", []byte(`{"app":"sieve"}`)))

	got, err := s.Get(ctx, "manifests", "echo")
	require.NoError(t, err)
	assert.Equal(t, `{"app":"echo"}`, string(got))

	keys, err := s.List(ctx, "manifests")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"echo", "sieve"}, keys)

	keys, err = s.List(ctx, "profiles")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemorySatisfiesStorageContract(t *testing.T) {
	runStorageContract(t, NewMemory())
}

func TestFileSatisfiesStorageContract(t *testing.T) {
	runStorageContract(t, NewFile(t.TempDir()))
}

func TestFilePutIsAtomic(t *testing.T) {
	dir := t.TempDir()
	s := NewFile(dir)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "manifests", "echo", []byte("v1")))
	require.NoError(t, s.Put(ctx, "manifests", "echo", []byte("v2")))

	got, err := s.Get(ctx, "manifests", "echo")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	// No .tmp file should survive a successful write.
	matches, err := filepath.Glob(filepath.Join(dir, "manifests", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryGetReturnsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Put(ctx, "manifests", "echo", []byte("original")))

	got, err := s.Get(ctx, "manifests", "echo")
	require.NoError(t, err)
	got[0] = 'X'

	got2, err := s.Get(ctx, "manifests", "echo")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got2))
}
