// Package storage defines the narrow key-value collaborator the node
// service uses to resolve manifests, profiles, and the runlist (spec.md
// §6, "Storage collaborator"). Two adapters are provided: an in-memory
// store for tests, grounded on the teacher's internal/raft.MemoryLogStore,
// and a JSON-file store grounded on the teacher's
// internal/snapshot.Manager atomic temp-file-then-rename write pattern.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the (collection, key) pair is absent.
var ErrNotFound = errors.New("storage: not found")

// ErrUnavailable is returned when the backing store cannot currently be
// reached; callers should treat this as transient, not as "key absent".
var ErrUnavailable = errors.New("storage: unavailable")

// Storage is the collaborator the node service depends on to load
// manifests, profiles, and the runlist. It is never on the per-job dispatch
// path — only boot-time and control-plane operations touch it.
type Storage interface {
	// Get returns the raw document stored at (collection, key), or
	// ErrNotFound.
	Get(ctx context.Context, collection, key string) ([]byte, error)

	// Put stores value at (collection, key), creating the collection if
	// needed.
	Put(ctx context.Context, collection, key string, value []byte) error

	// List returns every key currently stored in collection, in no
	// particular order.
	List(ctx context.Context, collection string) ([]string, error)
}
