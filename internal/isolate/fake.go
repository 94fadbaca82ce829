package isolate

import (
	"context"
	"sync"
	"time"
)

// FakeIsolate is an in-memory Isolate for tests. Spawned processes never
// exit on their own; tests drive their lifecycle explicitly via Crash or
// by calling Terminate.
type FakeIsolate struct {
	mu      sync.Mutex
	handles map[*fakeHandle]struct{}
}

// NewFakeIsolate returns a test Isolate whose spawned handles stay alive
// until the test crashes or terminates them.
func NewFakeIsolate() *FakeIsolate {
	return &FakeIsolate{handles: make(map[*fakeHandle]struct{})}
}

type fakeHandle struct {
	spec   Spec
	events chan Event

	mu   sync.Mutex
	done bool
}

func (h *fakeHandle) Events() <-chan Event { return h.events }

func (f *FakeIsolate) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	h := &fakeHandle{spec: spec, events: make(chan Event, 1)}

	f.mu.Lock()
	f.handles[h] = struct{}{}
	f.mu.Unlock()

	return h, nil
}

func (f *FakeIsolate) Terminate(ctx context.Context, handle Handle, grace time.Duration) error {
	h, ok := handle.(*fakeHandle)
	if !ok {
		return errNotOurHandle
	}
	f.finish(h, Event{Kind: EventExited, Code: 0})
	return nil
}

func (f *FakeIsolate) Status(handle Handle) (bool, error) {
	h, ok := handle.(*fakeHandle)
	if !ok {
		return false, errNotOurHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.done, nil
}

// Crash simulates the worker process dying unexpectedly, as opposed to a
// graceful Terminate.
func (f *FakeIsolate) Crash(handle Handle, sig int) {
	h, ok := handle.(*fakeHandle)
	if !ok {
		return
	}
	f.finish(h, Event{Kind: EventCrashed, Sig: sig})
}

func (f *FakeIsolate) finish(h *fakeHandle, ev Event) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	h.mu.Unlock()

	h.events <- ev
	close(h.events)

	f.mu.Lock()
	delete(f.handles, h)
	f.mu.Unlock()
}
