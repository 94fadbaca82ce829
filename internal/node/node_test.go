package node

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cocaine-go/cocained/internal/isolate"
	"github.com/cocaine-go/cocained/internal/storage"
	"github.com/cocaine-go/cocained/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedManifestAndProfile(t *testing.T, store storage.Storage, appName, profileName string) {
	t.Helper()
	ctx := context.Background()

	manifest := types.Manifest{App: appName, Type: "binary"}
	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "manifests", appName, raw))

	profile := types.Profile{
		Name:               profileName,
		StartupTimeout:     time.Second,
		HeartbeatTimeout:   time.Second,
		IdleTimeout:        time.Hour,
		TerminationTimeout: time.Second,
		PoolLimit:          1,
		QueueLimit:         8,
		GrowThreshold:      1,
	}
	raw, err = json.Marshal(profile)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "profiles", profileName, raw))
}

func TestStartAppThenListThenPause(t *testing.T) {
	store := storage.NewMemory()
	seedManifestAndProfile(t, store, "echo", "default")

	n := New(store, isolate.NewFakeIsolate(), "", nil)

	require.NoError(t, n.StartApp(context.Background(), "echo", "default"))
	assert.Equal(t, []string{"echo"}, n.List())

	require.NoError(t, n.PauseApp("echo"))
	assert.Empty(t, n.List())
}

func TestStartAppTwiceFails(t *testing.T) {
	store := storage.NewMemory()
	seedManifestAndProfile(t, store, "echo", "default")

	n := New(store, isolate.NewFakeIsolate(), "", nil)
	require.NoError(t, n.StartApp(context.Background(), "echo", "default"))

	err := n.StartApp(context.Background(), "echo", "default")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, n.PauseApp("echo"))
}

func TestPauseAppNotRunningFails(t *testing.T) {
	n := New(storage.NewMemory(), isolate.NewFakeIsolate(), "", nil)
	err := n.PauseApp("missing")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStartAppMissingManifestFails(t *testing.T) {
	n := New(storage.NewMemory(), isolate.NewFakeIsolate(), "", nil)
	err := n.StartApp(context.Background(), "echo", "default")
	require.Error(t, err)
}

func TestReconcileStartsEveryRunlistEntryAndSkipsFailures(t *testing.T) {
	store := storage.NewMemory()
	seedManifestAndProfile(t, store, "echo", "default")
	// "broken" has no manifest seeded, so it must fail without blocking
	// "echo" from starting.

	runlist := map[string]string{"echo": "default", "broken": "default"}
	raw, err := json.Marshal(runlist)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "runlists", "default", raw))

	n := New(store, isolate.NewFakeIsolate(), "", nil)
	n.Reconcile(context.Background(), "default")

	assert.Equal(t, []string{"echo"}, n.List())
}

func TestReconcileWithNoRunlistIsANoop(t *testing.T) {
	n := New(storage.NewMemory(), isolate.NewFakeIsolate(), "", nil)
	n.Reconcile(context.Background(), "default")
	assert.Empty(t, n.List())
}

type fakeLeaderChecker struct{ leader bool }

func (f fakeLeaderChecker) IsLeader() bool { return f.leader }

func TestStartAppRejectedWhenNotLeader(t *testing.T) {
	store := storage.NewMemory()
	seedManifestAndProfile(t, store, "echo", "default")

	n := New(store, isolate.NewFakeIsolate(), "", nil)
	n.SetElector(fakeLeaderChecker{leader: false})

	err := n.StartApp(context.Background(), "echo", "default")
	assert.ErrorIs(t, err, ErrNotLeader)
	assert.Empty(t, n.List())
}

func TestPauseAppRejectedWhenNotLeader(t *testing.T) {
	store := storage.NewMemory()
	seedManifestAndProfile(t, store, "echo", "default")

	n := New(store, isolate.NewFakeIsolate(), "", nil)
	require.NoError(t, n.StartApp(context.Background(), "echo", "default"))

	n.SetElector(fakeLeaderChecker{leader: false})
	err := n.PauseApp("echo")
	assert.ErrorIs(t, err, ErrNotLeader)
	assert.Equal(t, []string{"echo"}, n.List())

	n.SetElector(fakeLeaderChecker{leader: true})
	require.NoError(t, n.PauseApp("echo"))
}

func TestStartAppAllowedWhenLeader(t *testing.T) {
	store := storage.NewMemory()
	seedManifestAndProfile(t, store, "echo", "default")

	n := New(store, isolate.NewFakeIsolate(), "", nil)
	n.SetElector(fakeLeaderChecker{leader: true})

	require.NoError(t, n.StartApp(context.Background(), "echo", "default"))
	require.NoError(t, n.PauseApp("echo"))
}
