package node

import (
	"context"
	"testing"

	"github.com/cocaine-go/cocained/internal/isolate"
	"github.com/cocaine-go/cocained/internal/rpc"
	"github.com/cocaine-go/cocained/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCServerStartListPause(t *testing.T) {
	store := storage.NewMemory()
	seedManifestAndProfile(t, store, "echo", "default")

	n := New(store, isolate.NewFakeIsolate(), "", nil)
	s := NewRPCServer(n)

	startResp, err := s.StartApp(context.Background(), &rpc.StartAppRequest{App: "echo", Profile: "default"})
	require.NoError(t, err)
	assert.True(t, startResp.Success)

	listResp, err := s.List(context.Background(), &rpc.ListRequest{})
	require.NoError(t, err)
	require.Len(t, listResp.Apps, 1)
	assert.Equal(t, "echo", listResp.Apps[0].App)

	pauseResp, err := s.PauseApp(context.Background(), &rpc.PauseAppRequest{App: "echo"})
	require.NoError(t, err)
	assert.True(t, pauseResp.Success)
}

func TestRPCServerStartAppNotLeaderReportsErrorKind(t *testing.T) {
	store := storage.NewMemory()
	seedManifestAndProfile(t, store, "echo", "default")

	n := New(store, isolate.NewFakeIsolate(), "", nil)
	n.SetElector(fakeLeaderChecker{leader: false})
	s := NewRPCServer(n)

	resp, err := s.StartApp(context.Background(), &rpc.StartAppRequest{App: "echo", Profile: "default"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, rpc.ErrorKindNotLeader, resp.Error)
}

func TestRPCServerPauseUnknownAppReportsNotFound(t *testing.T) {
	n := New(storage.NewMemory(), isolate.NewFakeIsolate(), "", nil)
	s := NewRPCServer(n)

	resp, err := s.PauseApp(context.Background(), &rpc.PauseAppRequest{App: "missing"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, rpc.ErrorKindNotFound, resp.Error)
}

func TestRPCServerStartAppMissingManifestReportsNotFound(t *testing.T) {
	n := New(storage.NewMemory(), isolate.NewFakeIsolate(), "", nil)
	s := NewRPCServer(n)

	resp, err := s.StartApp(context.Background(), &rpc.StartAppRequest{App: "ghost", Profile: "default"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, rpc.ErrorKindManifestNotFound, resp.Error)
}
