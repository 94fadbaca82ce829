package slave

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cocaine-go/cocained/internal/isolate"
	"github.com/cocaine-go/cocained/internal/transport"
	"github.com/cocaine-go/cocained/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOwner struct {
	mu       sync.Mutex
	idle     []types.SlaveID
	broken   []brokenCall
	dead     []types.SlaveID
	idleCh   chan struct{}
	brokenCh chan struct{}
	deadCh   chan struct{}
}

type brokenCall struct {
	job      *types.Job
	streamed bool
	reason   BreakReason
}

func newRecordingOwner() *recordingOwner {
	return &recordingOwner{
		idleCh:   make(chan struct{}, 16),
		brokenCh: make(chan struct{}, 16),
		deadCh:   make(chan struct{}, 16),
	}
}

func (o *recordingOwner) SlaveIdle(s *Slave) {
	o.mu.Lock()
	o.idle = append(o.idle, s.ID())
	o.mu.Unlock()
	o.idleCh <- struct{}{}
}

// SlaveBroken stands in for the engine's loss policy (spec.md §4.3): since
// these tests exercise the slave in isolation, with no queue to re-admit
// into, it always fails the job rather than re-queueing.
func (o *recordingOwner) SlaveBroken(s *Slave, job *types.Job, streamed bool, reason BreakReason) {
	o.mu.Lock()
	o.broken = append(o.broken, brokenCall{job: job, streamed: streamed, reason: reason})
	o.mu.Unlock()
	if job != nil && job.Upstream != nil {
		job.Upstream.Complete(types.StatusFailed, string(reason))
	}
	o.brokenCh <- struct{}{}
}

func (o *recordingOwner) SlaveDead(s *Slave) {
	o.mu.Lock()
	o.dead = append(o.dead, s.ID())
	o.mu.Unlock()
	o.deadCh <- struct{}{}
}

func (o *recordingOwner) JobCompleted(s *Slave, job *types.Job, status types.JobStatus) {}

func await(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func testProfile() types.Profile {
	return types.Profile{
		Name:               "app",
		StartupTimeout:     2 * time.Second,
		HeartbeatTimeout:   2 * time.Second,
		IdleTimeout:        time.Hour,
		TerminationTimeout: time.Second,
		PoolLimit:          4,
	}
}

type recordingUpstream struct {
	mu       sync.Mutex
	chunks   [][]byte
	status   types.JobStatus
	reason   string
	doneCh   chan struct{}
}

func newRecordingUpstream() *recordingUpstream {
	return &recordingUpstream{doneCh: make(chan struct{}, 1)}
}

func (u *recordingUpstream) Chunk(payload []byte) {
	u.mu.Lock()
	u.chunks = append(u.chunks, payload)
	u.mu.Unlock()
}

func (u *recordingUpstream) Complete(status types.JobStatus, reason string) {
	u.mu.Lock()
	u.status = status
	u.reason = reason
	u.mu.Unlock()
	u.doneCh <- struct{}{}
}

// spawnAndHandshake brings a slave from unknown to idle, attaching one end
// of an in-memory pipe as its transport and driving the handshake frame
// the worker process would send on startup.
func spawnAndHandshake(t *testing.T, s *Slave, iso *isolate.FakeIsolate) (engineSide transport.Channel) {
	t.Helper()

	require.NoError(t, s.Spawn(context.Background(), isolate.Spec{App: "app"}))

	engineSide, slaveSide := transport.Pipe()
	s.AttachChannel(slaveSide)

	require.NoError(t, engineSide.WriteFrame(context.Background(), transport.Frame{Kind: transport.FrameHandshake}))

	return engineSide
}

func TestSpawnHandshakeReachesIdle(t *testing.T) {
	owner := newRecordingOwner()
	iso := isolate.NewFakeIsolate()
	s := New("slave-1", "app", testProfile(), iso, owner)

	spawnAndHandshake(t, s, iso)

	await(t, owner.idleCh, "SlaveIdle after handshake")
	assert.Equal(t, types.SlaveIdle, s.State())
}

func TestAssignDeliversInvokeFrameAndChunksThenChoke(t *testing.T) {
	owner := newRecordingOwner()
	iso := isolate.NewFakeIsolate()
	s := New("slave-1", "app", testProfile(), iso, owner)

	engineSide := spawnAndHandshake(t, s, iso)
	await(t, owner.idleCh, "initial idle")

	up := newRecordingUpstream()
	job := &types.Job{ID: "job-1", Method: "echo", Payload: []byte("hi"), Upstream: up}

	require.NoError(t, s.Assign(job))
	assert.Equal(t, types.SlaveBusy, s.State())

	invoke, err := engineSide.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.FrameInvoke, invoke.Kind)
	assert.Equal(t, "echo", invoke.Method)

	require.NoError(t, engineSide.WriteFrame(context.Background(), transport.Frame{Kind: transport.FrameChunk, Payload: []byte("chunk")}))
	require.NoError(t, engineSide.WriteFrame(context.Background(), transport.Frame{Kind: transport.FrameChoke}))

	await(t, owner.idleCh, "idle after choke")
	<-up.doneCh

	assert.Equal(t, types.StatusCompleted, up.status)
	require.Len(t, up.chunks, 1)
	assert.Equal(t, []byte("chunk"), up.chunks[0])
	assert.Equal(t, types.SlaveIdle, s.State())
	assert.Nil(t, s.AssignedJob())
}

func TestAssignFailsWhenNotIdle(t *testing.T) {
	owner := newRecordingOwner()
	iso := isolate.NewFakeIsolate()
	s := New("slave-1", "app", testProfile(), iso, owner)

	err := s.Assign(&types.Job{ID: "job-1"})
	assert.ErrorIs(t, err, ErrNotIdle)
}

func TestHeartbeatTimeoutBreaksSlaveAndFailsAssignedJob(t *testing.T) {
	owner := newRecordingOwner()
	iso := isolate.NewFakeIsolate()

	profile := testProfile()
	profile.HeartbeatTimeout = 50 * time.Millisecond

	s := New("slave-1", "app", profile, iso, owner)
	spawnAndHandshake(t, s, iso)
	await(t, owner.idleCh, "initial idle")

	up := newRecordingUpstream()
	job := &types.Job{ID: "job-1", Method: "echo", Upstream: up}
	require.NoError(t, s.Assign(job))

	await(t, owner.brokenCh, "broken after heartbeat timeout")
	<-up.doneCh

	assert.Equal(t, types.StatusFailed, up.status)
	assert.Equal(t, string(ReasonHeartbeatTimeout), up.reason)

	owner.mu.Lock()
	require.Len(t, owner.broken, 1)
	assert.Equal(t, ReasonHeartbeatTimeout, owner.broken[0].reason)
	assert.False(t, owner.broken[0].streamed)
	owner.mu.Unlock()

	assert.Equal(t, types.SlaveBroken, s.State())
}

func TestStreamedJobReportedAsStreamedOnBreak(t *testing.T) {
	owner := newRecordingOwner()
	iso := isolate.NewFakeIsolate()

	profile := testProfile()
	profile.HeartbeatTimeout = 80 * time.Millisecond

	s := New("slave-1", "app", profile, iso, owner)
	engineSide := spawnAndHandshake(t, s, iso)
	await(t, owner.idleCh, "initial idle")

	up := newRecordingUpstream()
	job := &types.Job{ID: "job-1", Method: "echo", Upstream: up}
	require.NoError(t, s.Assign(job))

	_, err := engineSide.ReadFrame(context.Background())
	require.NoError(t, err)

	require.NoError(t, engineSide.WriteFrame(context.Background(), transport.Frame{Kind: transport.FrameChunk, Payload: []byte("partial")}))

	await(t, owner.brokenCh, "broken after heartbeat timeout")

	owner.mu.Lock()
	require.Len(t, owner.broken, 1)
	assert.True(t, owner.broken[0].streamed)
	owner.mu.Unlock()
}

func TestKillAfterBrokenReapsProcessAndNotifiesDead(t *testing.T) {
	owner := newRecordingOwner()
	iso := isolate.NewFakeIsolate()
	s := New("slave-1", "app", testProfile(), iso, owner)
	engineSide := spawnAndHandshake(t, s, iso)
	await(t, owner.idleCh, "initial idle")

	// A second handshake on an idle slave is a protocol error and breaks it.
	require.NoError(t, engineSide.WriteFrame(context.Background(), transport.Frame{Kind: transport.FrameHandshake}))
	await(t, owner.brokenCh, "broken after protocol error")

	s.Kill(context.Background())

	await(t, owner.deadCh, "dead after kill")
	assert.Equal(t, types.SlaveDead, s.State())
}

func TestProcessCrashBreaksSlave(t *testing.T) {
	owner := newRecordingOwner()
	iso := isolate.NewFakeIsolate()
	s := New("slave-1", "app", testProfile(), iso, owner)

	require.NoError(t, s.Spawn(context.Background(), isolate.Spec{App: "app"}))

	iso.Crash(s.handle, 9)

	await(t, owner.brokenCh, "broken after process crash")
	assert.Equal(t, types.SlaveBroken, s.State())
}

func TestIdleTimeoutTerminatesGracefully(t *testing.T) {
	owner := newRecordingOwner()
	iso := isolate.NewFakeIsolate()

	profile := testProfile()
	profile.IdleTimeout = 50 * time.Millisecond
	profile.TerminationTimeout = 50 * time.Millisecond

	s := New("slave-1", "app", profile, iso, owner)
	engineSide := spawnAndHandshake(t, s, iso)
	await(t, owner.idleCh, "initial idle")

	frame, err := engineSide.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.FrameTerminate, frame.Kind)
	assert.Equal(t, types.SlaveTerminating, s.State())

	await(t, owner.deadCh, "dead after termination_timeout")
	assert.Equal(t, types.SlaveDead, s.State())
}

func TestTerminateFromIdleStopsIdleTimerAndSendsTerminate(t *testing.T) {
	owner := newRecordingOwner()
	iso := isolate.NewFakeIsolate()

	profile := testProfile()
	profile.TerminationTimeout = 50 * time.Millisecond

	s := New("slave-1", "app", profile, iso, owner)
	engineSide := spawnAndHandshake(t, s, iso)
	await(t, owner.idleCh, "initial idle")

	s.Terminate()
	assert.Equal(t, types.SlaveTerminating, s.State())

	frame, err := engineSide.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.FrameTerminate, frame.Kind)

	await(t, owner.deadCh, "dead after termination_timeout")
}

func TestProtocolErrorWithoutHandshakeBreaksSlave(t *testing.T) {
	owner := newRecordingOwner()
	iso := isolate.NewFakeIsolate()
	s := New("slave-1", "app", testProfile(), iso, owner)

	require.NoError(t, s.Spawn(context.Background(), isolate.Spec{App: "app"}))
	engineSide, slaveSide := transport.Pipe()
	s.AttachChannel(slaveSide)

	// A chunk frame before handshake is a protocol violation.
	require.NoError(t, engineSide.WriteFrame(context.Background(), transport.Frame{Kind: transport.FrameChunk}))

	await(t, owner.brokenCh, "broken after protocol error")
	assert.Equal(t, types.SlaveBroken, s.State())
}
