// Package slave implements the worker-process state machine from spec.md
// §4.2: spawn, handshake, assign, heartbeat, idle, terminate. It is
// grounded on the teacher's internal/worker.Worker (a single goroutine
// draining one task at a time) generalized so each Slave owns its own
// Isolate-spawned process and Transport channel instead of sharing a pool
// channel, and carries the full timeout-at-every-transition FSM spec.md
// requires.
package slave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cocaine-go/cocained/internal/isolate"
	"github.com/cocaine-go/cocained/internal/transport"
	"github.com/cocaine-go/cocained/pkg/types"
)

// ErrNotIdle is returned by Assign when the slave cannot accept a job.
var ErrNotIdle = errors.New("slave: not idle")

// BreakReason explains why a slave transitioned to broken.
type BreakReason string

const (
	ReasonStartupTimeout   BreakReason = "startup_timeout"
	ReasonHeartbeatTimeout BreakReason = "worker_stalled"
	ReasonProtocolError    BreakReason = "worker_protocol"
	ReasonProcessExit      BreakReason = "worker_broken"
)

// Owner receives lifecycle notifications from a Slave. It is implemented by
// the engine that owns the slave's table; a Slave never mutates engine
// state directly.
type Owner interface {
	// SlaveIdle reports that s has become available for a new job.
	SlaveIdle(s *Slave)

	// SlaveBroken reports that s can no longer serve jobs. If job is
	// non-nil it was assigned to s at the moment of failure; streamed
	// reports whether the job had already received at least one response
	// frame (per spec.md §4.3, streamed jobs are failed, not re-queued).
	// The owner must eventually call s.Kill to reap the process and
	// receive SlaveDead.
	SlaveBroken(s *Slave, job *types.Job, streamed bool, reason BreakReason)

	// SlaveDead reports that s has fully exited and can be pruned from
	// the slave table.
	SlaveDead(s *Slave)

	// JobCompleted reports that job reached a terminal outcome via a
	// normal protocol frame (choke or error) while assigned to s. The
	// slave has already delivered the outcome to job.Upstream; this
	// callback exists so the owner can update counters and drop any
	// loss-policy bookkeeping for job.ID.
	JobCompleted(s *Slave, job *types.Job, status types.JobStatus)
}

// Slave is one worker process serving at most one job at a time for one
// app.
type Slave struct {
	id      types.SlaveID
	app     string
	profile types.Profile
	iso     isolate.Isolate
	owner   Owner

	mu            sync.Mutex
	state         types.SlaveState
	handle        isolate.Handle
	channel       transport.Channel
	assigned      *types.Job
	streamed      bool
	lastHeartbeat time.Time

	startupTimer     *time.Timer
	heartbeatTimer   *time.Timer
	idleTimer        *time.Timer
	terminationTimer *time.Timer

	readDone chan struct{}
}

// New creates a Slave in state unknown. Call Spawn to bring it to life.
func New(id types.SlaveID, app string, profile types.Profile, iso isolate.Isolate, owner Owner) *Slave {
	return &Slave{
		id:      id,
		app:     app,
		profile: profile,
		iso:     iso,
		owner:   owner,
		state:   types.SlaveUnknown,
	}
}

// ID returns the slave's identifier.
func (s *Slave) ID() types.SlaveID { return s.id }

// State returns the slave's current state.
func (s *Slave) State() types.SlaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AssignedJob returns the job currently assigned to this slave, or nil.
func (s *Slave) AssignedJob() *types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assigned
}

// Spawn asks the Isolate collaborator to start the worker process and
// arms the startup_timeout watchdog. It does not block on the handshake.
func (s *Slave) Spawn(ctx context.Context, spec isolate.Spec) error {
	s.mu.Lock()
	if s.state != types.SlaveUnknown {
		s.mu.Unlock()
		return errors.New("slave: already spawned")
	}
	s.state = types.SlaveSpawning
	s.mu.Unlock()

	handle, err := s.iso.Spawn(ctx, spec)
	if err != nil {
		s.mu.Lock()
		s.state = types.SlaveBroken
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.handle = handle
	s.startupTimer = time.AfterFunc(s.profile.StartupTimeout, s.onStartupTimeout)
	s.mu.Unlock()

	go s.watchProcess(handle)

	return nil
}

// AttachChannel binds the transport channel the spawned process dialed
// back on and starts reading frames from it. Called once the Transport
// collaborator has accepted the connection.
func (s *Slave) AttachChannel(ch transport.Channel) {
	s.mu.Lock()
	s.channel = ch
	s.readDone = make(chan struct{})
	s.mu.Unlock()

	go s.readLoop(ch)
}

func (s *Slave) watchProcess(handle isolate.Handle) {
	ev, ok := <-handle.Events()
	if !ok {
		return
	}
	_ = ev
	s.onProcessExit()
}

func (s *Slave) readLoop(ch transport.Channel) {
	defer close(s.readDone)
	ctx := context.Background()
	for {
		f, err := ch.ReadFrame(ctx)
		if err != nil {
			s.onChannelClosed()
			return
		}
		s.onFrame(f)
	}
}

// Assign hands a job to an idle slave: posts the invoke frame, records the
// assignment, and moves the slave to busy. Precondition: state == idle.
func (s *Slave) Assign(job *types.Job) error {
	s.mu.Lock()
	if s.state != types.SlaveIdle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.stopIdleTimerLocked()
	s.assigned = job
	s.streamed = false
	s.state = types.SlaveBusy
	s.resetHeartbeatLocked()
	ch := s.channel
	s.mu.Unlock()

	if ch == nil {
		return errors.New("slave: no channel attached")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return ch.WriteFrame(ctx, transport.Frame{
		Kind:    transport.FrameInvoke,
		Method:  job.Method,
		Payload: job.Payload,
	})
}

// CancelAssigned cancels the slave's in-flight job by sending a best-effort
// terminate frame.
// Per spec.md §5, if the slave does not acknowledge within
// heartbeat_timeout it is treated as broken by the normal heartbeat
// watchdog; CancelAssigned does not itself change state.
func (s *Slave) CancelAssigned() {
	s.mu.Lock()
	ch := s.channel
	assigned := s.assigned
	s.mu.Unlock()

	if ch == nil || assigned == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = ch.WriteFrame(ctx, transport.Frame{Kind: transport.FrameTerminate})
}

// Terminate asks the slave to stop gracefully, arming the
// termination_timeout watchdog. Used for engine/app drains; idle_timeout
// pruning makes the same transition through onIdleTimeout.
func (s *Slave) Terminate() {
	s.mu.Lock()
	if s.state == types.SlaveDead || s.state == types.SlaveBroken || s.state == types.SlaveTerminating {
		s.mu.Unlock()
		return
	}
	s.stopIdleTimerLocked()
	s.state = types.SlaveTerminating
	ch := s.channel
	s.terminationTimer = time.AfterFunc(s.profile.TerminationTimeout, s.onTerminationTimeout)
	s.mu.Unlock()

	if ch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ch.WriteFrame(ctx, transport.Frame{Kind: transport.FrameTerminate})
	}
}

// Kill force-terminates the process immediately, used after a slave has
// already been reported broken. It always ends in SlaveDead.
func (s *Slave) Kill(ctx context.Context) {
	s.mu.Lock()
	if s.state == types.SlaveDead {
		s.mu.Unlock()
		return
	}
	s.state = types.SlaveDead
	handle := s.handle
	ch := s.channel
	s.stopAllTimersLocked()
	s.mu.Unlock()

	if handle != nil {
		_ = s.iso.Terminate(ctx, handle, 0)
	}
	if ch != nil {
		_ = ch.Close()
	}
	s.owner.SlaveDead(s)
}

func (s *Slave) onFrame(f transport.Frame) {
	s.mu.Lock()
	s.resetHeartbeatLocked()

	switch f.Kind {
	case transport.FrameHandshake:
		if s.state != types.SlaveSpawning {
			s.protocolErrorLocked()
			return
		}
		s.stopStartupTimerLocked()
		s.state = types.SlaveIdle
		s.armIdleLocked()
		s.mu.Unlock()
		s.owner.SlaveIdle(s)
		return

	case transport.FrameHeartbeat:
		s.mu.Unlock()
		return

	case transport.FrameChunk:
		if s.state != types.SlaveBusy || s.assigned == nil {
			s.protocolErrorLocked()
			return
		}
		s.streamed = true
		job := s.assigned
		s.mu.Unlock()
		if job.Upstream != nil {
			job.Upstream.Chunk(f.Payload)
		}
		return

	case transport.FrameChoke:
		if s.state != types.SlaveBusy || s.assigned == nil {
			s.protocolErrorLocked()
			return
		}
		job := s.assigned
		s.assigned = nil
		s.streamed = false
		s.state = types.SlaveIdle
		s.armIdleLocked()
		s.mu.Unlock()
		if job.Upstream != nil {
			job.Upstream.Complete(types.StatusCompleted, "")
		}
		s.owner.JobCompleted(s, job, types.StatusCompleted)
		s.owner.SlaveIdle(s)
		return

	case transport.FrameError:
		job := s.assigned
		s.assigned = nil
		s.streamed = false
		if s.state == types.SlaveBusy {
			s.state = types.SlaveIdle
			s.armIdleLocked()
		}
		s.mu.Unlock()
		if job != nil {
			if job.Upstream != nil {
				job.Upstream.Complete(types.StatusFailed, f.Message)
			}
			s.owner.JobCompleted(s, job, types.StatusFailed)
		}
		s.owner.SlaveIdle(s)
		return

	default:
		s.mu.Unlock()
		return
	}
}

// protocolErrorLocked transitions to broken; caller must hold s.mu and not
// unlock afterwards (this method unlocks).
func (s *Slave) protocolErrorLocked() {
	job := s.assigned
	streamed := s.streamed
	s.assigned = nil
	s.state = types.SlaveBroken
	s.stopAllTimersLocked()
	s.mu.Unlock()
	s.owner.SlaveBroken(s, job, streamed, ReasonProtocolError)
}

func (s *Slave) onChannelClosed() {
	s.mu.Lock()
	if s.state == types.SlaveDead || s.state == types.SlaveBroken {
		s.mu.Unlock()
		return
	}
	job := s.assigned
	streamed := s.streamed
	s.assigned = nil
	s.state = types.SlaveBroken
	s.stopAllTimersLocked()
	s.mu.Unlock()
	s.owner.SlaveBroken(s, job, streamed, ReasonProcessExit)
}

func (s *Slave) onProcessExit() {
	s.mu.Lock()
	if s.state == types.SlaveDead || s.state == types.SlaveBroken {
		s.mu.Unlock()
		return
	}
	job := s.assigned
	streamed := s.streamed
	s.assigned = nil
	s.state = types.SlaveBroken
	s.stopAllTimersLocked()
	s.mu.Unlock()
	s.owner.SlaveBroken(s, job, streamed, ReasonProcessExit)
}

func (s *Slave) onStartupTimeout() {
	s.mu.Lock()
	if s.state != types.SlaveSpawning {
		s.mu.Unlock()
		return
	}
	s.state = types.SlaveBroken
	s.stopAllTimersLocked()
	s.mu.Unlock()
	s.owner.SlaveBroken(s, nil, false, ReasonStartupTimeout)
}

func (s *Slave) onHeartbeatTimeout() {
	s.mu.Lock()
	if s.state == types.SlaveDead || s.state == types.SlaveBroken {
		s.mu.Unlock()
		return
	}
	job := s.assigned
	streamed := s.streamed
	s.assigned = nil
	s.state = types.SlaveBroken
	s.stopAllTimersLocked()
	s.mu.Unlock()

	// The owner (engine) decides whether job is re-queued or failed per
	// the loss policy in spec.md §4.3; it is not terminal here.
	s.owner.SlaveBroken(s, job, streamed, ReasonHeartbeatTimeout)
}

func (s *Slave) onIdleTimeout() {
	s.mu.Lock()
	if s.state != types.SlaveIdle {
		s.mu.Unlock()
		return
	}
	s.state = types.SlaveTerminating
	ch := s.channel
	s.terminationTimer = time.AfterFunc(s.profile.TerminationTimeout, s.onTerminationTimeout)
	s.mu.Unlock()

	if ch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ch.WriteFrame(ctx, transport.Frame{Kind: transport.FrameTerminate})
	}
}

func (s *Slave) onTerminationTimeout() {
	s.mu.Lock()
	if s.state == types.SlaveDead {
		s.mu.Unlock()
		return
	}
	handle := s.handle
	ch := s.channel
	s.state = types.SlaveDead
	s.stopAllTimersLocked()
	s.mu.Unlock()

	if handle != nil {
		_ = s.iso.Terminate(context.Background(), handle, 0)
	}
	if ch != nil {
		_ = ch.Close()
	}
	s.owner.SlaveDead(s)
}

func (s *Slave) resetHeartbeatLocked() {
	s.lastHeartbeat = time.Now()
	if s.heartbeatTimeout() <= 0 {
		return
	}
	if s.heartbeatTimer == nil {
		s.heartbeatTimer = time.AfterFunc(s.heartbeatTimeout(), s.onHeartbeatTimeout)
		return
	}
	s.heartbeatTimer.Reset(s.heartbeatTimeout())
}

func (s *Slave) heartbeatTimeout() time.Duration { return s.profile.HeartbeatTimeout }

func (s *Slave) armIdleLocked() {
	if s.idleTimer == nil {
		s.idleTimer = time.AfterFunc(s.profile.IdleTimeout, s.onIdleTimeout)
		return
	}
	s.idleTimer.Reset(s.profile.IdleTimeout)
}

func (s *Slave) stopIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
}

func (s *Slave) stopStartupTimerLocked() {
	if s.startupTimer != nil {
		s.startupTimer.Stop()
	}
}

func (s *Slave) stopAllTimersLocked() {
	if s.startupTimer != nil {
		s.startupTimer.Stop()
	}
	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	if s.terminationTimer != nil {
		s.terminationTimer.Stop()
	}
}
