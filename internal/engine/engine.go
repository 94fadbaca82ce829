// Package engine implements the per-app supervisor from spec.md §4.3: it
// owns one app's queue and slave pool, runs the dispatch loop, grows the
// pool on backlog, and applies the job-loss policy when a slave breaks. It
// is grounded on the teacher's internal/controller.Controller, generalized
// from one global job queue driving one worker pool to one queue+pool pair
// per app, and from the teacher's fixed 100ms dispatch ticker to an
// event-driven "kick" channel matching spec.md §4.3's four dispatch
// triggers (enqueue, slave-idle, slave-removed, grow-timer).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cocaine-go/cocained/internal/isolate"
	"github.com/cocaine-go/cocained/internal/queue"
	"github.com/cocaine-go/cocained/internal/slave"
	"github.com/cocaine-go/cocained/internal/transport"
	"github.com/cocaine-go/cocained/pkg/types"
)

var log = slog.Default()

// RejectReason is why Enqueue refused to admit a job (spec.md §4.3,
// "Admission failures").
type RejectReason string

const (
	RejectQueueFull      RejectReason = "queue_full"
	RejectDeadlinePassed RejectReason = "deadline_already_past"
	RejectAppNotRunning  RejectReason = "app_not_running"
	RejectEngineStopped  RejectReason = "engine_stopped"
)

// RejectError is returned by Enqueue when a job cannot be admitted.
type RejectError struct{ Reason RejectReason }

func (e *RejectError) Error() string { return string(e.Reason) }

// AuditSink optionally records admission and terminal-state transitions
// for observability (SPEC_FULL.md §10). A nil sink disables auditing.
// Record is called synchronously from admission, cancellation, the dispatch
// pass and slave callbacks; the engine neither buffers nor times out calls
// into it.
type AuditSink interface {
	Record(app string, event string, jobID types.JobID)
}

// Counters are the engine's job and slave statistics, safe to read
// concurrently with dispatch (spec.md §5).
type Counters struct {
	Spawned    int64
	Completed  int64
	Failed     int64
	QueuedPeak int
}

// SlaveCounts buckets the live slave set by state, for Info().
type SlaveCounts struct {
	Spawning    int
	Idle        int
	Busy        int
	Terminating int
}

// Info is the snapshot Engine.Info returns.
type Info struct {
	App        string
	Slaves     SlaveCounts
	QueueDepth int
	Counters   Counters
	Uptime     time.Duration
}

type slaveEntry struct {
	s         *slave.Slave
	idleSince time.Time
}

// Engine is the per-app supervisor.
type Engine struct {
	app      string
	profile  types.Profile
	endpoint string

	iso   isolate.Isolate
	audit AuditSink

	q *queue.Queue

	mu            sync.Mutex
	slaves        map[types.SlaveID]*slaveEntry
	pendingAttach map[string]*slave.Slave
	idle          []types.SlaveID
	retried       map[types.JobID]struct{}
	nextSlaveSeq  uint64
	counters      Counters

	running   bool
	startedAt time.Time
	stopCh    chan struct{}
	kick      chan struct{}
	loopWg    sync.WaitGroup
}

// New builds an Engine for app, ready to Start. endpoint is passed through
// to the Isolate as the address spawned slaves dial back to.
func New(app string, profile types.Profile, iso isolate.Isolate, endpoint string, audit AuditSink) *Engine {
	profile = profile.Normalize()
	return &Engine{
		app:           app,
		profile:       profile,
		endpoint:      endpoint,
		iso:           iso,
		audit:         audit,
		q:             queue.New(profile.QueueLimit),
		slaves:        make(map[types.SlaveID]*slaveEntry),
		pendingAttach: make(map[string]*slave.Slave),
		retried:       make(map[types.JobID]struct{}),
		kick:          make(chan struct{}, 1),
	}
}

// Start transitions the engine from stopped to running. Idempotent.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.startedAt = time.Now()
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.loopWg.Add(2)
	go e.dispatchLoop()
	go e.growTimerLoop()
	return nil
}

// Stop drains the engine: stops admitting jobs, fails every queued job
// with engine_stopped, signals every slave to terminate, and waits up to
// termination_timeout plus two seconds for the slave set to empty before
// returning (spec.md §4.3).
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	slaves := make([]*slave.Slave, 0, len(e.slaves))
	for _, entry := range e.slaves {
		slaves = append(slaves, entry.s)
	}
	e.mu.Unlock()

	e.loopWg.Wait()

	for {
		job := e.q.Pop()
		if job == nil {
			break
		}
		e.failJob(job, "engine_stopped")
	}

	var wg sync.WaitGroup
	for _, s := range slaves {
		wg.Add(1)
		go func(s *slave.Slave) {
			defer wg.Done()
			s.Terminate()
		}(s)
	}
	wg.Wait()

	deadline := time.Now().Add(e.profile.TerminationTimeout + 2*time.Second)
	for {
		e.mu.Lock()
		n := len(e.slaves)
		e.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			log.Warn("engine stop: slave set did not empty in time", "app", e.app, "remaining", n)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Enqueue admits job for dispatch, returning a RejectError if it cannot be.
func (e *Engine) Enqueue(job *types.Job) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	if !running {
		return &RejectError{Reason: RejectEngineStopped}
	}

	if err := e.q.Push(job, time.Now()); err != nil {
		var qErr *queue.RejectError
		if errors.As(err, &qErr) {
			return &RejectError{Reason: RejectReason(qErr.Reason)}
		}
		return err
	}

	if e.audit != nil {
		e.audit.Record(e.app, "enqueued", job.ID)
	}

	e.mu.Lock()
	if d := e.q.Peak(); d > e.counters.QueuedPeak {
		e.counters.QueuedPeak = d
	}
	e.mu.Unlock()

	e.Kick()
	return nil
}

// Cancel removes job from the queue if still pending. For an in-flight job
// it sends a best-effort terminate frame to the assigned slave (spec.md §5);
// if the slave does not respond within heartbeat_timeout, the normal
// heartbeat watchdog treats it as broken and the loss policy in §4.3
// takes over. Reports whether a pending-or-in-flight job was found.
func (e *Engine) Cancel(id types.JobID) bool {
	if job, ok := e.q.Cancel(id); ok {
		if job.Upstream != nil {
			job.Upstream.Complete(types.StatusCancelled, "cancelled")
		}
		if e.audit != nil {
			e.audit.Record(e.app, "cancelled", job.ID)
		}
		return true
	}

	e.mu.Lock()
	var target *slave.Slave
	for _, entry := range e.slaves {
		if j := entry.s.AssignedJob(); j != nil && j.ID == id {
			target = entry.s
			break
		}
	}
	e.mu.Unlock()

	if target == nil {
		return false
	}
	target.CancelAssigned()
	return true
}

// Info returns a point-in-time snapshot of this engine's counters.
func (e *Engine) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	var counts SlaveCounts
	for _, entry := range e.slaves {
		switch entry.s.State() {
		case types.SlaveSpawning:
			counts.Spawning++
		case types.SlaveIdle:
			counts.Idle++
		case types.SlaveBusy:
			counts.Busy++
		case types.SlaveTerminating:
			counts.Terminating++
		}
	}

	return Info{
		App:        e.app,
		Slaves:     counts,
		QueueDepth: e.q.Depth(),
		Counters:   e.counters,
		Uptime:     time.Since(e.startedAt),
	}
}

// AttachSlave binds a freshly-accepted Transport channel to the slave that
// was spawned with the matching uuid (spec.md §6, the handshake's role in
// correlating a new connection back to the slave that dialed it).
func (e *Engine) AttachSlave(uuid string, ch transport.Channel) error {
	e.mu.Lock()
	s, ok := e.pendingAttach[uuid]
	if ok {
		delete(e.pendingAttach, uuid)
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("engine: no slave pending attach for uuid %q", uuid)
	}
	s.AttachChannel(ch)
	return nil
}

func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) dispatchLoop() {
	defer e.loopWg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.kick:
			e.runDispatchPass()
		}
	}
}

// growTimerLoop fires the grow-timer dispatch trigger on a fixed cadence and
// sweeps the queue for deadline-expired jobs (spec.md §5's deadline timer),
// grounded on the teacher's dispatchLoop/timeoutLoop 100ms/1s tickers merged
// into one, since both are just periodic queue maintenance here.
func (e *Engine) growTimerLoop() {
	defer e.loopWg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.dropExpired()
			e.Kick()
		}
	}
}

func (e *Engine) dropExpired() {
	for _, job := range e.q.DropExpired(time.Now()) {
		if job.Upstream != nil {
			job.Upstream.Complete(types.StatusExpired, "deadline_exceeded")
		}
		if e.audit != nil {
			e.audit.Record(e.app, "deadline_exceeded", job.ID)
		}
	}
}

// runDispatchPass is the scheduler callback from spec.md §4.3: pair idle
// slaves with pending jobs until one side runs dry, then consider growing
// the pool by at most one slave.
func (e *Engine) runDispatchPass() {
	for {
		if e.q.Depth() == 0 {
			break
		}

		e.mu.Lock()
		id, ok := e.popIdleLocked()
		e.mu.Unlock()
		if !ok {
			break
		}

		job := e.q.Pop()
		if job == nil {
			// Raced with a Cancel between Depth() and Pop(); the slave is
			// still idle, return it to the front of the FIFO and retry.
			e.mu.Lock()
			e.idle = append([]types.SlaveID{id}, e.idle...)
			e.mu.Unlock()
			continue
		}

		e.mu.Lock()
		entry, ok := e.slaves[id]
		e.mu.Unlock()
		if !ok {
			// Slave was reaped between being popped idle and now; requeue
			// the job and keep going.
			e.requeueOrFail(job, false)
			continue
		}

		if err := entry.s.Assign(job); err != nil {
			e.requeueOrFail(job, false)
			continue
		}

		if e.audit != nil {
			e.audit.Record(e.app, "dispatched", job.ID)
		}
	}

	e.maybeGrow()
}

// popIdleLocked pops the front of the idle FIFO, skipping slaves that are
// no longer both present and idle (e.g. a slave picked by an earlier pass
// that has since been re-assigned or removed). Caller holds e.mu.
func (e *Engine) popIdleLocked() (types.SlaveID, bool) {
	for len(e.idle) > 0 {
		id := e.idle[0]
		e.idle = e.idle[1:]

		entry, ok := e.slaves[id]
		if !ok || entry.s.State() != types.SlaveIdle {
			continue
		}
		return id, true
	}
	return "", false
}

func (e *Engine) maybeGrow() {
	e.mu.Lock()
	depth := e.q.Depth()
	live := len(e.slaves)
	threshold := e.profile.GrowThreshold
	limit := e.profile.PoolLimit
	e.mu.Unlock()

	if threshold <= 0 || depth < threshold {
		return
	}
	if limit > 0 && live >= limit {
		return
	}
	e.spawnSlave()
}

func (e *Engine) spawnSlave() {
	e.mu.Lock()
	e.nextSlaveSeq++
	id := types.SlaveID(fmt.Sprintf("%s-%d", e.app, e.nextSlaveSeq))
	s := slave.New(id, e.app, e.profile, e.iso, e)
	e.slaves[id] = &slaveEntry{s: s}
	e.pendingAttach[string(id)] = s
	e.counters.Spawned++
	e.mu.Unlock()

	spec := isolate.Spec{
		App:      e.app,
		Binary:   e.profile.SlaveBinary,
		Args:     e.profile.SlaveArgs,
		Endpoint: e.endpoint,
		UUID:     string(id),
	}

	if err := s.Spawn(context.Background(), spec); err != nil {
		log.Error("slave spawn failed", "app", e.app, "slave", id, "error", err)
		e.mu.Lock()
		delete(e.slaves, id)
		delete(e.pendingAttach, string(id))
		e.mu.Unlock()
		return
	}

	log.Info("slave spawned", "app", e.app, "slave", id)
}

// requeueOrFail implements the loss policy from spec.md §4.3: a job is
// re-queued once, as urgent, if it had not yet streamed a response frame;
// any subsequent loss, or a loss after streaming began, fails the job.
func (e *Engine) requeueOrFail(job *types.Job, streamed bool) {
	e.mu.Lock()
	_, alreadyRetried := e.retried[job.ID]
	e.mu.Unlock()

	if streamed || alreadyRetried {
		e.failJob(job, "worker_broken")
		return
	}

	e.mu.Lock()
	e.retried[job.ID] = struct{}{}
	e.mu.Unlock()

	requeued := &types.Job{
		ID:        job.ID,
		App:       job.App,
		Method:    job.Method,
		Payload:   job.Payload,
		Mode:      types.ModeUrgent,
		Deadline:  job.Deadline,
		CreatedAt: job.CreatedAt,
		Upstream:  job.Upstream,
	}

	if err := e.q.Push(requeued, time.Now()); err != nil {
		e.failJob(job, "worker_broken")
		return
	}

	if e.audit != nil {
		e.audit.Record(e.app, "requeued", job.ID)
	}
	e.Kick()
}

func (e *Engine) failJob(job *types.Job, reason string) {
	e.mu.Lock()
	e.counters.Failed++
	delete(e.retried, job.ID)
	e.mu.Unlock()

	if job.Upstream != nil {
		job.Upstream.Complete(types.StatusFailed, reason)
	}
	if e.audit != nil {
		e.audit.Record(e.app, "failed:"+reason, job.ID)
	}
}

// Owner implementation (internal/slave.Owner) — the engine exclusively
// owns its slaves' lifecycle notifications.

func (e *Engine) SlaveIdle(s *slave.Slave) {
	e.mu.Lock()
	if entry, ok := e.slaves[s.ID()]; ok {
		entry.idleSince = time.Now()
		e.idle = append(e.idle, s.ID())
	}
	e.mu.Unlock()
	e.Kick()
}

func (e *Engine) SlaveBroken(s *slave.Slave, job *types.Job, streamed bool, reason slave.BreakReason) {
	log.Warn("slave broken", "app", e.app, "slave", s.ID(), "reason", reason)
	if job != nil {
		e.requeueOrFail(job, streamed)
	}
	go s.Kill(context.Background())
}

func (e *Engine) SlaveDead(s *slave.Slave) {
	e.mu.Lock()
	delete(e.slaves, s.ID())
	delete(e.pendingAttach, string(s.ID()))
	e.removeIdleLocked(s.ID())
	e.mu.Unlock()
	e.Kick()
}

func (e *Engine) JobCompleted(s *slave.Slave, job *types.Job, status types.JobStatus) {
	e.mu.Lock()
	if status == types.StatusCompleted {
		e.counters.Completed++
	} else {
		e.counters.Failed++
	}
	delete(e.retried, job.ID)
	e.mu.Unlock()

	if e.audit != nil {
		e.audit.Record(e.app, string(status), job.ID)
	}
}

func (e *Engine) removeIdleLocked(id types.SlaveID) {
	for i, existing := range e.idle {
		if existing == id {
			e.idle = append(e.idle[:i], e.idle[i+1:]...)
			return
		}
	}
}
