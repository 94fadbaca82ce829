// Package queue implements the bounded two-class priority queue each
// engine uses to hold its pending jobs (spec.md §4.1). It is grounded on
// the teacher's internal/jobmanager design: a single map is the source of
// truth for each job, and a small ordered index gives O(1) FIFO pops per
// class.
package queue

import (
	"sync"
	"time"

	"github.com/cocaine-go/cocained/pkg/types"
)

// RejectReason is why push() refused to admit a job.
type RejectReason string

const (
	RejectQueueFull      RejectReason = "queue_full"
	RejectDeadlinePassed RejectReason = "deadline_already_past"
)

// RejectError is returned by Push when a job cannot be admitted.
type RejectError struct {
	Reason RejectReason
}

func (e *RejectError) Error() string { return string(e.Reason) }

// Queue is a bounded, two-class (urgent/normal) FIFO job queue for one
// engine. A Queue with limit == 0 is unbounded (spec.md §9 open question,
// resolved here and documented in SPEC_FULL.md).
type Queue struct {
	mu sync.Mutex

	limit int // 0 == unbounded

	urgent []*types.Job
	normal []*types.Job

	byID map[types.JobID]*entry

	peakDepth int
}

type entry struct {
	job       *types.Job
	class     types.Mode
	cancelled bool
}

// New returns an empty queue bounded at limit pending jobs (0 == unbounded).
func New(limit int) *Queue {
	return &Queue{
		limit: limit,
		byID:  make(map[types.JobID]*entry),
	}
}

// Push admits a job, returning a RejectError if it cannot be queued.
// Urgent jobs join the tail of the urgent sub-queue, which Pop drains before
// the normal one; normal jobs join the tail of the normal sub-queue.
// Ordering within a class is admission order.
func (q *Queue) Push(job *types.Job, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.Expired(now) {
		return &RejectError{Reason: RejectDeadlinePassed}
	}

	if q.limit > 0 && q.depthLocked() >= q.limit {
		return &RejectError{Reason: RejectQueueFull}
	}

	e := &entry{job: job, class: job.Mode}
	q.byID[job.ID] = e

	switch job.Mode {
	case types.ModeUrgent:
		// Append: Pop drains the urgent sub-queue front-to-back before any
		// normal job, so urgent jobs overtake normal ones while staying in
		// admission order among themselves.
		q.urgent = append(q.urgent, job)
	default:
		q.normal = append(q.normal, job)
	}

	if d := q.depthLocked(); d > q.peakDepth {
		q.peakDepth = d
	}

	return nil
}

// Pop removes and returns the next job to dispatch: urgent before normal,
// FIFO within a class. Returns nil if the queue is empty.
func (q *Queue) Pop() *types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.urgent) > 0 {
		job := q.urgent[0]
		q.urgent = q.urgent[1:]
		if e, ok := q.byID[job.ID]; ok {
			delete(q.byID, job.ID)
			if e.cancelled {
				continue
			}
			return job
		}
	}

	for len(q.normal) > 0 {
		job := q.normal[0]
		q.normal = q.normal[1:]
		if e, ok := q.byID[job.ID]; ok {
			delete(q.byID, job.ID)
			if e.cancelled {
				continue
			}
			return job
		}
	}

	return nil
}

// Cancel marks a pending job cancelled and removes it from the queue,
// returning the job so the caller can signal its upstream. Reports false if
// the job was not found pending (already dispatched, already cancelled, or
// unknown).
func (q *Queue) Cancel(id types.JobID) (*types.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[id]
	if !ok || e.cancelled {
		return nil, false
	}
	e.cancelled = true
	delete(q.byID, id)
	return e.job, true
}

// DropExpired removes every pending job whose deadline has passed as of
// now and returns them so the caller can signal deadline_exceeded on each
// job's upstream.
func (q *Queue) DropExpired(now time.Time) []*types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []*types.Job

	q.urgent = filterExpired(q.urgent, now, q.byID, &expired)
	q.normal = filterExpired(q.normal, now, q.byID, &expired)

	return expired
}

func filterExpired(jobs []*types.Job, now time.Time, byID map[types.JobID]*entry, expired *[]*types.Job) []*types.Job {
	kept := jobs[:0]
	for _, job := range jobs {
		e, tracked := byID[job.ID]
		if !tracked || e.cancelled {
			continue
		}
		if job.Expired(now) {
			delete(byID, job.ID)
			*expired = append(*expired, job)
			continue
		}
		kept = append(kept, job)
	}
	return kept
}

// Depth returns the current number of pending jobs across both classes.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

func (q *Queue) depthLocked() int {
	// Cancelled jobs leave byID at once but stay in the class slices until
	// Pop or DropExpired skips them, so the map is the pending count.
	return len(q.byID)
}

// Peak returns the highest depth this queue has ever reached.
func (q *Queue) Peak() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peakDepth
}
