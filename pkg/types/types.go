// Package types defines the core domain model shared across cocained's
// node service, per-app engine, and slave supervisor.
package types

import (
	"time"

	"github.com/google/uuid"
)

// JobID uniquely identifies a job within a process. It is opaque to callers.
type JobID string

// NewJobID returns a fresh, process-unique job identifier.
func NewJobID() JobID {
	return JobID(uuid.NewString())
}

// Mode is a job's admission class. Urgent jobs preempt normal jobs in
// dispatch order but never mid-stream.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeUrgent Mode = "urgent"
)

// JobStatus is a job's terminal or in-flight lifecycle state.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusInFlight  JobStatus = "in_flight"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
	StatusExpired   JobStatus = "deadline_exceeded"
)

// Upstream is the caller-facing channel a job's response frames and terminal
// outcome are delivered to. It is a weak back-edge: holding one must never
// extend a Job's lifetime, and implementations must tolerate being invoked
// after the caller has stopped listening.
type Upstream interface {
	// Chunk delivers one non-terminal response frame.
	Chunk(payload []byte)
	// Complete reports the job's terminal outcome. Called exactly once.
	Complete(status JobStatus, reason string)
}

// Job is an immutable handle carrying a payload, dispatch policy, and an
// upstream callback. Fields are set at creation time and never mutated; the
// engine and queue communicate a job's lifecycle via JobStatus events
// delivered to Upstream, not by mutating the Job itself.
type Job struct {
	ID      JobID  `json:"id"`
	App     string `json:"app"`
	Method  string `json:"method"`
	Payload []byte `json:"payload"`
	Mode    Mode   `json:"mode"`

	Deadline  *time.Time `json:"deadline,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	Upstream Upstream `json:"-"`
}

// Expired reports whether the job's deadline has passed as of now.
func (j Job) Expired(now time.Time) bool {
	return j.Deadline != nil && j.Deadline.Before(now)
}

// Manifest is the immutable per-app record resolving an app name to code and
// runtime shape.
type Manifest struct {
	App     string   `json:"app" yaml:"app"`
	Type    string   `json:"type" yaml:"type"`
	Drivers []string `json:"drivers" yaml:"drivers"`
}

// Profile is the immutable per-app engine policy. All duration and limit
// fields are strictly positive unless documented otherwise.
type Profile struct {
	Name string `json:"name" yaml:"name"`

	StartupTimeout     time.Duration `json:"startup_timeout" yaml:"startup_timeout"`
	HeartbeatTimeout   time.Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	IdleTimeout        time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	TerminationTimeout time.Duration `json:"termination_timeout" yaml:"termination_timeout"`

	PoolLimit  int `json:"pool_limit" yaml:"pool_limit"`
	QueueLimit int `json:"queue_limit" yaml:"queue_limit"` // 0 == unbounded, see SPEC_FULL.md

	// GrowThreshold is the queue depth at which the pool grows by one slave.
	// Zero means "derive as QueueLimit/PoolLimit" (see Normalize) since a
	// stored profile commonly omits it. When either limit is zero the
	// threshold stays zero, and the engine then never grows the pool.
	GrowThreshold int `json:"grow_threshold" yaml:"grow_threshold"`

	SlaveBinary string   `json:"slave_binary" yaml:"slave_binary"`
	SlaveArgs   []string `json:"slave_args" yaml:"slave_args"`
}

// Normalize fills in a profile's derived defaults. Called once when a
// profile is loaded, never on the dispatch hot path.
func (p Profile) Normalize() Profile {
	if p.GrowThreshold == 0 && p.PoolLimit > 0 && p.QueueLimit > 0 {
		p.GrowThreshold = p.QueueLimit / p.PoolLimit
		if p.GrowThreshold == 0 {
			p.GrowThreshold = 1
		}
	}
	return p
}

// Unbounded reports whether this profile's queue has no depth limit.
func (p Profile) Unbounded() bool {
	return p.QueueLimit == 0
}

// SlaveState is a position in the slave state machine (spec.md §4.2).
type SlaveState string

const (
	SlaveUnknown     SlaveState = "unknown"
	SlaveSpawning    SlaveState = "spawning"
	SlaveIdle        SlaveState = "idle"
	SlaveBusy        SlaveState = "busy"
	SlaveTerminating SlaveState = "terminating"
	SlaveBroken      SlaveState = "broken"
	SlaveDead        SlaveState = "dead"
)

// SlaveID uniquely identifies a slave within its engine.
type SlaveID string
