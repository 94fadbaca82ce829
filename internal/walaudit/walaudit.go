// Package walaudit implements an append-only audit trail of job admission
// and terminal-state transitions, grounded on the teacher's
// internal/storage/wal: the same append-only JSON-encoded event log with a
// monotonically increasing sequence number and a CRC32 checksum per record.
//
// Unlike the teacher's WAL, this one is never replayed to reconstruct queue
// state — SPEC_FULL.md's engine holds all live job state in memory and a
// crash simply loses in-flight, not-yet-acknowledged jobs (spec.md's stated
// failure model). This package exists purely as a durable observability
// trail: operators can replay it to answer "what happened to job X", but
// nothing in internal/engine depends on it for recovery.
package walaudit

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cocaine-go/cocained/pkg/types"
)

var log = slog.Default()

// Record is one audited transition.
type Record struct {
	Seq       uint64      `json:"seq"`
	App       string      `json:"app"`
	Event     string      `json:"event"`
	JobID     types.JobID `json:"job_id"`
	Timestamp int64       `json:"timestamp"`
	Checksum  uint32      `json:"checksum"`
}

func checksum(app, event string, jobID types.JobID, seq uint64) uint32 {
	data := app + "\x00" + event + "\x00" + string(jobID) + "\x00" + fmt.Sprint(seq)
	return crc32.ChecksumIEEE([]byte(data))
}

// Verify reports whether r's checksum matches its recorded fields.
func Verify(r Record) bool {
	return r.Checksum == checksum(r.App, r.Event, r.JobID, r.Seq)
}

// Sink is an append-only, crash-durable audit log. It implements
// engine.AuditSink: Record never returns an error, so write failures are
// logged and swallowed rather than propagated onto the dispatch path.
type Sink struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	seq     uint64
}

// Open creates or appends to the audit log at path.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walaudit: open %s: %w", path, err)
	}

	s := &Sink{file: f, encoder: json.NewEncoder(f)}

	if last, err := lastRecord(path); err == nil && last != nil {
		s.seq = last.Seq
	}
	return s, nil
}

// Record appends one audit entry. Implements engine.AuditSink.
func (s *Sink) Record(app string, event string, jobID types.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	r := Record{
		Seq:       s.seq,
		App:       app,
		Event:     event,
		JobID:     jobID,
		Timestamp: time.Now().UnixMilli(),
	}
	r.Checksum = checksum(r.App, r.Event, r.JobID, r.Seq)

	if err := s.encoder.Encode(r); err != nil {
		log.Warn("walaudit: append failed", "app", app, "event", event, "job", jobID, "error", err)
		return
	}
	if err := s.file.Sync(); err != nil {
		log.Warn("walaudit: sync failed", "app", app, "event", event, "job", jobID, "error", err)
	}
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Replay reads every record in the log in order, verifying its checksum,
// and calls handler for each. It stops at the first checksum mismatch or
// handler error.
func Replay(path string, handler func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("walaudit: open %s: %w", path, err)
	}
	defer f.Close()

	decoder := json.NewDecoder(f)
	for decoder.More() {
		var r Record
		if err := decoder.Decode(&r); err != nil {
			return fmt.Errorf("walaudit: decode record: %w", err)
		}
		if !Verify(r) {
			return fmt.Errorf("walaudit: checksum mismatch at seq=%d", r.Seq)
		}
		if err := handler(r); err != nil {
			return err
		}
	}
	return nil
}

func lastRecord(path string) (*Record, error) {
	var last *Record
	err := Replay(path, func(r Record) error {
		rc := r
		last = &rc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}
