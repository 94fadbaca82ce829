package walaudit

import (
	"path/filepath"
	"testing"

	"github.com/cocaine-go/cocained/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordThenReplayRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	s, err := Open(path)
	require.NoError(t, err)

	s.Record("echo", "enqueued", types.JobID("job-1"))
	s.Record("echo", "dispatched", types.JobID("job-1"))
	s.Record("echo", "completed", types.JobID("job-1"))
	require.NoError(t, s.Close())

	var events []string
	require.NoError(t, Replay(path, func(r Record) error {
		events = append(events, r.Event)
		assert.Equal(t, "echo", r.App)
		assert.Equal(t, types.JobID("job-1"), r.JobID)
		return nil
	}))

	assert.Equal(t, []string{"enqueued", "dispatched", "completed"}, events)
}

func TestSeqSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	s, err := Open(path)
	require.NoError(t, err)
	s.Record("echo", "enqueued", types.JobID("job-1"))
	s.Record("echo", "enqueued", types.JobID("job-2"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	s2.Record("echo", "enqueued", types.JobID("job-3"))
	require.NoError(t, s2.Close())

	var seqs []uint64
	require.NoError(t, Replay(path, func(r Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestVerifyDetectsTamperedChecksum(t *testing.T) {
	r := Record{Seq: 1, App: "echo", Event: "enqueued", JobID: types.JobID("job-1")}
	r.Checksum = checksum(r.App, r.Event, r.JobID, r.Seq)
	assert.True(t, Verify(r))

	r.JobID = "job-2"
	assert.False(t, Verify(r))
}

func TestReplayMissingFileFails(t *testing.T) {
	err := Replay(filepath.Join(t.TempDir(), "missing.log"), func(Record) error { return nil })
	assert.Error(t, err)
}
