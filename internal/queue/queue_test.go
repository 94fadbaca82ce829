package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/cocaine-go/cocained/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(id string, mode types.Mode) *types.Job {
	return &types.Job{
		ID:        types.JobID(id),
		Mode:      mode,
		CreatedAt: time.Now(),
	}
}

func TestPushPopFIFOWithinClass(t *testing.T) {
	q := New(0)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(newTestJob(fmt.Sprintf("job-%d", i), types.ModeNormal), time.Now()))
	}

	for i := 0; i < 5; i++ {
		job := q.Pop()
		require.NotNil(t, job)
		assert.Equal(t, types.JobID(fmt.Sprintf("job-%d", i)), job.ID)
	}

	assert.Nil(t, q.Pop())
}

func TestUrgentPreemptsNormal(t *testing.T) {
	q := New(0)

	require.NoError(t, q.Push(newTestJob("normal-1", types.ModeNormal), time.Now()))
	require.NoError(t, q.Push(newTestJob("urgent-1", types.ModeUrgent), time.Now()))
	require.NoError(t, q.Push(newTestJob("normal-2", types.ModeNormal), time.Now()))

	first := q.Pop()
	require.NotNil(t, first)
	assert.Equal(t, types.JobID("urgent-1"), first.ID, "urgent job must dispatch before any queued normal job")

	second := q.Pop()
	require.NotNil(t, second)
	assert.Equal(t, types.JobID("normal-1"), second.ID)
}

func TestQueueFullRejectsAdmission(t *testing.T) {
	q := New(2)

	require.NoError(t, q.Push(newTestJob("a", types.ModeNormal), time.Now()))
	require.NoError(t, q.Push(newTestJob("b", types.ModeNormal), time.Now()))

	err := q.Push(newTestJob("c", types.ModeNormal), time.Now())
	require.Error(t, err)

	rejectErr, ok := err.(*RejectError)
	require.True(t, ok)
	assert.Equal(t, RejectQueueFull, rejectErr.Reason)
}

func TestZeroLimitIsUnbounded(t *testing.T) {
	q := New(0)
	for i := 0; i < 1000; i++ {
		require.NoError(t, q.Push(newTestJob(fmt.Sprintf("job-%d", i), types.ModeNormal), time.Now()))
	}
	assert.Equal(t, 1000, q.Depth())
}

func TestPushRejectsPastDeadline(t *testing.T) {
	q := New(0)
	past := time.Now().Add(-time.Second)
	job := newTestJob("late", types.ModeNormal)
	job.Deadline = &past

	err := q.Push(job, time.Now())
	require.Error(t, err)
	rejectErr, ok := err.(*RejectError)
	require.True(t, ok)
	assert.Equal(t, RejectDeadlinePassed, rejectErr.Reason)
}

func TestCancelRemovesPendingJob(t *testing.T) {
	q := New(0)
	require.NoError(t, q.Push(newTestJob("a", types.ModeNormal), time.Now()))
	require.NoError(t, q.Push(newTestJob("b", types.ModeNormal), time.Now()))

	cancelled, ok := q.Cancel("a")
	require.True(t, ok)
	assert.Equal(t, types.JobID("a"), cancelled.ID)

	_, ok = q.Cancel("a")
	assert.False(t, ok, "cancelling twice should report false")

	job := q.Pop()
	require.NotNil(t, job)
	assert.Equal(t, types.JobID("b"), job.ID)
	assert.Nil(t, q.Pop())
}

func TestDropExpiredRemovesOnlyPastDeadlines(t *testing.T) {
	q := New(0)

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expiredJob := newTestJob("expired", types.ModeNormal)
	expiredJob.Deadline = &past
	require.NoError(t, q.Push(expiredJob, now.Add(-2*time.Minute)))

	liveJob := newTestJob("live", types.ModeUrgent)
	liveJob.Deadline = &future
	require.NoError(t, q.Push(liveJob, now))

	dropped := q.DropExpired(now)
	require.Len(t, dropped, 1)
	assert.Equal(t, types.JobID("expired"), dropped[0].ID)

	remaining := q.Pop()
	require.NotNil(t, remaining)
	assert.Equal(t, types.JobID("live"), remaining.ID)
}

func TestDepthNeverExceedsLimit(t *testing.T) {
	q := New(4)
	admitted := 0
	for i := 0; i < 10; i++ {
		err := q.Push(newTestJob(fmt.Sprintf("job-%d", i), types.ModeNormal), time.Now())
		if err == nil {
			admitted++
		}
		assert.LessOrEqual(t, q.Depth(), 4)
	}
	assert.Equal(t, 4, admitted)
}

func TestPeakTracksHighWaterMark(t *testing.T) {
	q := New(0)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(newTestJob(fmt.Sprintf("job-%d", i), types.ModeNormal), time.Now()))
	}
	q.Pop()
	q.Pop()
	assert.Equal(t, 3, q.Peak())
	assert.Equal(t, 1, q.Depth())
}
