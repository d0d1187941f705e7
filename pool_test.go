package qrelay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	sync.Mutex
	performs  int
	finishAt  int
	performed chan struct{}
}

func newFakeJob(finishAt int) *fakeJob {
	return &fakeJob{finishAt: finishAt, performed: make(chan struct{}, 16)}
}

// Perform returns alive=false (permanent removal, §4.10's polarity) once
// finishAt performs have happened, true otherwise.
func (j *fakeJob) Perform(ctx context.Context, session *Session) bool {
	j.performs++
	j.performed <- struct{}{}
	return j.performs < j.finishAt
}

func TestJobListTakeDoneRemovesFinishedJob(t *testing.T) {
	list := NewJobList()
	job := newFakeJob(1)
	list.Add(job)

	taken, err := list.Take()
	require.NoError(t, err)
	assert.Same(t, job, taken)

	alive := taken.Perform(context.Background(), nil)
	assert.False(t, alive)
	list.Done(taken, alive)
	assert.Empty(t, list.jobs)

	list.Lock()
	_, err = list.Take()
	assert.ErrorIs(t, err, ErrPoolLocked)
}

func TestJobListKeepsUnfinishedJob(t *testing.T) {
	list := NewJobList()
	job := newFakeJob(2)
	list.Add(job)

	taken, err := list.Take()
	require.NoError(t, err)
	alive := taken.Perform(context.Background(), nil)
	assert.True(t, alive)
	list.Done(taken, alive)

	taken2, err := list.Take()
	require.NoError(t, err)
	assert.Same(t, job, taken2)
}

func TestJobListLockWakesParkedTake(t *testing.T) {
	list := NewJobList()
	errCh := make(chan error, 1)
	go func() {
		_, err := list.Take()
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	list.Lock()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolLocked)
	case <-time.After(time.Second):
		t.Fatal("Take did not return after Lock")
	}
}

func TestJobListTryLockExcludesConcurrentTake(t *testing.T) {
	list := NewJobList()
	job := newFakeJob(100)
	list.Add(job)

	taken, err := list.Take()
	require.NoError(t, err)
	assert.Same(t, job, taken)

	// job is held; a second worker must not observe it as available.
	assert.False(t, job.TryLock())
}

func TestWorkerCountAtLeastOne(t *testing.T) {
	assert.GreaterOrEqual(t, WorkerCount(), 1)
}
