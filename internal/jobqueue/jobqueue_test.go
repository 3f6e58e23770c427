package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu      sync.Mutex
	started int
	run     func(ctx context.Context, jobID string, onProgress func(Progress)) error
}

func (f *fakeRunner) Run(ctx context.Context, jobID string, onProgress func(Progress)) error {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, jobID, onProgress)
	}
	return nil
}

func TestSubmit_RunsJobAgainstBaseCtxNotCallerCtx(t *testing.T) {
	done := make(chan struct{})
	var sawCancelled bool
	runner := &fakeRunner{run: func(ctx context.Context, jobID string, onProgress func(Progress)) error {
		defer close(done)
		<-time.After(20 * time.Millisecond)
		sawCancelled = ctx.Err() != nil
		return nil
	}}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	q, err := New(2, runner, baseCtx)
	require.NoError(t, err)

	callerCtx, callerCancel := context.WithCancel(context.Background())
	callerCancel() // caller's context is already done before Submit returns

	require.NoError(t, q.Submit("job-1", nil))
	_ = callerCtx
	<-done
	assert.False(t, sawCancelled, "job context must be derived from baseCtx, not the triggering request ctx")
}

func TestSubmit_PoolFullReturnsErrPoolFull(t *testing.T) {
	block := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, jobID string, onProgress func(Progress)) error {
		<-block
		return nil
	}}
	defer close(block)

	q, err := New(1, runner, context.Background())
	require.NoError(t, err)

	require.NoError(t, q.Submit("job-1", nil))
	// Give the pool a moment to actually pick up job-1 before job-2 competes for the single slot.
	time.Sleep(10 * time.Millisecond)
	err = q.Submit("job-2", nil)
	assert.ErrorIs(t, err, ErrPoolFull)
}

func TestCancel_CancelsRunningJobContext(t *testing.T) {
	cancelled := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, jobID string, onProgress func(Progress)) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}

	q, err := New(1, runner, context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Submit("job-1", nil))
	time.Sleep(10 * time.Millisecond)

	q.Cancel("job-1")
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled")
	}
}

func TestCancel_UnknownJobIDIsANoOp(t *testing.T) {
	q, err := New(1, &fakeRunner{}, context.Background())
	require.NoError(t, err)
	assert.NotPanics(t, func() { q.Cancel("does-not-exist") })
}

type fakeReconciler struct {
	n   int
	err error
}

func (f *fakeReconciler) FailOrphanedJobs(ctx context.Context, reason string) (int, error) {
	return f.n, f.err
}

func TestReconcile_LogsCountWithoutPanickingOnError(t *testing.T) {
	assert.NotPanics(t, func() { Reconcile(context.Background(), &fakeReconciler{n: 0}) })
	assert.NotPanics(t, func() { Reconcile(context.Background(), &fakeReconciler{n: 3}) })
	assert.NotPanics(t, func() { Reconcile(context.Background(), &fakeReconciler{err: errors.New("db down")}) })
}

func TestThrottledProgress_SuppressesRapidSameStageUpdates(t *testing.T) {
	var received []Progress
	var mu sync.Mutex
	sink := ThrottledProgress(func(p Progress) {
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
	})

	sink(Progress{JobID: "j", Percent: 10, Stage: "retrieval"})
	sink(Progress{JobID: "j", Percent: 11, Stage: "retrieval"})
	sink(Progress{JobID: "j", Percent: 12, Stage: "retrieval"})

	mu.Lock()
	n := len(received)
	mu.Unlock()
	assert.Equal(t, 1, n, "rapid same-stage updates within the throttle window should collapse to one")
}

func TestThrottledProgress_AlwaysForwardsOnStageChange(t *testing.T) {
	var received []Progress
	var mu sync.Mutex
	sink := ThrottledProgress(func(p Progress) {
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
	})

	sink(Progress{JobID: "j", Percent: 30, Stage: "retrieval"})
	sink(Progress{JobID: "j", Percent: 40, Stage: "script"})
	sink(Progress{JobID: "j", Percent: 50, Stage: "parse"})

	mu.Lock()
	n := len(received)
	mu.Unlock()
	assert.Equal(t, 3, n, "a stage change must always be forwarded even within the throttle window")
}
