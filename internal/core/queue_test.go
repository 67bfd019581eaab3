package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
}

func TestSchedulerRespectsMaxConcurrent(t *testing.T) {
	store := newMemStore()
	release := make(chan struct{})
	exec := &funcExecutor{fn: func(ctx context.Context, _ *PrintJob) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}

	for i := 0; i < 5; i++ {
		store.put(t, queuedJob(fmt.Sprintf("job-%d", i), PriorityNormal))
	}

	s, _ := newTestScheduler(t, store, exec, nil, testQueueConfig())
	startScheduler(t, s)

	require.Eventually(t, func() bool { return exec.active.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 2, exec.active.Load())

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processing)
	assert.Equal(t, 3, stats.Waiting)
	assert.Equal(t, 2, stats.ByStatus[StatusInProcess])

	close(release)
	for i := 0; i < 5; i++ {
		waitForStatus(t, store, fmt.Sprintf("job-%d", i), StatusCompleted)
	}
	assert.LessOrEqual(t, exec.peak.Load(), int32(2))
	assert.EqualValues(t, 5, exec.calls.Load())
}

func TestSchedulerRetriesThenFails(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	exec := &funcExecutor{fn: func(context.Context, *PrintJob) error { return errPrinterJam }}
	store.put(t, queuedJob("jam", PriorityNormal))

	s, backend := newTestScheduler(t, store, exec, notifier, testQueueConfig())
	startScheduler(t, s)

	job := waitForStatus(t, store, "jam", StatusFailed)
	assert.Equal(t, 3, job.Attempts)
	assert.EqualValues(t, 3, exec.calls.Load())
	assert.Contains(t, job.ErrorMessage, "printer jammed")
	assert.NotNil(t, job.CompletedAt)

	waiting, err := backend.Waiting(context.Background())
	require.NoError(t, err)
	assert.Empty(t, waiting)

	require.Eventually(t, func() bool { return len(notifier.staff()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, NotifyJobFailed, notifier.staff()[0].Type)
}

func TestSchedulerRetrySucceeds(t *testing.T) {
	store := newMemStore()
	exec := &funcExecutor{}
	exec.fn = func(context.Context, *PrintJob) error {
		if exec.calls.Load() == 1 {
			return errPrinterJam
		}
		return nil
	}
	store.put(t, queuedJob("flaky", PriorityNormal))

	s, _ := newTestScheduler(t, store, exec, nil, testQueueConfig())
	startScheduler(t, s)

	job := waitForStatus(t, store, "flaky", StatusCompleted)
	assert.Equal(t, 1, job.Attempts)
	assert.EqualValues(t, 2, exec.calls.Load())
}

func TestSchedulerPriorityOrdering(t *testing.T) {
	store := newMemStore()
	exec := &funcExecutor{}
	base := time.Now()

	normal1 := queuedJob("normal-1", PriorityNormal)
	normal1.CreatedAt = base
	normal2 := queuedJob("normal-2", PriorityNormal)
	normal2.CreatedAt = base.Add(time.Second)
	high := queuedJob("high", PriorityHigh)
	high.CreatedAt = base.Add(2 * time.Second)
	store.put(t, normal1)
	store.put(t, normal2)
	store.put(t, high)

	cfg := testQueueConfig()
	cfg.MaxConcurrent = 1
	s, _ := newTestScheduler(t, store, exec, nil, cfg)
	startScheduler(t, s)

	waitForStatus(t, store, "normal-2", StatusCompleted)
	assert.Equal(t, []string{"high", "normal-1", "normal-2"}, exec.executed())
}

func TestSchedulerRetryWaitsBehindLaterArrivals(t *testing.T) {
	store := newMemStore()
	base := time.Now()
	first := queuedJob("a", PriorityNormal)
	first.CreatedAt = base.Add(-time.Second)
	second := queuedJob("b", PriorityNormal)
	second.CreatedAt = base
	store.put(t, first)
	store.put(t, second)

	cfg := testQueueConfig()
	cfg.MaxConcurrent = 1
	cfg.RetryDelay = 100 * time.Millisecond

	var s *Scheduler
	exec := &funcExecutor{}
	exec.fn = func(_ context.Context, job *PrintJob) error {
		switch {
		case job.ID == "a" && exec.calls.Load() == 1:
			return errPrinterJam
		case job.ID == "b":
			// c arrives while a is still backing off.
			time.Sleep(40 * time.Millisecond)
			late := queuedJob("c", PriorityNormal)
			late.CreatedAt = time.Now()
			if err := store.CreateJob(context.Background(), late); err != nil {
				return err
			}
			if err := s.Enqueue(context.Background(), late); err != nil {
				return err
			}
			time.Sleep(260 * time.Millisecond)
		}
		return nil
	}
	s, _ = newTestScheduler(t, store, exec, nil, cfg)
	startScheduler(t, s)

	waitForStatus(t, store, "a", StatusCompleted)
	waitForStatus(t, store, "c", StatusCompleted)
	assert.Equal(t, []string{"a", "b", "c", "a"}, exec.executed())
}

func TestSchedulerRetriesFailedCompletionWrite(t *testing.T) {
	store := newMemStore()
	store.put(t, queuedJob("j1", PriorityNormal))

	var rejected bool
	store.beforeUpdate = func(j *PrintJob) error {
		if j.Status == StatusCompleted && !rejected {
			rejected = true
			return errors.New("disk full")
		}
		return nil
	}

	notifier := &recordingNotifier{}
	exec := &funcExecutor{}
	s, backend := newTestScheduler(t, store, exec, notifier, testQueueConfig())
	startScheduler(t, s)

	waitForStatus(t, store, "j1", StatusCompleted)
	assert.Equal(t, int32(1), exec.calls.Load())
	require.Eventually(t, func() bool {
		waiting, err := backend.Waiting(context.Background())
		return err == nil && len(waiting) == 0 && len(notifier.types()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []NotificationType{NotifyJobProcessing, NotifyJobCompleted}, notifier.types())
}

func TestSchedulerTimeoutFreesSlot(t *testing.T) {
	store := newMemStore()
	stuck := make(chan struct{})
	t.Cleanup(func() { close(stuck) })

	exec := &funcExecutor{fn: func(_ context.Context, job *PrintJob) error {
		if job.ID == "stuck" {
			<-stuck
		}
		return nil
	}}

	first := queuedJob("stuck", PriorityHigh)
	second := queuedJob("next", PriorityNormal)
	store.put(t, first)
	store.put(t, second)

	cfg := testQueueConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxRetries = 1
	cfg.JobTimeout = 50 * time.Millisecond
	s, _ := newTestScheduler(t, store, exec, nil, cfg)
	startScheduler(t, s)

	failed := waitForStatus(t, store, "stuck", StatusFailed)
	assert.Contains(t, failed.ErrorMessage, "did not finish")
	waitForStatus(t, store, "next", StatusCompleted)
}

func TestSchedulerRecoversInterruptedJobs(t *testing.T) {
	store := newMemStore()
	interrupted := queuedJob("interrupted", PriorityNormal)
	interrupted.Status = StatusInProcess
	store.put(t, interrupted)
	store.put(t, queuedJob("waiting", PriorityNormal))

	exec := &funcExecutor{}
	s, _ := newTestScheduler(t, store, exec, nil, testQueueConfig())
	startScheduler(t, s)

	waitForStatus(t, store, "interrupted", StatusCompleted)
	waitForStatus(t, store, "waiting", StatusCompleted)
}

func TestSchedulerCancelQueued(t *testing.T) {
	store := newMemStore()
	release := make(chan struct{})
	exec := &funcExecutor{fn: func(ctx context.Context, _ *PrintJob) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}

	running := queuedJob("running", PriorityHigh)
	waiting := queuedJob("waiting", PriorityNormal)
	store.put(t, running)
	store.put(t, waiting)

	cfg := testQueueConfig()
	cfg.MaxConcurrent = 1
	s, backend := newTestScheduler(t, store, exec, nil, cfg)
	startScheduler(t, s)

	waitForStatus(t, store, "running", StatusInProcess)
	require.Eventually(t, func() bool { return s.Position("waiting") == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	_, err := s.CancelQueued(ctx, "running")
	require.ErrorIs(t, err, ErrCancelInProcess)

	cancelled, err := s.CancelQueued(ctx, "waiting")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	items, err := backend.Waiting(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = s.CancelQueued(ctx, "waiting")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	close(release)
	waitForStatus(t, store, "running", StatusCompleted)
	assert.Equal(t, StatusCancelled, store.get(t, "waiting").Status)
	assert.Equal(t, []string{"running"}, exec.executed())
}

func TestSchedulerEnqueueRequiresQueuedStatus(t *testing.T) {
	store := newMemStore()
	s, _ := newTestScheduler(t, store, &funcExecutor{}, nil, testQueueConfig())

	job := queuedJob("paid", PriorityNormal)
	job.Status = StatusPaid
	err := s.Enqueue(context.Background(), job)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSchedulerEnqueueWhileRunning(t *testing.T) {
	store := newMemStore()
	exec := &funcExecutor{}
	s, _ := newTestScheduler(t, store, exec, nil, testQueueConfig())
	startScheduler(t, s)

	job := store.put(t, queuedJob("late", PriorityNormal))
	require.NoError(t, s.Enqueue(context.Background(), job))
	waitForStatus(t, store, "late", StatusCompleted)
}

func TestSchedulerDropsStaleQueueItems(t *testing.T) {
	store := newMemStore()
	exec := &funcExecutor{}
	s, backend := newTestScheduler(t, store, exec, nil, testQueueConfig())

	cancelled := queuedJob("gone", PriorityNormal)
	cancelled.Status = StatusCancelled
	store.put(t, cancelled)
	require.NoError(t, backend.Enqueue(context.Background(), queueItem("gone")))
	require.NoError(t, backend.Enqueue(context.Background(), queueItem("missing")))

	startScheduler(t, s)
	require.Eventually(t, func() bool {
		items, err := backend.Waiting(context.Background())
		return err == nil && len(items) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, exec.calls.Load())
	assert.Equal(t, StatusCancelled, store.get(t, "gone").Status)
}
