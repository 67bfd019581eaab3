package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/logging"
	"github.com/orrn/printdesk/internal/queue"
)

type execResult struct {
	jobID string
	err   error
}

type cancelRequest struct {
	ctx   context.Context
	jobID string
	reply chan cancelReply
}

type cancelReply struct {
	job *PrintJob
	err error
}

// Scheduler admits queued jobs into at most MaxConcurrent concurrent executions.
// All changes to the waiting/processing sets and to the status of queued jobs happen
// on the single loop goroutine; executions report back over resultCh.
type Scheduler struct {
	store    JobStore
	backend  queue.Queue
	executor Executor
	notifier Notifier
	config   *config.QueueConfig
	logger   *zap.Logger
	now      func() time.Time

	wakeCh   chan struct{}
	resultCh chan execResult
	cancelCh chan cancelRequest
	stopCh   chan struct{}
	doneCh   chan struct{}
	execWG   sync.WaitGroup

	// owned by the loop goroutine
	processing map[string]struct{}
	// printed jobs whose completed write failed; admission retries the write
	printed    map[string]struct{}
	wakeTimer  *time.Timer

	mu         sync.RWMutex
	running    bool
	stopped    bool
	inFlight   int
	positions  map[string]int
	execCtx    context.Context
	execCancel context.CancelFunc
}

func NewScheduler(store JobStore, backend queue.Queue, executor Executor, notifier Notifier, cfg *config.QueueConfig, logger *zap.Logger) *Scheduler {
	if cfg == nil {
		cfg = &config.QueueConfig{
			MaxConcurrent: 2,
			MaxRetries:    3,
			RetryDelay:    10 * time.Second,
			JobTimeout:    5 * time.Minute,
		}
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		store:      store,
		backend:    backend,
		executor:   executor,
		notifier:   notifier,
		config:     cfg,
		logger:     logger.Named("scheduler"),
		now:        time.Now,
		wakeCh:     make(chan struct{}, 1),
		resultCh:   make(chan execResult),
		cancelCh:   make(chan cancelRequest),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		processing: make(map[string]struct{}),
		printed:    make(map[string]struct{}),
		positions:  make(map[string]int),
	}
}

// Start recovers interrupted work and launches the admission loop. A Scheduler runs once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.recoverJobs(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	s.mu.Lock()
	s.running = true
	s.execCtx, s.execCancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	go s.loop()
	s.Wake()
	return nil
}

// Stop halts admission, cancels in-flight executions and waits for them to return.
// Jobs interrupted this way stay in_process and are re-queued by the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	s.execCancel()
	s.execWG.Wait()
}

func (s *Scheduler) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Wake asks the loop to run admission. It never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Enqueue places an in_queue job at the tail of its priority class.
func (s *Scheduler) Enqueue(ctx context.Context, job *PrintJob) error {
	if job.Status != StatusInQueue {
		return fmt.Errorf("%w: cannot enqueue job in status %s", ErrInvalidTransition, job.Status)
	}
	err := s.backend.Enqueue(ctx, queue.Item{
		JobID:      job.ID,
		Priority:   int(job.Priority),
		EnqueuedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	s.logger.Info("job enqueued", logging.JobID(job.ID), zap.Int("priority", int(job.Priority)))
	s.Wake()
	return nil
}

// CancelQueued removes a waiting job and marks it cancelled. Jobs already admitted
// are rejected with ErrCancelInProcess.
func (s *Scheduler) CancelQueued(ctx context.Context, jobID string) (*PrintJob, error) {
	if !s.isRunning() {
		return s.cancelQueued(ctx, jobID)
	}

	req := cancelRequest{ctx: ctx, jobID: jobID, reply: make(chan cancelReply, 1)}
	select {
	case s.cancelCh <- req:
	case <-s.doneCh:
		return nil, ErrSchedulerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.job, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Position returns the advisory 1-based waiting position of a job, or 0.
func (s *Scheduler) Position(jobID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[jobID]
}

func (s *Scheduler) Stats(ctx context.Context) (*QueueStats, error) {
	counts, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	waiting, err := s.backend.Waiting(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	s.mu.RLock()
	inFlight := s.inFlight
	s.mu.RUnlock()

	return &QueueStats{
		ByStatus:      counts,
		Waiting:       len(waiting),
		Processing:    inFlight,
		MaxConcurrent: s.config.MaxConcurrent,
	}, nil
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)
	ctx := context.Background()

	for {
		select {
		case <-s.stopCh:
			if s.wakeTimer != nil {
				s.wakeTimer.Stop()
			}
			return
		case <-s.wakeCh:
			s.admit(ctx)
		case res := <-s.resultCh:
			s.resolve(ctx, res)
			s.admit(ctx)
		case req := <-s.cancelCh:
			job, err := s.cancelQueued(req.ctx, req.jobID)
			req.reply <- cancelReply{job: job, err: err}
			s.refreshPositions(ctx)
		}
	}
}

func (s *Scheduler) admit(ctx context.Context) {
	defer s.refreshPositions(ctx)

	for len(s.processing) < s.config.MaxConcurrent {
		item, err := s.backend.Dequeue(ctx, s.now())
		if err != nil {
			s.logger.Error("failed to dequeue", zap.Error(err))
			s.scheduleWake(s.config.RetryDelay)
			return
		}
		if item == nil {
			s.armForDelayed(ctx)
			return
		}

		job, err := s.store.GetJob(ctx, item.JobID)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				delete(s.printed, item.JobID)
				s.ack(ctx, item.JobID)
				continue
			}
			s.logger.Error("failed to load queued job", logging.JobID(item.JobID), zap.Error(err))
			s.nack(ctx, item.JobID, s.now().Add(s.config.RetryDelay))
			s.scheduleWake(s.config.RetryDelay)
			return
		}
		if _, ok := s.printed[job.ID]; ok {
			s.complete(ctx, job)
			continue
		}
		if job.Status != StatusInQueue {
			s.logger.Warn("dropping stale queue item",
				logging.JobID(job.ID), zap.String("status", string(job.Status)))
			s.ack(ctx, job.ID)
			continue
		}

		if err := s.transition(ctx, job, StatusInProcess); err != nil {
			s.logger.Error("failed to admit job", logging.JobID(job.ID), zap.Error(err))
			s.nack(ctx, job.ID, s.now())
			s.scheduleWake(s.config.RetryDelay)
			return
		}

		s.processing[job.ID] = struct{}{}
		s.setInFlight(len(s.processing))
		s.notifier.Notify(ctx, jobNotification(job, NotifyJobProcessing,
			"Printing started", fmt.Sprintf("%s is now printing.", job.DocumentName)))

		s.execWG.Add(1)
		go s.execute(job.Clone())
	}
}

func (s *Scheduler) execute(job *PrintJob) {
	defer s.execWG.Done()

	s.mu.RLock()
	base := s.execCtx
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(base, s.config.JobTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.executor.Execute(ctx, job)
	}()

	// The print itself may not honour ctx; the slot is freed on timeout regardless.
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("print did not finish within %s: %w", s.config.JobTimeout, ctx.Err())
	}

	select {
	case s.resultCh <- execResult{jobID: job.ID, err: err}:
	case <-s.stopCh:
	}
}

func (s *Scheduler) resolve(ctx context.Context, res execResult) {
	delete(s.processing, res.jobID)
	s.setInFlight(len(s.processing))

	job, err := s.store.GetJob(ctx, res.jobID)
	if err != nil {
		s.logger.Error("failed to load finished job", logging.JobID(res.jobID), zap.Error(err))
		s.ack(ctx, res.jobID)
		return
	}

	if res.err == nil {
		s.complete(ctx, job)
		return
	}

	job.Attempts++
	job.ErrorMessage = res.err.Error()

	if job.Attempts < s.config.MaxRetries {
		if err := s.transition(ctx, job, StatusInQueue); err != nil {
			s.logger.Error("failed to requeue job", logging.JobID(job.ID), zap.Error(err))
			s.ack(ctx, job.ID)
			return
		}
		s.nack(ctx, job.ID, s.now().Add(s.config.RetryDelay))
		s.scheduleWake(s.config.RetryDelay)
		s.logger.Warn("print attempt failed, retrying",
			logging.JobID(job.ID),
			zap.Int("attempt", job.Attempts),
			zap.Int("max_retries", s.config.MaxRetries),
			zap.Duration("delay", s.config.RetryDelay),
			zap.Error(res.err))
		return
	}

	if err := s.transition(ctx, job, StatusFailed); err != nil {
		s.logger.Error("failed to mark job failed", logging.JobID(job.ID), zap.Error(err))
	}
	s.ack(ctx, job.ID)
	s.logger.Error("print failed permanently",
		logging.JobID(job.ID), zap.Int("attempts", job.Attempts), zap.Error(res.err))

	failed := jobNotification(job, NotifyJobFailed, "Print failed",
		fmt.Sprintf("%s could not be printed after %d attempts: %s", job.DocumentName, job.Attempts, job.ErrorMessage))
	s.notifier.Notify(ctx, failed)
	failed.Staff = true
	s.notifier.Notify(ctx, failed)
}

// complete records a finished print. If the write fails the item goes back to the
// backend and admission retries the write without printing again.
func (s *Scheduler) complete(ctx context.Context, job *PrintJob) {
	if job.Status != StatusCompleted {
		if err := s.transition(ctx, job, StatusCompleted); err != nil {
			s.logger.Error("failed to complete job", logging.JobID(job.ID), zap.Error(err))
			s.printed[job.ID] = struct{}{}
			s.nack(ctx, job.ID, s.now().Add(s.config.RetryDelay))
			s.scheduleWake(s.config.RetryDelay)
			return
		}
	}
	delete(s.printed, job.ID)
	s.ack(ctx, job.ID)
	s.notifier.Notify(ctx, jobNotification(job, NotifyJobCompleted,
		"Print completed", fmt.Sprintf("%s is ready for collection.", job.DocumentName)))
}

func (s *Scheduler) cancelQueued(ctx context.Context, jobID string) (*PrintJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, admitted := s.processing[jobID]; admitted || job.Status == StatusInProcess {
		return nil, ErrCancelInProcess
	}
	if job.Status != StatusInQueue {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, StatusCancelled)
	}

	removed, err := s.backend.Remove(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove job from queue: %w", err)
	}

	if err := s.transition(ctx, job, StatusCancelled); err != nil {
		if removed {
			if reErr := s.backend.Enqueue(ctx, queue.Item{JobID: job.ID, Priority: int(job.Priority), EnqueuedAt: s.now()}); reErr != nil {
				s.logger.Error("failed to restore cancelled job to queue", logging.JobID(job.ID), zap.Error(reErr))
			}
		}
		return nil, err
	}
	return job, nil
}

// transition applies one status change and persists it with a versioned write.
func (s *Scheduler) transition(ctx context.Context, job *PrintJob, to Status) error {
	from := job.Status
	next := job.Clone()
	if err := next.Transition(to, s.now()); err != nil {
		return err
	}
	if err := s.store.UpdateJob(ctx, next); err != nil {
		return err
	}
	*job = *next
	s.logger.Info("job status changed",
		logging.JobID(job.ID),
		zap.String(logging.FieldFrom, string(from)),
		zap.String(logging.FieldTo, string(to)))
	return nil
}

func (s *Scheduler) recoverJobs(ctx context.Context) error {
	released, err := s.backend.Recover(ctx)
	if err != nil {
		return err
	}

	stuck, err := listAllByStatus(ctx, s.store, StatusInProcess)
	if err != nil {
		return err
	}
	for _, job := range stuck {
		if err := s.transition(ctx, job, StatusInQueue); err != nil {
			return fmt.Errorf("failed to requeue interrupted job %s: %w", job.ID, err)
		}
	}

	queued, err := listAllByStatus(ctx, s.store, StatusInQueue)
	if err != nil {
		return err
	}
	for _, job := range queued {
		if err := s.backend.Enqueue(ctx, queue.Item{
			JobID:      job.ID,
			Priority:   int(job.Priority),
			EnqueuedAt: job.CreatedAt,
		}); err != nil {
			return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
		}
	}

	if released > 0 || len(stuck) > 0 || len(queued) > 0 {
		s.logger.Info("recovered queue",
			zap.Int("released_leases", released),
			zap.Int("interrupted", len(stuck)),
			zap.Int("queued", len(queued)))
	}
	return nil
}

func (s *Scheduler) armForDelayed(ctx context.Context) {
	waiting, err := s.backend.Waiting(ctx)
	if err != nil {
		return
	}
	now := s.now()
	if next, ok := queue.EarliestNotBefore(waiting, now); ok {
		s.scheduleWake(next.Sub(now))
	}
}

func (s *Scheduler) scheduleWake(d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	if s.wakeTimer == nil {
		s.wakeTimer = time.AfterFunc(d, s.Wake)
		return
	}
	s.wakeTimer.Stop()
	s.wakeTimer.Reset(d)
}

func (s *Scheduler) refreshPositions(ctx context.Context) {
	waiting, err := s.backend.Waiting(ctx)
	if err != nil {
		s.logger.Warn("failed to refresh queue positions", zap.Error(err))
		return
	}
	positions := make(map[string]int, len(waiting))
	for i, it := range waiting {
		positions[it.JobID] = i + 1
	}

	s.mu.Lock()
	s.positions = positions
	s.mu.Unlock()
}

func (s *Scheduler) setInFlight(n int) {
	s.mu.Lock()
	s.inFlight = n
	s.mu.Unlock()
}

func (s *Scheduler) ack(ctx context.Context, jobID string) {
	if err := s.backend.Ack(ctx, jobID); err != nil && !errors.Is(err, queue.ErrNotLeased) {
		s.logger.Warn("failed to ack queue item", logging.JobID(jobID), zap.Error(err))
	}
}

func (s *Scheduler) nack(ctx context.Context, jobID string, notBefore time.Time) {
	if err := s.backend.Nack(ctx, jobID, notBefore); err != nil {
		s.logger.Warn("failed to nack queue item", logging.JobID(jobID), zap.Error(err))
	}
}

func listAllByStatus(ctx context.Context, store JobStore, status Status) ([]*PrintJob, error) {
	const page = 500
	var all []*PrintJob
	for offset := 0; ; offset += page {
		jobs, err := store.ListJobs(ctx, JobFilter{Status: status, Limit: page, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, jobs...)
		if len(jobs) < page {
			return all, nil
		}
	}
}
