package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/logging"
)

// Migrator moves a paid job's staged file into durable storage exactly once.
type Migrator struct {
	store   JobStore
	staging StagingStore
	storage DurableStorage
	folder  string
	logger  *zap.Logger
	now     func() time.Time
	locks   keyedMutex
}

func NewMigrator(store JobStore, staging StagingStore, storage DurableStorage, folder string, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{
		store:   store,
		staging: staging,
		storage: storage,
		folder:  folder,
		logger:  logger.Named("migrator"),
		now:     time.Now,
	}
}

// Migrate uploads the staged file of jobID and moves the job to in_queue.
// migrated is false when the job was already uploaded; that path makes no storage calls.
// Upload failures leave the job paid with its staged file intact and wrap ErrMigrationFailed.
func (m *Migrator) Migrate(ctx context.Context, jobID string) (job *PrintJob, migrated bool, err error) {
	unlock := m.locks.lock(jobID)
	defer unlock()

	job, err = m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.UploadedToDurableStorage {
		return job, false, nil
	}
	if job.PaymentStatus != PaymentCompleted {
		return nil, false, fmt.Errorf("%w: job %s", ErrPaymentIncomplete, jobID)
	}
	if job.Status != StatusPaid {
		return nil, false, fmt.Errorf("%w: cannot migrate job in status %s", ErrInvalidTransition, job.Status)
	}
	if job.StagingPath == "" || !m.staging.Exists(job.StagingPath) {
		missing := fmt.Errorf("%w: job %s", ErrStagedFileMissing, jobID)
		m.recordFailure(ctx, job, missing)
		return job, false, missing
	}

	ref, uploadErr := m.storage.Upload(ctx, job.StagingPath, m.folder, job.ID)
	if uploadErr != nil {
		m.recordFailure(ctx, job, uploadErr)
		return job, false, fmt.Errorf("%w: %w", ErrMigrationFailed, uploadErr)
	}

	// The durable reference is persisted before the staged copy is touched.
	next := job.Clone()
	next.StorageRef = ref
	next.UploadedToDurableStorage = true
	next.ErrorMessage = ""
	if err := next.Transition(StatusInQueue, m.now()); err != nil {
		return nil, false, err
	}
	if err := m.store.UpdateJob(ctx, next); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			if current, getErr := m.store.GetJob(ctx, jobID); getErr == nil && current.UploadedToDurableStorage {
				return current, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to record migration: %w", err)
	}
	m.logger.Info("job migrated to durable storage",
		logging.JobID(next.ID),
		zap.String("object_id", ref.ObjectID),
		zap.Int64("bytes", ref.Bytes),
		zap.String(logging.FieldFrom, string(StatusPaid)),
		zap.String(logging.FieldTo, string(StatusInQueue)))

	return m.clearStaged(ctx, next), true, nil
}

// clearStaged deletes the staged copy of an uploaded job. Failures leave an orphan
// for the staging sweep and never undo the migration.
func (m *Migrator) clearStaged(ctx context.Context, job *PrintJob) *PrintJob {
	if err := m.staging.Delete(job.StagingPath); err != nil {
		m.logger.Warn("failed to delete staged file after migration",
			logging.JobID(job.ID), zap.Error(err))
		return job
	}

	next := job.Clone()
	next.StagingPath = ""
	next.DeletedFromStaging = true
	if err := m.store.UpdateJob(ctx, next); err != nil {
		m.logger.Warn("failed to record staged file removal", logging.JobID(job.ID), zap.Error(err))
		if current, getErr := m.store.GetJob(ctx, job.ID); getErr == nil {
			return current
		}
		return job
	}
	return next
}

func (m *Migrator) recordFailure(ctx context.Context, job *PrintJob, cause error) {
	m.logger.Warn("durable upload failed", logging.JobID(job.ID), zap.Error(cause))

	job.MigrationAttempts++
	job.ErrorMessage = cause.Error()
	if err := m.store.UpdateJob(ctx, job); err != nil {
		m.logger.Warn("failed to record migration attempt", logging.JobID(job.ID), zap.Error(err))
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
