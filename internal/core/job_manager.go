package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/logging"
)

type JobManagerConfig struct {
	Rates             Rates
	AutoRetryInterval time.Duration
	MaxAutoRetries    int
}

type JobManagerDeps struct {
	Store     JobStore
	Staging   StagingStore
	Payments  PaymentGateway
	Storage   DurableStorage
	Migrator  *Migrator
	Scheduler *Scheduler
	Notifier  Notifier
}

// JobManager drives a print job from upload to the queue. Payment verification and
// migration run synchronously in the caller's request; everything after in_queue
// belongs to the Scheduler.
type JobManager struct {
	store     JobStore
	staging   StagingStore
	payments  PaymentGateway
	storage   DurableStorage
	migrator  *Migrator
	scheduler *Scheduler
	notifier  Notifier
	config    JobManagerConfig
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewJobManager(deps JobManagerDeps, cfg JobManagerConfig, logger *zap.Logger) *JobManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if cfg.Rates.Currency == "" {
		cfg.Rates.Currency = "INR"
	}
	return &JobManager{
		store:     deps.Store,
		staging:   deps.Staging,
		payments:  deps.Payments,
		storage:   deps.Storage,
		migrator:  deps.Migrator,
		scheduler: deps.Scheduler,
		notifier:  deps.Notifier,
		config:    cfg,
		logger:    logger.Named("jobs"),
		now:       time.Now,
	}
}

type SubmitRequest struct {
	OwnerID   string
	FileName  string
	Content   io.Reader
	PageCount int
	PrintSpec PrintSpec
	Priority  Priority
}

// Submit stages the upload and creates the job record in pending.
// Any validation failure leaves neither a record nor a staged file.
func (m *JobManager) Submit(ctx context.Context, req SubmitRequest) (*PrintJob, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidPrintSpec)
	}
	if req.Priority != PriorityNormal && req.Priority != PriorityHigh {
		return nil, fmt.Errorf("%w: unknown priority %d", ErrInvalidPrintSpec, req.Priority)
	}

	spec := req.PrintSpec
	if err := ValidatePrintSpec(&spec); err != nil {
		return nil, err
	}
	cost, err := ComputeCost(req.PageCount, spec, m.config.Rates)
	if err != nil {
		return nil, err
	}

	path, size, err := m.staging.Stage(req.OwnerID, req.Content, req.FileName)
	if err != nil {
		return nil, err
	}

	job := &PrintJob{
		ID:                uuid.NewString(),
		OwnerID:           req.OwnerID,
		DocumentName:      req.FileName,
		DocumentSizeBytes: size,
		DocumentPageCount: req.PageCount,
		PrintSpec:         spec,
		Priority:          req.Priority,
		StagingPath:       path,
		Cost:              cost,
		Currency:          m.config.Rates.Currency,
		Status:            StatusPending,
		PaymentStatus:     PaymentUnpaid,
		CreatedAt:         m.now(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		if delErr := m.staging.Delete(path); delErr != nil {
			m.logger.Warn("failed to remove staged file of rejected job", zap.String("path", path), zap.Error(delErr))
		}
		return nil, err
	}

	m.logger.Info("job created",
		logging.JobID(job.ID),
		logging.OwnerID(job.OwnerID),
		zap.Int64("bytes", size),
		zap.Float64("cost", cost))
	m.notifier.Notify(ctx, jobNotification(job, NotifyJobCreated, "Upload received",
		fmt.Sprintf("%s was uploaded. Amount due: %.2f %s.", job.DocumentName, job.Cost, job.Currency)))
	return job, nil
}

// Get returns a job. An empty ownerID skips the ownership check (staff access).
func (m *JobManager) Get(ctx context.Context, ownerID, jobID string) (*PrintJob, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(job, ownerID); err != nil {
		return nil, err
	}
	m.decorate(job)
	return job, nil
}

func (m *JobManager) List(ctx context.Context, filter JobFilter) ([]*PrintJob, error) {
	jobs, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		m.decorate(j)
	}
	return jobs, nil
}

func (m *JobManager) Stats(ctx context.Context) (*QueueStats, error) {
	return m.scheduler.Stats(ctx)
}

// CreateOrder asks the payment processor for an order sized to the job cost and
// moves the job to payment_pending. Repeating the call returns the stored order.
func (m *JobManager) CreateOrder(ctx context.Context, ownerID, jobID string) (*OrderHandle, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(job, ownerID); err != nil {
		return nil, err
	}

	if job.Status == StatusPaymentPending && job.OrderID != "" {
		return m.orderHandle(job), nil
	}
	if job.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot create order for job in status %s", ErrInvalidTransition, job.Status)
	}

	order, err := m.payments.CreateOrder(ctx, MinorUnits(job.Cost), job.Currency, job.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrderFailed, err)
	}

	next := job.Clone()
	next.OrderID = order.OrderID
	if err := next.Transition(StatusPaymentPending, m.now()); err != nil {
		return nil, err
	}
	if err := m.store.UpdateJob(ctx, next); err != nil {
		return nil, err
	}

	m.logTransition(next, StatusPending, StatusPaymentPending, zap.String("order_id", order.OrderID))
	return order, nil
}

type VerifyResult struct {
	Job *PrintJob
	// MigrationErr is set when payment was confirmed but the durable upload did not succeed.
	MigrationErr error
}

// VerifyPayment checks the processor signature and confirms payment in one versioned
// write, then attempts migration as a separate step. A migration failure never
// undoes the confirmed payment.
func (m *JobManager) VerifyPayment(ctx context.Context, ownerID, orderID, paymentID, signature string) (*VerifyResult, error) {
	job, err := m.store.GetJobByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(job, ownerID); err != nil {
		return nil, err
	}

	if job.PaymentStatus == PaymentCompleted {
		m.decorate(job)
		return &VerifyResult{Job: job}, nil
	}
	if job.Status != StatusPaymentPending {
		return nil, fmt.Errorf("%w: cannot verify payment for job in status %s", ErrInvalidTransition, job.Status)
	}

	if err := m.payments.VerifySignature(orderID, paymentID, signature); err != nil {
		m.logger.Warn("payment signature rejected",
			logging.JobID(job.ID), zap.String("order_id", orderID), zap.Error(err))
		if errors.Is(err, ErrSignatureInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}

	next := job.Clone()
	next.PaymentStatus = PaymentCompleted
	next.PaymentID = paymentID
	if err := next.Transition(StatusPaid, m.now()); err != nil {
		return nil, err
	}
	if err := m.store.UpdateJob(ctx, next); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			if current, getErr := m.store.GetJob(ctx, job.ID); getErr == nil && current.PaymentStatus == PaymentCompleted {
				m.decorate(current)
				return &VerifyResult{Job: current}, nil
			}
		}
		return nil, err
	}

	m.logTransition(next, StatusPaymentPending, StatusPaid, zap.String("payment_id", paymentID))
	m.notifier.Notify(ctx, jobNotification(next, NotifyPaymentConfirmed, "Payment received",
		fmt.Sprintf("Payment of %.2f %s for %s was confirmed.", next.Cost, next.Currency, next.DocumentName)))

	result := &VerifyResult{Job: next}
	migrated, migErr := m.migrateAndEnqueue(ctx, next.ID)
	if migrated != nil {
		result.Job = migrated
	}
	result.MigrationErr = migErr
	m.decorate(result.Job)
	return result, nil
}

// FailPayment records a payment the processor declined for orderID. The job becomes
// failed and its staged file is removed. Repeating the call returns the failed job.
func (m *JobManager) FailPayment(ctx context.Context, ownerID, orderID, reason string) (*PrintJob, error) {
	job, err := m.store.GetJobByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(job, ownerID); err != nil {
		return nil, err
	}

	if job.Status == StatusFailed && job.PaymentStatus == PaymentFailed {
		return job, nil
	}
	if job.Status != StatusPaymentPending {
		return nil, fmt.Errorf("%w: cannot fail payment for job in status %s", ErrInvalidTransition, job.Status)
	}
	if reason == "" {
		reason = "payment declined"
	}

	next := job.Clone()
	next.PaymentStatus = PaymentFailed
	next.ErrorMessage = reason
	if err := next.Transition(StatusFailed, m.now()); err != nil {
		return nil, err
	}
	if err := m.store.UpdateJob(ctx, next); err != nil {
		return nil, err
	}

	m.logTransition(next, StatusPaymentPending, StatusFailed, zap.String("order_id", orderID), zap.String("reason", reason))
	next = m.cleanup(ctx, next)
	m.notifier.Notify(ctx, jobNotification(next, NotifyJobFailed, "Payment failed",
		fmt.Sprintf("Payment for %s did not go through: %s", next.DocumentName, reason)))
	return next, nil
}

// RetryMigration is the explicit re-trigger for a job left paid by a failed upload.
func (m *JobManager) RetryMigration(ctx context.Context, jobID string) (*PrintJob, error) {
	job, err := m.migrateAndEnqueue(ctx, jobID)
	if err != nil {
		return job, err
	}
	m.decorate(job)
	return job, nil
}

func (m *JobManager) migrateAndEnqueue(ctx context.Context, jobID string) (*PrintJob, error) {
	job, migrated, err := m.migrator.Migrate(ctx, jobID)
	if err != nil {
		if job != nil {
			staff := jobNotification(job, NotifyMigrationFailed, "Cloud upload failed",
				fmt.Sprintf("Job %s is paid but its file could not be uploaded: %v", job.ID, err))
			staff.Staff = true
			m.notifier.Notify(ctx, staff)
		}
		return job, err
	}
	if job.Status != StatusInQueue {
		return job, nil
	}

	if err := m.scheduler.Enqueue(ctx, job); err != nil {
		// The record already says in_queue; scheduler recovery picks it up on restart.
		m.logger.Error("failed to enqueue migrated job", logging.JobID(job.ID), zap.Error(err))
		return job, nil
	}
	if migrated {
		m.notifier.Notify(ctx, jobNotification(job, NotifyJobQueued, "Queued for printing",
			fmt.Sprintf("%s is in the print queue.", job.DocumentName)))
	}
	return job, nil
}

// Cancel cancels a pending or queued job and then removes its files best effort.
// A job already being printed is rejected with ErrCancelInProcess.
func (m *JobManager) Cancel(ctx context.Context, ownerID, jobID string) (*PrintJob, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(job, ownerID); err != nil {
		return nil, err
	}

	from := job.Status
	var cancelled *PrintJob
	switch job.Status {
	case StatusPending:
		next := job.Clone()
		if err := next.Transition(StatusCancelled, m.now()); err != nil {
			return nil, err
		}
		if err := m.store.UpdateJob(ctx, next); err != nil {
			return nil, err
		}
		cancelled = next
	case StatusInQueue:
		cancelled, err = m.scheduler.CancelQueued(ctx, jobID)
		if err != nil {
			return nil, err
		}
	case StatusInProcess:
		return nil, ErrCancelInProcess
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, StatusCancelled)
	}

	m.logTransition(cancelled, from, StatusCancelled)
	cancelled = m.cleanup(ctx, cancelled)
	m.notifier.Notify(ctx, jobNotification(cancelled, NotifyJobCancelled, "Job cancelled",
		fmt.Sprintf("%s was cancelled.", cancelled.DocumentName)))
	return cancelled, nil
}

// cleanup removes the staged and durable copies of a cancelled or unpaid job and
// records what happened in CleanupNote.
func (m *JobManager) cleanup(ctx context.Context, job *PrintJob) *PrintJob {
	next := job.Clone()
	var notes []string

	if next.StagingPath != "" {
		if err := m.staging.Delete(next.StagingPath); err != nil {
			m.logger.Warn("failed to delete staged file", logging.JobID(job.ID), zap.Error(err))
			notes = append(notes, "staged file not removed: "+err.Error())
		} else {
			next.StagingPath = ""
			next.DeletedFromStaging = true
		}
	}
	if next.StorageRef != nil {
		if err := m.storage.Delete(ctx, next.StorageRef.ObjectID); err != nil {
			m.logger.Warn("failed to delete durable copy", logging.JobID(job.ID), zap.Error(err))
			notes = append(notes, "durable copy not removed: "+err.Error())
		} else {
			next.StorageRef = nil
			next.UploadedToDurableStorage = false
		}
	}

	if len(notes) == 0 {
		next.CleanupNote = "files removed"
	} else {
		next.CleanupNote = strings.Join(notes, "; ")
	}
	if err := m.store.UpdateJob(ctx, next); err != nil {
		m.logger.Warn("failed to record cleanup", logging.JobID(job.ID), zap.Error(err))
		return job
	}
	return next
}

// Start launches the bounded automatic migration retry loop.
func (m *JobManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.config.AutoRetryInterval <= 0 || m.config.MaxAutoRetries <= 0 {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.config.AutoRetryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.RetryStalledMigrations(ctx)
			}
		}
	}()
}

func (m *JobManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()
	<-m.doneCh
}

// RetryStalledMigrations re-attempts migration for paid jobs that have not used up
// their automatic attempts. It returns how many jobs were moved to the queue.
func (m *JobManager) RetryStalledMigrations(ctx context.Context) int {
	stalled, err := listAllByStatus(ctx, m.store, StatusPaid)
	if err != nil {
		m.logger.Error("failed to list stalled migrations", zap.Error(err))
		return 0
	}

	moved := 0
	for _, job := range stalled {
		if ctx.Err() != nil {
			break
		}
		if job.UploadedToDurableStorage || job.MigrationAttempts >= m.config.MaxAutoRetries {
			continue
		}
		if _, err := m.migrateAndEnqueue(ctx, job.ID); err != nil {
			m.logger.Warn("automatic migration retry failed",
				logging.JobID(job.ID),
				zap.Int("attempt", job.MigrationAttempts+1),
				zap.Int("max_attempts", m.config.MaxAutoRetries),
				zap.Error(err))
			continue
		}
		moved++
	}
	return moved
}

func (m *JobManager) orderHandle(job *PrintJob) *OrderHandle {
	return &OrderHandle{
		OrderID:  job.OrderID,
		Amount:   MinorUnits(job.Cost),
		Currency: job.Currency,
		Receipt:  job.ID,
	}
}

func (m *JobManager) decorate(job *PrintJob) {
	if job.Status == StatusInQueue && m.scheduler != nil {
		job.QueuePosition = m.scheduler.Position(job.ID)
	}
}

func (m *JobManager) logTransition(job *PrintJob, from, to Status, fields ...zap.Field) {
	fields = append([]zap.Field{
		logging.JobID(job.ID),
		zap.String(logging.FieldFrom, string(from)),
		zap.String(logging.FieldTo, string(to)),
	}, fields...)
	m.logger.Info("job status changed", fields...)
}

func checkOwner(job *PrintJob, ownerID string) error {
	if ownerID != "" && job.OwnerID != ownerID {
		return ErrNotOwner
	}
	return nil
}

func jobNotification(job *PrintJob, typ NotificationType, title, message string) Notification {
	return Notification{
		OwnerID:   job.OwnerID,
		JobID:     job.ID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}
}
