package core

import (
	"context"
	"io"
)

type JobFilter struct {
	OwnerID  string
	Status   Status
	Statuses []Status
	Limit    int
	Offset   int
}

// JobStore persists print jobs. UpdateJob is a compare-and-swap on Version and
// returns ErrVersionConflict when the stored record moved on.
type JobStore interface {
	CreateJob(ctx context.Context, job *PrintJob) error
	GetJob(ctx context.Context, id string) (*PrintJob, error)
	GetJobByOrderID(ctx context.Context, orderID string) (*PrintJob, error)
	UpdateJob(ctx context.Context, job *PrintJob) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*PrintJob, error)
	CountJobsByStatus(ctx context.Context) (map[Status]int, error)
}

type StagingStore interface {
	Stage(ownerID string, r io.Reader, originalName string) (path string, size int64, err error)
	Exists(path string) bool
	Delete(path string) error
}

type DurableStorage interface {
	Upload(ctx context.Context, localPath, folder, objectID string) (*StorageRef, error)
	Delete(ctx context.Context, objectID string) error
	Open(ctx context.Context, objectID string) (io.ReadCloser, error)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*OrderHandle, error)
	VerifySignature(orderID, paymentID, signature string) error
}

// Notifier must never block the caller or report delivery failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Executor performs the physical print of a job.
type Executor interface {
	Execute(ctx context.Context, job *PrintJob) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) {}
