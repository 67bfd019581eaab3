package core

import (
	"fmt"
	"time"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusPaymentPending, StatusCancelled},
	// payment_pending -> failed when the processor declines the payment.
	StatusPaymentPending: {StatusPaid, StatusFailed},
	StatusPaid:           {StatusInQueue},
	StatusInQueue:        {StatusInProcess, StatusCancelled, StatusFailed},
	// in_process -> in_queue only happens as a bounded scheduler retry.
	StatusInProcess: {StatusCompleted, StatusInQueue, StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the job to status to and stamps the matching timestamp.
func (j *PrintJob) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		if j.Status == StatusInProcess && to == StatusCancelled {
			return ErrCancelInProcess
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}

	switch to {
	case StatusPaid:
		if j.PaymentCompletedAt == nil {
			j.PaymentCompletedAt = &now
		}
	case StatusInProcess:
		j.ProcessingStartedAt = &now
	case StatusCompleted, StatusFailed:
		j.CompletedAt = &now
	case StatusCancelled:
		j.CancelledAt = &now
	}

	j.Status = to
	return nil
}

// CheckInvariants reports the first violated record invariant, if any.
func (j *PrintJob) CheckInvariants() error {
	if (j.StorageRef != nil) != j.UploadedToDurableStorage {
		return fmt.Errorf("job %s: storage ref and upload flag disagree", j.ID)
	}
	if j.StorageRef != nil && j.PaymentStatus != PaymentCompleted {
		return fmt.Errorf("job %s: durable copy exists without completed payment", j.ID)
	}
	switch j.Status {
	case StatusPaid, StatusInQueue, StatusInProcess, StatusCompleted:
		if j.PaymentStatus != PaymentCompleted {
			return fmt.Errorf("job %s: status %s requires completed payment", j.ID, j.Status)
		}
	}
	if !j.Status.Terminal() && j.StagingPath == "" && j.StorageRef == nil {
		return fmt.Errorf("job %s: active job holds no file", j.ID)
	}
	return nil
}
