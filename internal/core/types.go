package core

import (
	"time"
)

// Status is the wire vocabulary shared with the admin console. Do not rename values.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPaymentPending Status = "payment_pending"
	StatusPaid           Status = "paid"
	StatusInQueue        Status = "in_queue"
	StatusInProcess      Status = "in_process"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
)

var AllStatuses = []Status{
	StatusPending, StatusPaymentPending, StatusPaid, StatusInQueue,
	StatusInProcess, StatusCompleted, StatusCancelled, StatusFailed,
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

type ColorMode string

const (
	ColorBlack ColorMode = "black"
	ColorColor ColorMode = "color"
)

type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

type PrintSpec struct {
	Copies        int         `json:"copies"`
	PageSelection string      `json:"page_selection"`
	PageSize      string      `json:"page_size"`
	Orientation   Orientation `json:"orientation"`
	ColorMode     ColorMode   `json:"color_mode"`
	Duplex        bool        `json:"duplex"`
}

type StorageRef struct {
	URL      string `json:"url"`
	ObjectID string `json:"object_id"`
	Bytes    int64  `json:"bytes"`
}

type PrintJob struct {
	ID                string        `json:"id"`
	OwnerID           string        `json:"owner_id"`
	DocumentName      string        `json:"document_name"`
	DocumentSizeBytes int64         `json:"document_size_bytes"`
	DocumentPageCount int           `json:"document_page_count"`
	PrintSpec         PrintSpec     `json:"print_spec"`
	Priority          Priority      `json:"priority"`
	StagingPath       string        `json:"-"`
	StorageRef        *StorageRef   `json:"storage_ref,omitempty"`
	Cost              float64       `json:"cost"`
	Currency          string        `json:"currency"`
	Status            Status        `json:"status"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	OrderID           string        `json:"order_id,omitempty"`
	PaymentID         string        `json:"payment_id,omitempty"`

	UploadedToDurableStorage bool `json:"uploaded_to_durable_storage"`
	DeletedFromStaging       bool `json:"deleted_from_staging"`

	Attempts          int    `json:"attempts"`
	MigrationAttempts int    `json:"migration_attempts"`
	ErrorMessage      string `json:"error_message,omitempty"`
	CleanupNote       string `json:"cleanup_note,omitempty"`

	CreatedAt           time.Time  `json:"created_at"`
	PaymentCompletedAt  *time.Time `json:"payment_completed_at,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`

	// QueuePosition is advisory and recomputed by the scheduler; 0 means not waiting.
	QueuePosition int `json:"queue_position,omitempty"`

	// Version is the optimistic concurrency token for record writes.
	Version int64 `json:"version"`
}

func (j *PrintJob) Clone() *PrintJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.StorageRef != nil {
		ref := *j.StorageRef
		c.StorageRef = &ref
	}
	return &c
}

type OrderHandle struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type NotificationType string

const (
	NotifyJobCreated       NotificationType = "job_created"
	NotifyPaymentConfirmed NotificationType = "payment_confirmed"
	NotifyJobQueued        NotificationType = "job_queued"
	NotifyJobProcessing    NotificationType = "job_processing"
	NotifyJobCompleted     NotificationType = "job_completed"
	NotifyJobFailed        NotificationType = "job_failed"
	NotifyJobCancelled     NotificationType = "job_cancelled"
	NotifyMigrationFailed  NotificationType = "migration_failed"
	NotifyPrinterStatus    NotificationType = "printer_status_changed"
)

type Notification struct {
	OwnerID   string           `json:"owner_id"`
	JobID     string           `json:"job_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Staff     bool             `json:"staff"`
	Timestamp time.Time        `json:"timestamp"`
}

type QueueStats struct {
	ByStatus      map[Status]int `json:"by_status"`
	Waiting       int            `json:"waiting"`
	Processing    int            `json:"processing"`
	MaxConcurrent int            `json:"max_concurrent"`
}
