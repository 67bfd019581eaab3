package core

import "errors"

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrInvalidPageRange  = errors.New("invalid page range")
	ErrInvalidPrintSpec  = errors.New("invalid print settings")
	ErrSignatureInvalid  = errors.New("payment signature invalid")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCancelInProcess   = errors.New("job is being printed and cannot be cancelled")
	ErrPaymentIncomplete = errors.New("payment not completed")
	ErrStagedFileMissing = errors.New("staged file missing")
	ErrVersionConflict   = errors.New("job record was modified concurrently")
	ErrNotOwner          = errors.New("job does not belong to caller")
	ErrMigrationFailed   = errors.New("cloud migration failed")
	ErrOrderFailed       = errors.New("payment order creation failed")
	ErrSchedulerStopped  = errors.New("scheduler not running")
)
