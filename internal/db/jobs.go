package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orrn/printdesk/internal/core"
)

// JobRepository is the SQLite implementation of core.JobStore.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(database *sql.DB) *JobRepository {
	return &JobRepository{db: database}
}

func (r *JobRepository) CreateJob(ctx context.Context, j *core.PrintJob) error {
	if j.Version == 0 {
		j.Version = 1
	}
	ref := storageColumns(j.StorageRef)
	_, err := r.db.ExecContext(ctx, InsertJob,
		j.ID, j.OwnerID, j.DocumentName, j.DocumentSizeBytes, j.DocumentPageCount,
		j.PrintSpec.Copies, j.PrintSpec.PageSelection, j.PrintSpec.PageSize,
		string(j.PrintSpec.Orientation), string(j.PrintSpec.ColorMode), j.PrintSpec.Duplex, int(j.Priority),
		j.StagingPath, ref.url, ref.objectID, ref.bytes, j.Cost, j.Currency,
		string(j.Status), string(j.PaymentStatus), nullString(j.OrderID), j.PaymentID,
		j.UploadedToDurableStorage, j.DeletedFromStaging,
		j.Attempts, j.MigrationAttempts, j.ErrorMessage, j.CleanupNote,
		j.CreatedAt, j.PaymentCompletedAt, j.ProcessingStartedAt, j.CompletedAt, j.CancelledAt,
		j.Version)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.PrintJob, error) {
	j, err := ScanJob(r.db.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (r *JobRepository) GetJobByOrderID(ctx context.Context, orderID string) (*core.PrintJob, error) {
	j, err := ScanJob(r.db.QueryRowContext(ctx, GetJobByOrderID, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", core.ErrJobNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to get job by order: %w", err)
	}
	return j, nil
}

// UpdateJob writes every mutable column in one statement guarded by the version token.
func (r *JobRepository) UpdateJob(ctx context.Context, j *core.PrintJob) error {
	ref := storageColumns(j.StorageRef)
	result, err := r.db.ExecContext(ctx, UpdateJobVersioned,
		j.StagingPath, ref.url, ref.objectID, ref.bytes,
		string(j.Status), string(j.PaymentStatus), nullString(j.OrderID), j.PaymentID,
		j.UploadedToDurableStorage, j.DeletedFromStaging,
		j.Attempts, j.MigrationAttempts, j.ErrorMessage, j.CleanupNote,
		j.PaymentCompletedAt, j.ProcessingStartedAt, j.CompletedAt, j.CancelledAt,
		j.ID, j.Version)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.GetJob(ctx, j.ID); errors.Is(getErr, core.ErrJobNotFound) {
			return getErr
		}
		return fmt.Errorf("%w: %s at version %d", core.ErrVersionConflict, j.ID, j.Version)
	}

	j.Version++
	return nil
}

func (r *JobRepository) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.PrintJob, error) {
	var conditions []string
	var args []interface{}

	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := ListJobsBase
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return ScanJobs(rows)
}

func (r *JobRepository) CountJobsByStatus(ctx context.Context) (map[core.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, CountJobsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[core.Status(status)] = count
	}
	return counts, rows.Err()
}

func (r *JobRepository) DeleteJob(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, DeleteJob, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

type RowScanner interface {
	Scan(dest ...any) error
}

func ScanJob(row RowScanner) (*core.PrintJob, error) {
	var (
		j                                        core.PrintJob
		orientation, colorMode, status, payment  string
		priority                                 int
		storageURL, storageObjectID, orderID     sql.NullString
		storageBytes                             sql.NullInt64
		paymentAt, startedAt, completedAt, cxlAt sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.OwnerID, &j.DocumentName, &j.DocumentSizeBytes, &j.DocumentPageCount,
		&j.PrintSpec.Copies, &j.PrintSpec.PageSelection, &j.PrintSpec.PageSize,
		&orientation, &colorMode, &j.PrintSpec.Duplex, &priority,
		&j.StagingPath, &storageURL, &storageObjectID, &storageBytes, &j.Cost, &j.Currency,
		&status, &payment, &orderID, &j.PaymentID, &j.UploadedToDurableStorage, &j.DeletedFromStaging,
		&j.Attempts, &j.MigrationAttempts, &j.ErrorMessage, &j.CleanupNote,
		&j.CreatedAt, &paymentAt, &startedAt, &completedAt, &cxlAt, &j.Version)
	if err != nil {
		return nil, err
	}

	j.PrintSpec.Orientation = core.Orientation(orientation)
	j.PrintSpec.ColorMode = core.ColorMode(colorMode)
	j.Priority = core.Priority(priority)
	j.Status = core.Status(status)
	j.PaymentStatus = core.PaymentStatus(payment)
	j.OrderID = orderID.String
	if storageObjectID.Valid {
		j.StorageRef = &core.StorageRef{
			URL:      storageURL.String,
			ObjectID: storageObjectID.String,
			Bytes:    storageBytes.Int64,
		}
	}
	j.PaymentCompletedAt = timePtr(paymentAt)
	j.ProcessingStartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	j.CancelledAt = timePtr(cxlAt)
	return &j, nil
}

func ScanJobs(rows *sql.Rows) ([]*core.PrintJob, error) {
	var jobs []*core.PrintJob
	for rows.Next() {
		j, err := ScanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type storageCols struct {
	url, objectID sql.NullString
	bytes         sql.NullInt64
}

func storageColumns(ref *core.StorageRef) storageCols {
	if ref == nil {
		return storageCols{}
	}
	return storageCols{
		url:      sql.NullString{String: ref.URL, Valid: true},
		objectID: sql.NullString{String: ref.ObjectID, Valid: true},
		bytes:    sql.NullInt64{Int64: ref.Bytes, Valid: true},
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// ListArchivableJobs returns terminal jobs that finished before cutoff.
func (r *JobRepository) ListArchivableJobs(ctx context.Context, cutoff time.Time) ([]*core.PrintJob, error) {
	rows, err := r.db.QueryContext(ctx, ListArchivableJobs, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list archivable jobs: %w", err)
	}
	defer rows.Close()

	return ScanJobs(rows)
}
