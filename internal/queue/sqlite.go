package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	insertItem = `
		INSERT OR IGNORE INTO queue_items (job_id, priority, seq, not_before, enqueued_at, leased)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM queue_items), ?, ?, 0)
	`

	selectReadyItem = `
		SELECT job_id, priority, seq, not_before, enqueued_at
		FROM queue_items
		WHERE leased = 0 AND not_before <= ?
		ORDER BY priority DESC, MAX(enqueued_at, not_before) ASC, seq ASC
		LIMIT 1
	`

	leaseItem = `UPDATE queue_items SET leased = 1 WHERE job_id = ? AND leased = 0`

	ackItem = `DELETE FROM queue_items WHERE job_id = ? AND leased = 1`

	nackItem = `
		UPDATE queue_items
		SET leased = 0, not_before = ?, seq = (SELECT COALESCE(MAX(seq), 0) + 1 FROM queue_items)
		WHERE job_id = ? AND leased = 1
	`

	removeItem = `DELETE FROM queue_items WHERE job_id = ? AND leased = 0`

	listWaiting = `
		SELECT job_id, priority, seq, not_before, enqueued_at
		FROM queue_items
		WHERE leased = 0
		ORDER BY priority DESC, MAX(enqueued_at, not_before) ASC, seq ASC
	`

	releaseLeased = `UPDATE queue_items SET leased = 0 WHERE leased = 1`
)

// SQLiteQueue is an outbox table in the job database; items survive restarts and
// Recover releases leases held by a previous process.
type SQLiteQueue struct {
	db *sql.DB
}

func NewSQLiteQueue(db *sql.DB) *SQLiteQueue {
	return &SQLiteQueue{db: db}
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, item Item) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, insertItem,
		item.JobID, item.Priority, toMillis(item.NotBefore), toMillis(item.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", item.JobID, err)
	}
	return nil
}

func (q *SQLiteQueue) Dequeue(ctx context.Context, now time.Time) (*Item, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := scanItem(tx.QueryRowContext(ctx, selectReadyItem, toMillis(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queue head: %w", err)
	}

	if _, err := tx.ExecContext(ctx, leaseItem, item.JobID); err != nil {
		return nil, fmt.Errorf("failed to lease job %s: %w", item.JobID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return item, nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, jobID string) error {
	return q.execLeased(ctx, ackItem, jobID)
}

func (q *SQLiteQueue) Nack(ctx context.Context, jobID string, notBefore time.Time) error {
	return q.execLeased(ctx, nackItem, toMillis(notBefore), jobID)
}

func (q *SQLiteQueue) execLeased(ctx context.Context, query string, args ...any) error {
	jobID := args[len(args)-1]
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue item %v: %w", jobID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %v", ErrNotLeased, jobID)
	}
	return nil
}

func (q *SQLiteQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	result, err := q.db.ExecContext(ctx, removeItem, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to remove job %s: %w", jobID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (q *SQLiteQueue) Waiting(ctx context.Context) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, listWaiting)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting jobs: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (q *SQLiteQueue) Recover(ctx context.Context) (int, error) {
	result, err := q.db.ExecContext(ctx, releaseLeased)
	if err != nil {
		return 0, fmt.Errorf("failed to release leased items: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item                  Item
		notBefore, enqueuedAt int64
	)
	if err := row.Scan(&item.JobID, &item.Priority, &item.Seq, &notBefore, &enqueuedAt); err != nil {
		return nil, err
	}
	item.NotBefore = fromMillis(notBefore)
	item.EnqueuedAt = fromMillis(enqueuedAt)
	return &item, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
