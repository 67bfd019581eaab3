package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

type NotificationOperations struct {
	db *sql.DB
}

func NewNotificationOperations(database *sql.DB) *NotificationOperations {
	return &NotificationOperations{db: database}
}

func (o *NotificationOperations) CreateNotification(ctx context.Context, n *Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	result, err := o.db.ExecContext(ctx, InsertNotification,
		n.OwnerID, n.JobID, n.Type, n.Title, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get notification id: %w", err)
	}
	n.ID = id
	return nil
}

func (o *NotificationOperations) ListNotifications(ctx context.Context, ownerID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := o.db.QueryContext(ctx, ListNotificationsByOwner, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.JobID, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (o *NotificationOperations) MarkRead(ctx context.Context, ownerID string, id int64) error {
	result, err := o.db.ExecContext(ctx, MarkNotificationRead, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ContactOperations struct {
	db *sql.DB
}

func NewContactOperations(database *sql.DB) *ContactOperations {
	return &ContactOperations{db: database}
}

func (o *ContactOperations) GetContact(ctx context.Context, ownerID string) (*Contact, error) {
	c := &Contact{}
	err := o.db.QueryRowContext(ctx, GetContact, ownerID).Scan(&c.OwnerID, &c.Email, &c.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

func (o *ContactOperations) UpsertContact(ctx context.Context, c *Contact) error {
	if _, err := o.db.ExecContext(ctx, UpsertContact, c.OwnerID, c.Email, c.Phone); err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

type WebhookOperations struct {
	db *sql.DB
}

func NewWebhookOperations(database *sql.DB) *WebhookOperations {
	return &WebhookOperations{db: database}
}

func (o *WebhookOperations) CreateWebhook(ctx context.Context, w *Webhook) error {
	result, err := o.db.ExecContext(ctx, InsertWebhook, w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

func (o *WebhookOperations) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := o.db.QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func (o *WebhookOperations) ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	pattern := "%\"" + event + "\"%"
	rows, err := o.db.QueryContext(ctx, ListWebhooksForEvent, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func (o *WebhookOperations) GetWebhookByID(ctx context.Context, id int64) (*Webhook, error) {
	w := &Webhook{}
	err := o.db.QueryRowContext(ctx, GetWebhookByID, id).
		Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

func (o *WebhookOperations) UpdateWebhook(ctx context.Context, w *Webhook) error {
	result, err := o.db.ExecContext(ctx, UpdateWebhook, w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (o *WebhookOperations) DeleteWebhook(ctx context.Context, id int64) error {
	if _, err := o.db.ExecContext(ctx, DeleteWebhook, id); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

type SettingsOperations struct {
	db *sql.DB
}

func NewSettingsOperations(database *sql.DB) *SettingsOperations {
	return &SettingsOperations{db: database}
}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := o.db.QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string) error {
	if _, err := o.db.ExecContext(ctx, SetSetting, key, value); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

type ArchiveOperations struct {
	db *sql.DB
}

func NewArchiveOperations(database *sql.DB) *ArchiveOperations {
	return &ArchiveOperations{db: database}
}

func (o *ArchiveOperations) RecordArchivedJob(ctx context.Context, originalJobID, archiveFile string) error {
	if _, err := o.db.ExecContext(ctx, InsertArchiveJob, originalJobID, archiveFile); err != nil {
		return fmt.Errorf("failed to record archived job: %w", err)
	}
	return nil
}

func (o *ArchiveOperations) CountByFile(ctx context.Context, archiveFile string) (int, error) {
	var count int
	if err := o.db.QueryRowContext(ctx, CountArchiveJobsByFile, archiveFile).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count archived jobs: %w", err)
	}
	return count, nil
}

func (o *ArchiveOperations) FindByOriginalID(ctx context.Context, originalJobID string) (*ArchiveJob, error) {
	a := &ArchiveJob{}
	err := o.db.QueryRowContext(ctx, ListArchiveJobsByOriginal, originalJobID).
		Scan(&a.ID, &a.OriginalJobID, &a.ArchiveFile, &a.ArchivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find archived job: %w", err)
	}
	return a, nil
}

func (o *ArchiveOperations) ForgetArchivedJob(ctx context.Context, originalJobID string) error {
	if _, err := o.db.ExecContext(ctx, DeleteArchiveJobByOriginal, originalJobID); err != nil {
		return fmt.Errorf("failed to delete archive record: %w", err)
	}
	return nil
}
