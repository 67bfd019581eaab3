package db

const jobColumns = `id, owner_id, document_name, document_size_bytes, document_page_count,
	copies, page_selection, page_size, orientation, color_mode, duplex, priority,
	staging_path, storage_url, storage_object_id, storage_bytes, cost, currency,
	status, payment_status, order_id, payment_id, uploaded_to_durable_storage, deleted_from_staging,
	attempts, migration_attempts, error_message, cleanup_note,
	created_at, payment_completed_at, processing_started_at, completed_at, cancelled_at, version`

const (
	InsertJob = `
		INSERT INTO print_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`

	GetJobByOrderID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE order_id = ?`

	ListJobsBase = `SELECT ` + jobColumns + ` FROM print_jobs`

	UpdateJobVersioned = `
		UPDATE print_jobs SET
			staging_path = ?, storage_url = ?, storage_object_id = ?, storage_bytes = ?,
			status = ?, payment_status = ?, order_id = ?, payment_id = ?,
			uploaded_to_durable_storage = ?, deleted_from_staging = ?,
			attempts = ?, migration_attempts = ?, error_message = ?, cleanup_note = ?,
			payment_completed_at = ?, processing_started_at = ?, completed_at = ?, cancelled_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`

	CountJobsByStatus = `SELECT status, COUNT(*) FROM print_jobs GROUP BY status`

	DeleteJob = `DELETE FROM print_jobs WHERE id = ?`

	ListArchivableJobs = `SELECT ` + jobColumns + ` FROM print_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND COALESCE(completed_at, cancelled_at) < ?
		ORDER BY created_at ASC`
)

const (
	InsertNotification = `
		INSERT INTO notifications (owner_id, job_id, type, title, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	ListNotificationsByOwner = `
		SELECT id, owner_id, job_id, type, title, message, read, created_at
		FROM notifications WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`

	MarkNotificationRead = `UPDATE notifications SET read = 1 WHERE id = ? AND owner_id = ?`
)

const (
	GetContact = `SELECT owner_id, email, phone FROM contacts WHERE owner_id = ?`

	UpsertContact = `
		INSERT INTO contacts (owner_id, email, phone) VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET email = excluded.email, phone = excluded.phone
	`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY name ASC
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ?
		WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT value, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
)

const (
	InsertArchiveJob = `INSERT INTO archive_jobs (original_job_id, archive_file) VALUES (?, ?)`

	CountArchiveJobsByFile = `SELECT COUNT(*) FROM archive_jobs WHERE archive_file = ?`
)

const (
	ListArchiveJobsByOriginal = `SELECT id, original_job_id, archive_file, archived_at FROM archive_jobs WHERE original_job_id = ?`

	DeleteArchiveJobByOriginal = `DELETE FROM archive_jobs WHERE original_job_id = ?`
)
