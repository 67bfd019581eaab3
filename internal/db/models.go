package db

import (
	"time"
)

type Notification struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type Contact struct {
	OwnerID string `json:"owner_id"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

type Webhook struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	EventsJSON string    `json:"events_json"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ArchiveJob struct {
	ID            int64     `json:"id"`
	OriginalJobID string    `json:"original_job_id"`
	ArchiveFile   string    `json:"archive_file"`
	ArchivedAt    time.Time `json:"archived_at"`
}
