package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
	"github.com/orrn/printdesk/internal/logging"
)

var ErrArchiveNotFound = errors.New("archive not found")

// ObjectRemover deletes durable copies of archived jobs.
type ObjectRemover interface {
	Delete(ctx context.Context, objectID string) error
}

// Archiver moves terminal jobs older than the retention window into monthly
// SQLite files (archive_YYYY_MM.db) that share the live schema.
type Archiver struct {
	jobs        *db.JobRepository
	records     *db.ArchiveOperations
	objects     ObjectRemover
	archivePath string
	archiveDays int
	interval    time.Duration
	logger      *zap.Logger
	now         func() time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	mu          sync.Mutex
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	JobCount  int       `json:"job_count"`
	DateRange string    `json:"date_range"`
}

type Config struct {
	ArchivePath string
	ArchiveDays int
	Interval    time.Duration
}

func NewArchiver(database *sql.DB, objects ObjectRemover, config Config, logger *zap.Logger) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.ArchiveDays <= 0 {
		config.ArchiveDays = 30
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(config.ArchivePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		jobs:        db.NewJobRepository(database),
		records:     db.NewArchiveOperations(database),
		objects:     objects,
		archivePath: config.ArchivePath,
		archiveDays: config.ArchiveDays,
		interval:    config.Interval,
		logger:      logger.Named("archive"),
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Archiver) Start(ctx context.Context) {
	a.doneCh = make(chan struct{})
	go a.runPeriodicArchive(ctx, a.doneCh)
}

func (a *Archiver) Stop() {
	close(a.stopCh)
	if a.doneCh != nil {
		<-a.doneCh
	}
}

func (a *Archiver) runPeriodicArchive(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			if _, err := a.RunArchive(ctx); err != nil {
				a.logger.Error("archive run failed", zap.Error(err))
			}
		}
	}
}

// RunArchive archives every eligible job and returns how many were moved.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().AddDate(0, 0, -a.archiveDays)
	jobs, err := a.jobs.ListArchivableJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get jobs for archival: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	filename := fmt.Sprintf("archive_%s.db", a.now().Format("2006_01"))
	archiveDB, err := db.Open(db.Config{Path: filepath.Join(a.archivePath, filename)})
	if err != nil {
		return 0, fmt.Errorf("failed to open archive database: %w", err)
	}
	defer archiveDB.Close()
	archived := db.NewJobRepository(archiveDB)

	moved := 0
	for _, job := range jobs {
		if err := archived.CreateJob(ctx, job); err != nil {
			return moved, fmt.Errorf("failed to copy job %s to archive: %w", job.ID, err)
		}
		if err := a.records.RecordArchivedJob(ctx, job.ID, filename); err != nil {
			return moved, err
		}
		if err := a.jobs.DeleteJob(ctx, job.ID); err != nil {
			return moved, err
		}
		a.removeObject(ctx, job)
		moved++
	}

	a.logger.Info("archived jobs", zap.Int("count", moved), zap.String("file", filename))
	return moved, nil
}

func (a *Archiver) removeObject(ctx context.Context, job *core.PrintJob) {
	if a.objects == nil || job.StorageRef == nil {
		return
	}
	if err := a.objects.Delete(ctx, job.StorageRef.ObjectID); err != nil {
		a.logger.Warn("failed to delete durable copy of archived job", logging.JobID(job.ID), zap.Error(err))
	}
}

func (a *Archiver) ListArchives(ctx context.Context) ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for _, file := range files {
		if file.IsDir() || !isArchiveName(file.Name()) {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		archives = append(archives, a.describe(ctx, file.Name(), info))
	}
	return archives, nil
}

func (a *Archiver) GetArchiveInfo(ctx context.Context, filename string) (*ArchiveFile, error) {
	if !isArchiveName(filename) || filepath.Base(filename) != filename {
		return nil, ErrArchiveNotFound
	}
	info, err := os.Stat(filepath.Join(a.archivePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	return a.describe(ctx, filename, info), nil
}

func (a *Archiver) describe(ctx context.Context, filename string, info os.FileInfo) *ArchiveFile {
	f := &ArchiveFile{
		Filename:  filename,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
		DateRange: strings.TrimSuffix(strings.TrimPrefix(filename, "archive_"), ".db"),
	}
	if count, err := a.records.CountByFile(ctx, filename); err == nil {
		f.JobCount = count
	}
	return f
}

// RestoreJob copies an archived job back into the live table.
func (a *Archiver) RestoreJob(ctx context.Context, jobID string) (*core.PrintJob, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, err := a.records.FindByOriginalID(ctx, jobID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
		}
		return nil, err
	}

	path := filepath.Join(a.archivePath, record.ArchiveFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, record.ArchiveFile)
	}
	archiveDB, err := db.Open(db.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	defer archiveDB.Close()

	job, err := db.NewJobRepository(archiveDB).GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := a.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to restore job: %w", err)
	}
	if err := a.records.ForgetArchivedJob(ctx, jobID); err != nil {
		return nil, err
	}
	return job, nil
}

func isArchiveName(name string) bool {
	return strings.HasPrefix(name, "archive_") && strings.HasSuffix(name, ".db")
}
