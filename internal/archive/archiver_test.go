package archive

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
)

type removedObjects []string

func (r *removedObjects) Delete(_ context.Context, objectID string) error {
	*r = append(*r, objectID)
	return nil
}

func setup(t *testing.T) (*sql.DB, *Archiver, *removedObjects) {
	t.Helper()
	database, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "live.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	removed := &removedObjects{}
	a, err := NewArchiver(database, removed, Config{ArchivePath: t.TempDir(), ArchiveDays: 30}, nil)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC) }
	return database, a, removed
}

func seed(t *testing.T, repo *db.JobRepository, id string, status core.Status, finished time.Time) {
	t.Helper()
	j := &core.PrintJob{
		ID:            id,
		OwnerID:       "alice",
		DocumentName:  id + ".pdf",
		PrintSpec:     core.PrintSpec{Copies: 1, PageSize: "A4", Orientation: core.OrientationPortrait, ColorMode: core.ColorBlack},
		Status:        status,
		PaymentStatus: core.PaymentCompleted,
		CreatedAt:     finished.Add(-time.Hour),
	}
	switch status {
	case core.StatusCompleted:
		j.CompletedAt = &finished
		j.StorageRef = &core.StorageRef{ObjectID: "print-jobs/" + id}
		j.UploadedToDurableStorage = true
	case core.StatusCancelled:
		j.CancelledAt = &finished
	}
	require.NoError(t, repo.CreateJob(context.Background(), j))
}

func TestRunArchiveMovesOldTerminalJobs(t *testing.T) {
	database, a, removed := setup(t)
	repo := db.NewJobRepository(database)
	ctx := context.Background()
	old := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	seed(t, repo, "printed", core.StatusCompleted, old)
	seed(t, repo, "dropped", core.StatusCancelled, old)
	seed(t, repo, "recent", core.StatusCompleted, time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC))
	seed(t, repo, "waiting", core.StatusInQueue, old)

	moved, err := a.RunArchive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)
	assert.Equal(t, removedObjects{"print-jobs/printed"}, *removed)

	for _, id := range []string{"printed", "dropped"} {
		_, err := repo.GetJob(ctx, id)
		assert.ErrorIs(t, err, core.ErrJobNotFound, id)
	}
	for _, id := range []string{"recent", "waiting"} {
		_, err := repo.GetJob(ctx, id)
		assert.NoError(t, err, id)
	}

	archives, err := a.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, "archive_2026_06.db", archives[0].Filename)
	assert.Equal(t, 2, archives[0].JobCount)
	assert.Equal(t, "2026_06", archives[0].DateRange)

	moved, err = a.RunArchive(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestRestoreJob(t *testing.T) {
	database, a, _ := setup(t)
	repo := db.NewJobRepository(database)
	ctx := context.Background()
	seed(t, repo, "printed", core.StatusCompleted, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))

	_, err := a.RunArchive(ctx)
	require.NoError(t, err)

	job, err := a.RestoreJob(ctx, "printed")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, job.Status)

	live, err := repo.GetJob(ctx, "printed")
	require.NoError(t, err)
	assert.Equal(t, "alice", live.OwnerID)

	_, err = a.RestoreJob(ctx, "printed")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestGetArchiveInfo(t *testing.T) {
	database, a, _ := setup(t)
	seed(t, db.NewJobRepository(database), "printed", core.StatusCompleted, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	_, err := a.RunArchive(ctx)
	require.NoError(t, err)

	info, err := a.GetArchiveInfo(ctx, "archive_2026_06.db")
	require.NoError(t, err)
	assert.Equal(t, 1, info.JobCount)
	assert.Positive(t, info.Size)

	for _, name := range []string{"archive_2020_01.db", "../live.db", "notes.txt"} {
		_, err := a.GetArchiveInfo(ctx, name)
		assert.ErrorIs(t, err, ErrArchiveNotFound, name)
	}
}

func TestStopWithoutStart(t *testing.T) {
	_, a, _ := setup(t)
	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked")
	}
}
