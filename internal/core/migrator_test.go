package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func paidJob(id, stagingPath string) *PrintJob {
	return &PrintJob{
		ID:            id,
		OwnerID:       testOwner,
		DocumentName:  id + ".pdf",
		Status:        StatusPaid,
		PaymentStatus: PaymentCompleted,
		StagingPath:   stagingPath,
	}
}

func TestMigratorAcceptsConcurrentWinner(t *testing.T) {
	store := newMemStore()
	staging := newMemStaging(testMaxUpload)
	storage := newMemStorage()
	staging.add("/staging/race.pdf")
	store.put(t, paidJob("race", "/staging/race.pdf"))

	var raced bool
	store.beforeUpdate = func(j *PrintJob) error {
		if raced || !j.UploadedToDurableStorage {
			return nil
		}
		raced = true
		// Another writer records the upload first.
		winner := store.jobs[j.ID].Clone()
		winner.Status = StatusInQueue
		winner.UploadedToDurableStorage = true
		winner.StorageRef = &StorageRef{ObjectID: "print-jobs/race-winner"}
		winner.Version++
		store.jobs[j.ID] = winner
		return ErrVersionConflict
	}

	m := NewMigrator(store, staging, storage, "print-jobs", zap.NewNop())
	job, migrated, err := m.Migrate(context.Background(), "race")
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Equal(t, "print-jobs/race-winner", job.StorageRef.ObjectID)
	assert.True(t, staging.Exists("/staging/race.pdf"))
}

func TestMigratorRejectsWrongStatus(t *testing.T) {
	store := newMemStore()
	staging := newMemStaging(testMaxUpload)
	storage := newMemStorage()
	job := paidJob("odd", "/staging/odd.pdf")
	job.Status = StatusPaymentPending
	store.put(t, job)
	staging.add("/staging/odd.pdf")

	m := NewMigrator(store, staging, storage, "print-jobs", nil)
	_, _, err := m.Migrate(context.Background(), "odd")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Zero(t, storage.uploadCount())

	_, _, err = m.Migrate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMigratorSerializesPerJob(t *testing.T) {
	store := newMemStore()
	staging := newMemStaging(testMaxUpload)
	storage := newMemStorage()
	for _, id := range []string{"a", "b"} {
		staging.add("/staging/" + id + ".pdf")
		store.put(t, paidJob(id, "/staging/"+id+".pdf"))
	}

	m := NewMigrator(store, staging, storage, "print-jobs", nil)
	var wg sync.WaitGroup
	var fresh atomic.Int32
	for i := 0; i < 8; i++ {
		id := "a"
		if i%2 == 1 {
			id = "b"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, migrated, err := m.Migrate(context.Background(), id)
			assert.NoError(t, err)
			if migrated {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, fresh.Load())
	assert.Equal(t, 2, storage.uploadCount())
	assert.Zero(t, staging.count())
}

func TestKeyedMutex(t *testing.T) {
	var k keyedMutex
	unlockA := k.lock("a")

	acquired := make(chan struct{})
	go func() {
		unlock := k.lock("a")
		close(acquired)
		unlock()
	}()

	// A different key is independent.
	unlockB := k.lock("b")
	unlockB()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key was granted early")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was never released")
	}

	require.Eventually(t, func() bool {
		k.mu.Lock()
		defer k.mu.Unlock()
		return len(k.locks) == 0
	}, time.Second, 5*time.Millisecond)
}
