package queue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdesk/internal/db"
	"github.com/orrn/printdesk/internal/queue"
)

func backends(t *testing.T) map[string]func(t *testing.T) queue.Queue {
	return map[string]func(t *testing.T) queue.Queue{
		"memory": func(*testing.T) queue.Queue { return queue.NewMemoryQueue() },
		"sqlite": func(t *testing.T) queue.Queue {
			database, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "queue.db")})
			require.NoError(t, err)
			t.Cleanup(func() { database.Close() })
			return queue.NewSQLiteQueue(database)
		},
	}
}

func enqueue(t *testing.T, q queue.Queue, id string, priority int) {
	t.Helper()
	require.NoError(t, q.Enqueue(context.Background(), queue.Item{JobID: id, Priority: priority}))
}

func dequeueID(t *testing.T, q queue.Queue, now time.Time) string {
	t.Helper()
	item, err := q.Dequeue(context.Background(), now)
	require.NoError(t, err)
	if item == nil {
		return ""
	}
	return item.JobID
}

func waitingIDs(t *testing.T, q queue.Queue) []string {
	t.Helper()
	items, err := q.Waiting(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.JobID)
	}
	return ids
}

func TestQueueOrdering(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := open(t)
			now := time.Now()
			enqueue(t, q, "n1", 0)
			enqueue(t, q, "n2", 0)
			enqueue(t, q, "h1", 1)
			enqueue(t, q, "n1", 1)

			assert.Equal(t, []string{"h1", "n1", "n2"}, waitingIDs(t, q))
			assert.Equal(t, "h1", dequeueID(t, q, now))
			assert.Equal(t, "n1", dequeueID(t, q, now))
			assert.Equal(t, "n2", dequeueID(t, q, now))
			assert.Empty(t, dequeueID(t, q, now))
		})
	}
}

func TestQueueLeaseLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := open(t)
			ctx := context.Background()
			now := time.Now()
			enqueue(t, q, "a", 0)
			enqueue(t, q, "b", 0)

			require.Equal(t, "a", dequeueID(t, q, now))
			assert.Equal(t, []string{"b"}, waitingIDs(t, q))

			removed, err := q.Remove(ctx, "a")
			require.NoError(t, err)
			assert.False(t, removed, "leased items cannot be removed")

			require.NoError(t, q.Nack(ctx, "a", now.Add(time.Minute)))
			assert.Equal(t, []string{"b", "a"}, waitingIDs(t, q))

			assert.Equal(t, "b", dequeueID(t, q, now))
			assert.Empty(t, dequeueID(t, q, now), "a is not visible yet")
			assert.Equal(t, "a", dequeueID(t, q, now.Add(2*time.Minute)))

			require.NoError(t, q.Ack(ctx, "a"))
			require.NoError(t, q.Ack(ctx, "b"))
			assert.ErrorIs(t, q.Ack(ctx, "a"), queue.ErrNotLeased)
			assert.ErrorIs(t, q.Nack(ctx, "ghost", now), queue.ErrNotLeased)
			assert.Empty(t, waitingIDs(t, q))
		})
	}
}

func TestNackedItemJoinsTailWhenBackoffEnds(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := open(t)
			ctx := context.Background()
			base := time.Now().Truncate(time.Millisecond)
			at := func(id string, offset time.Duration) {
				require.NoError(t, q.Enqueue(ctx, queue.Item{JobID: id, EnqueuedAt: base.Add(offset)}))
			}

			at("a", 0)
			require.Equal(t, "a", dequeueID(t, q, base))
			require.NoError(t, q.Nack(ctx, "a", base.Add(100*time.Millisecond)))

			// c arrives during a's backoff, d after it ends.
			at("c", 40*time.Millisecond)
			at("d", 200*time.Millisecond)

			assert.Equal(t, []string{"c", "a", "d"}, waitingIDs(t, q))
			later := base.Add(300 * time.Millisecond)
			assert.Equal(t, "c", dequeueID(t, q, later))
			assert.Equal(t, "a", dequeueID(t, q, later))
			assert.Equal(t, "d", dequeueID(t, q, later))
		})
	}
}

func TestQueueRemoveWaiting(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := open(t)
			ctx := context.Background()
			enqueue(t, q, "a", 0)

			removed, err := q.Remove(ctx, "a")
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = q.Remove(ctx, "a")
			require.NoError(t, err)
			assert.False(t, removed)
		})
	}
}

func TestQueueRecoverReleasesLeases(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := open(t)
			now := time.Now()
			enqueue(t, q, "a", 0)
			enqueue(t, q, "b", 0)
			dequeueID(t, q, now)
			dequeueID(t, q, now)

			n, err := q.Recover(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.ElementsMatch(t, []string{"a", "b"}, waitingIDs(t, q))
		})
	}
}

func TestSQLiteQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	database, err := db.Open(db.Config{Path: path})
	require.NoError(t, err)
	q := queue.NewSQLiteQueue(database)
	enqueue(t, q, "normal", 0)
	enqueue(t, q, "high", 1)
	require.Equal(t, "high", dequeueID(t, q, time.Now()))
	require.NoError(t, database.Close())

	database, err = db.Open(db.Config{Path: path})
	require.NoError(t, err)
	defer database.Close()
	q = queue.NewSQLiteQueue(database)

	assert.Equal(t, []string{"normal"}, waitingIDs(t, q))
	n, err := q.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"high", "normal"}, waitingIDs(t, q))
}

func TestEarliestNotBefore(t *testing.T) {
	now := time.Now()
	_, ok := queue.EarliestNotBefore([]queue.Item{{JobID: "a"}}, now)
	assert.False(t, ok)

	soon := now.Add(time.Second)
	later := now.Add(time.Minute)
	got, ok := queue.EarliestNotBefore([]queue.Item{
		{JobID: "a", NotBefore: later},
		{JobID: "b", NotBefore: soon},
		{JobID: "c", NotBefore: now.Add(-time.Second)},
	}, now)
	require.True(t, ok)
	assert.Equal(t, soon, got)
}
