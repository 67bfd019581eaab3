// Package queue holds the waiting line of print jobs behind a small interface so the
// scheduler can run against an in-memory list in tests and a SQLite outbox in production.
package queue

import (
	"context"
	"errors"
	"sort"
	"time"
)

var ErrNotLeased = errors.New("queue item not leased")

type Item struct {
	JobID      string
	Priority   int
	Seq        int64
	NotBefore  time.Time
	EnqueuedAt time.Time
}

// Queue orders items by priority class (higher first), then by the time each item
// became visible, then by sequence. Dequeue leases the head item; Ack removes it. Nack
// keeps the item invisible until notBefore, and it joins the tail of its class at that
// moment, behind anything enqueued while it was waiting out its backoff.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context, now time.Time) (*Item, error)
	Ack(ctx context.Context, jobID string) error
	Nack(ctx context.Context, jobID string, notBefore time.Time) error
	Remove(ctx context.Context, jobID string) (bool, error)
	Waiting(ctx context.Context) ([]Item, error)
	Recover(ctx context.Context) (int, error)
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		ri, rj := items[i].ReadyAt(), items[j].ReadyAt()
		if !ri.Equal(rj) {
			return ri.Before(rj)
		}
		return items[i].Seq < items[j].Seq
	})
}

// ReadyAt is when the item joined the waiting line: its enqueue time, or the end of
// its backoff when it was nacked.
func (it Item) ReadyAt() time.Time {
	if it.NotBefore.After(it.EnqueuedAt) {
		return it.NotBefore
	}
	return it.EnqueuedAt
}

// EarliestNotBefore returns the soonest future visibility time among items.
func EarliestNotBefore(items []Item, now time.Time) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, it := range items {
		if !it.NotBefore.After(now) {
			continue
		}
		if !found || it.NotBefore.Before(earliest) {
			earliest = it.NotBefore
			found = true
		}
	}
	return earliest, found
}
