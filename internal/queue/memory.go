package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	item   Item
	leased bool
}

// MemoryQueue keeps everything in process memory and loses it on restart.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	nextSeq int64
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]*memoryEntry)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[item.JobID]; exists {
		return nil
	}
	q.nextSeq++
	item.Seq = q.nextSeq
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	q.entries[item.JobID] = &memoryEntry{item: item}
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, now time.Time) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ready := make([]Item, 0, len(q.entries))
	for _, e := range q.entries {
		if e.leased || e.item.NotBefore.After(now) {
			continue
		}
		ready = append(ready, e.item)
	}
	if len(ready) == 0 {
		return nil, nil
	}
	sortItems(ready)

	head := ready[0]
	q.entries[head.JobID].leased = true
	return &head, nil
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[jobID]
	if !ok || !e.leased {
		return fmt.Errorf("%w: %s", ErrNotLeased, jobID)
	}
	delete(q.entries, jobID)
	return nil
}

func (q *MemoryQueue) Nack(_ context.Context, jobID string, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[jobID]
	if !ok || !e.leased {
		return fmt.Errorf("%w: %s", ErrNotLeased, jobID)
	}
	q.nextSeq++
	e.item.Seq = q.nextSeq
	e.item.NotBefore = notBefore
	e.leased = false
	return nil
}

func (q *MemoryQueue) Remove(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[jobID]
	if !ok || e.leased {
		return false, nil
	}
	delete(q.entries, jobID)
	return true, nil
}

func (q *MemoryQueue) Waiting(_ context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]Item, 0, len(q.entries))
	for _, e := range q.entries {
		if !e.leased {
			items = append(items, e.item)
		}
	}
	sortItems(items)
	return items, nil
}

func (q *MemoryQueue) Recover(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.leased {
			e.leased = false
			n++
		}
	}
	return n, nil
}
