package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koios/gencast/pkg/models"
)

// Queue is a bounded FIFO of submissions. When full, Put discards the oldest
// entry so the newest always fits.
type Queue struct {
	items   chan models.Submission
	mu      sync.Mutex // serializes Put so evict-then-send is atomic
	dropped atomic.Int64
}

// NewQueue creates a queue holding up to size submissions
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = models.DefaultQueueSize
	}
	return &Queue{items: make(chan models.Submission, size)}
}

// Put enqueues sub without blocking and reports whether an older entry was dropped
func (q *Queue) Put(sub models.Submission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	for {
		select {
		case q.items <- sub:
			return evicted
		default:
		}

		select {
		case <-q.items:
			q.dropped.Add(1)
			evicted = true
		default:
			// a consumer made room between the two selects
		}
	}
}

// Get waits up to wait for the next submission. It returns false on timeout
// or when ctx is done.
func (q *Queue) Get(ctx context.Context, wait time.Duration) (models.Submission, bool) {
	select {
	case sub := <-q.items:
		return sub, true
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case sub := <-q.items:
		return sub, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Len returns the number of queued submissions
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue bound
func (q *Queue) Cap() int {
	return cap(q.items)
}

// Dropped returns how many submissions were discarded to make room
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
