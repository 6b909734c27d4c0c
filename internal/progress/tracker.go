// Package progress tracks the host's in-progress generation job so the cast
// worker can show its preview frames while idle.
package progress

import (
	"sync"
	"time"

	"github.com/koios/gencast/pkg/models"
)

// Tracker holds the latest preview of the running job
type Tracker struct {
	mu      sync.RWMutex
	current models.Progress
	active  bool
	now     func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Update records a new preview. A new job id resets the start time unless
// one is supplied.
func (t *Tracker) Update(p models.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.StartedAt.IsZero() {
		if t.active && t.current.JobID == p.JobID {
			p.StartedAt = t.current.StartedAt
		} else {
			p.StartedAt = t.now()
		}
	}
	t.current = p
	t.active = true
}

// Finish clears the job if it is still the current one
func (t *Tracker) Finish(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active && t.current.JobID == jobID {
		t.current = models.Progress{}
		t.active = false
	}
}

// Current returns the latest preview, if a job is running
func (t *Tracker) Current() (models.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current, t.active
}
