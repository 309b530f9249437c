// Package progress tracks a run's task counters thread-safely, the single
// counter the orchestrator updates from every level's worker goroutines.
// Snapshot returns the current counts; nothing outside this package reads
// them.
package progress

import "sync"

// Counts is a point-in-time snapshot of a run's progress.
type Counts struct {
	Total     int
	Completed int
	Failed    int
	Skipped   int
	Running   int
}

// Tracker is a mutex-guarded Counts.
type Tracker struct {
	mu     sync.Mutex
	counts Counts
}

// NewTracker builds a Tracker for a run of total tasks.
func NewTracker(total int) *Tracker {
	return &Tracker{counts: Counts{Total: total}}
}

// Start marks one task as having begun execution.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.Running++
}

// Complete marks one running task as finished successfully.
func (t *Tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.Running--
	t.counts.Completed++
}

// Fail marks one running task as finished with a failure.
func (t *Tracker) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.Running--
	t.counts.Failed++
}

// Skip marks one task as skipped (its condition was not satisfied, or it
// never started because a task in an earlier level failed).
func (t *Tracker) Skip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.Skipped++
}

// Snapshot returns the current counts.
func (t *Tracker) Snapshot() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}
