package runserver

import (
	"sync"
	"time"

	"github.com/sykli/engine/pkg/orchestrator"
)

// State is a run's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Run is one submitted run's registry entry.
type Run struct {
	ID         string
	State      State
	StartedAt  time.Time
	FinishedAt time.Time
	Result     *orchestrator.RunResult
	Err        error
}

// Registry is the in-memory table of every run this process knows about.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Create registers a new pending run under id.
func (r *Registry) Create(id string) *Run {
	run := &Run{ID: id, State: StatePending}
	r.mu.Lock()
	r.runs[id] = run
	r.mu.Unlock()
	return run
}

// MarkRunning transitions a run to running.
func (r *Registry) MarkRunning(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		run.State = StateRunning
		run.StartedAt = time.Now()
	}
}

// Finish transitions a run to its terminal state with result/err.
func (r *Registry) Finish(id string, result *orchestrator.RunResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return
	}
	run.FinishedAt = time.Now()
	run.Result = result
	run.Err = err
	if err != nil || (result != nil && result.Status == orchestrator.StatusFailed) {
		run.State = StateFailed
	} else {
		run.State = StateCompleted
	}
}

// Get returns the run registered under id, if any.
func (r *Registry) Get(id string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}
