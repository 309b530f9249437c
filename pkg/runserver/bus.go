// Package runserver assigns run IDs, drives a run to completion under the
// configured ceiling, and exposes an in-process event bus plus an optional
// HTTP/WebSocket surface so a caller can watch a run's task_started /
// task_completed / run_completed events live, the way spec.md §4.K
// describes. Events are ordered per spec.md §5: a task's started event is
// always published before any of its dependents' started events, since
// dependents cannot begin until their level's barrier clears.
package runserver

import (
	"sync"
	"time"
)

// EventType is one of the fixed event kinds a run publishes.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventTaskStarted    EventType = "task_started"
	EventTaskCompleted  EventType = "task_completed"
	EventRunCompleted   EventType = "run_completed"
)

// Event is one published occurrence during a run.
type Event struct {
	Type      EventType   `json:"type"`
	RunID     string      `json:"run_id"`
	TaskName  string      `json:"task_name,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Bus is an in-process pub/sub event bus scoped to one orchestrator
// instance, keeping a replay log per run so a subscriber that connects
// mid-run (or after it finished) still sees everything from the start.
type Bus struct {
	mu          sync.Mutex
	subscribers map[chan Event]bool
	replay      map[string][]Event // runID -> events so far
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan Event]bool), replay: make(map[string][]Event)}
}

// Publish records ev in its run's replay log and fans it out to every
// currently-subscribed channel, non-blocking: a slow subscriber drops
// events rather than stalling the run.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	b.replay[ev.RunID] = append(b.replay[ev.RunID], ev)
	subs := make([]chan Event, 0, len(b.subscribers))
	for ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel receiving every future event across every
// run, and the replay log for runID so the caller can catch up on
// everything published before it subscribed. Call the returned cancel func
// to unsubscribe.
func (b *Bus) Subscribe(runID string) (events <-chan Event, past []Event, cancel func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = true
	past = append([]Event(nil), b.replay[runID]...)
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, past, cancel
}
