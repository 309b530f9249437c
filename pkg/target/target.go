// Package target defines the execution backend abstraction spec.md §4.G
// describes: every backend must implement RunTask, and may additionally
// implement any of Lifecycle, Secrets, Storage or Services — capabilities
// the orchestrator probes for once, when it is built, via a type assertion
// rather than requiring every backend to stub out methods it cannot
// usefully support.
package target

import (
	"context"
	"io"
	"time"

	"github.com/sykli/engine/pkg/graph"
)

// RunSpec is everything a backend needs to execute one task attempt.
type RunSpec struct {
	RunID     string
	TaskName  string
	Command   string
	Container string
	Workdir   string
	Env       map[string]string
	Mounts    []graph.Mount
	Resources map[string]graph.Resource // pipeline resources a mount's Resource id resolves against
	NetworkID string                    // service network to join, set only when the task declared services
	Timeout   time.Duration
	Requires  []string // node label selectors, consulted only by the distributed backend
}

// RunResult is the outcome of one task attempt.
type RunResult struct {
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// RunTask is the one capability every backend must implement: run a task's
// command to completion (or until ctx is cancelled / the timeout fires),
// streaming merged output to out.
type RunTask interface {
	RunTask(ctx context.Context, spec RunSpec, out io.Writer) (*RunResult, error)
}

// Lifecycle is implemented by backends that need explicit setup/teardown
// around a task attempt beyond the process or container itself. Neither
// backend in this module implements it; the local backend's per-task
// service network is created through Services.
type Lifecycle interface {
	Prepare(ctx context.Context, spec RunSpec) error
	Teardown(ctx context.Context, spec RunSpec) error
}

// Secrets is implemented by backends that can resolve a named secret into
// its value for injection into a task's environment.
type Secrets interface {
	ResolveSecret(ctx context.Context, name string) (string, error)
}

// Storage is implemented by backends that can move artifact bytes between
// a dependency's output and a dependent task's workdir.
type Storage interface {
	CopyArtifact(ctx context.Context, src, dest string) error
}

// Services is implemented by backends that can start and stop the
// background service containers a task declares. It returns the network
// the services were attached to (so the caller's own task container can
// join it and actually reach them) and a teardown func guaranteed safe to
// call even if startup partially failed.
type Services interface {
	StartServices(ctx context.Context, runID, taskName string, services []graph.Service) (networkID string, teardown func(context.Context) error, err error)
}

// Capabilities is the result of probing a RunTask backend for its
// optional interfaces, so the orchestrator probes once when it is built
// instead of repeating the assertions at every call site.
type Capabilities struct {
	Lifecycle Lifecycle
	Secrets   Secrets
	Storage   Storage
	Services  Services
}

// Probe inspects t for each optional capability interface.
func Probe(t RunTask) Capabilities {
	caps := Capabilities{}
	if l, ok := t.(Lifecycle); ok {
		caps.Lifecycle = l
	}
	if s, ok := t.(Secrets); ok {
		caps.Secrets = s
	}
	if s, ok := t.(Storage); ok {
		caps.Storage = s
	}
	if s, ok := t.(Services); ok {
		caps.Services = s
	}
	return caps
}
