package runserver

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sykli/engine/pkg/graph"
	"github.com/sykli/engine/pkg/logger"
	"github.com/sykli/engine/pkg/orchestrator"
)

// Server drives submitted pipelines to completion, assigning each a uuid
// run ID, bounding it to MaxRunDuration (spec.md's default-10-minute
// ceiling, one of its previously open questions — resolved here as a
// per-run context deadline rather than a per-task one, so partial
// progress from a slow-but-healthy run is still recorded up to the
// moment it's cut off), and publishing lifecycle events to Bus.
type Server struct {
	orch           *orchestrator.Orchestrator
	bus            *Bus
	registry       *Registry
	log            *logger.Logger
	maxRunDuration time.Duration
}

// NewServer builds a Server around an already-configured Orchestrator.
func NewServer(orch *orchestrator.Orchestrator, maxRunDuration time.Duration, log *logger.Logger) *Server {
	if maxRunDuration <= 0 {
		maxRunDuration = 10 * time.Minute
	}
	return &Server{
		orch:           orch,
		bus:            NewBus(),
		registry:       NewRegistry(),
		log:            log,
		maxRunDuration: maxRunDuration,
	}
}

// Bus returns the server's event bus, for a caller wiring up the HTTP/WS
// surface or a CLI progress renderer.
func (s *Server) Bus() *Bus { return s.bus }

// Registry returns the server's run registry.
func (s *Server) Registry() *Registry { return s.registry }

// Submit assigns a new run ID, registers it, and runs p to completion
// synchronously, bounded by s.maxRunDuration. It returns once the run
// finishes (successfully, with failures, or cut off by the ceiling).
func (s *Server) Submit(ctx context.Context, p *graph.Pipeline) (*orchestrator.RunResult, error) {
	runID := uuid.NewString()
	s.registry.Create(runID)
	return s.run(ctx, runID, p)
}

// SubmitAsync assigns a new run ID, registers it, starts p running in the
// background, and returns the run ID immediately — the way the long-running
// server mode accepts a pipeline over its HTTP surface without blocking the
// request on the run's full duration. Callers poll GET /runs/{id} or stream
// GET /runs/{id}/events for progress.
func (s *Server) SubmitAsync(ctx context.Context, p *graph.Pipeline) string {
	runID := uuid.NewString()
	s.registry.Create(runID)
	// Detach from ctx's cancellation (an HTTP request's context ends when
	// its handler returns) while keeping its values.
	ctx = context.WithoutCancel(ctx)
	go func() {
		if _, err := s.run(ctx, runID, p); err != nil {
			s.log.WithError(err).WithField("run", runID).Error("async run failed")
		}
	}()
	return runID
}

// run drives a registered runID's pipeline to completion, bounded by
// s.maxRunDuration, publishing lifecycle events throughout.
func (s *Server) run(ctx context.Context, runID string, p *graph.Pipeline) (*orchestrator.RunResult, error) {
	s.registry.MarkRunning(runID)

	runCtx, cancel := context.WithTimeout(ctx, s.maxRunDuration)
	defer cancel()

	hooks := orchestrator.Hooks{
		OnStart: func(taskName string) {
			s.bus.Publish(Event{Type: EventTaskStarted, RunID: runID, TaskName: taskName, Timestamp: time.Now()})
		},
		OnComplete: func(tr *orchestrator.TaskResult) {
			s.bus.Publish(Event{Type: EventTaskCompleted, RunID: runID, TaskName: tr.Name, Timestamp: time.Now(), Data: tr})
		},
	}

	s.bus.Publish(Event{Type: EventRunStarted, RunID: runID, Timestamp: time.Now()})

	result, err := s.orch.Run(runCtx, p, runID, hooks)

	s.registry.Finish(runID, result, err)
	s.bus.Publish(Event{Type: EventRunCompleted, RunID: runID, Timestamp: time.Now(), Data: result})

	if err != nil {
		s.log.WithError(err).WithField("run", runID).Error("run failed")
	}
	return result, err
}
