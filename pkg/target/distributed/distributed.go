package distributed

import (
	"context"
	"fmt"
	"io"

	"github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/graph"
	"github.com/sykli/engine/pkg/logger"
	"github.com/sykli/engine/pkg/target"
)

// Target is the Distributed backend: it places each task on one of a
// fixed set of nodes via NodeSelector, dispatches to non-local nodes over
// SSH, and delegates every capability that only makes sense on one
// machine — secrets, artifacts, services — to the wrapped Local backend,
// since a distributed run still resolves secrets and stores artifacts on
// the machine the orchestrator itself runs on.
type Target struct {
	local    target.RunTask
	caps     target.Capabilities
	selector *NodeSelector
	dispatch DispatchFunc
	log      *logger.Logger
}

// New builds a distributed Target wrapping local for its non-placement
// capabilities and local-node dispatch.
func New(local target.RunTask, selector *NodeSelector, dispatch DispatchFunc, log *logger.Logger) *Target {
	return &Target{
		local:    local,
		caps:     target.Probe(local),
		selector: selector,
		dispatch: dispatch,
		log:      log,
	}
}

// RunTask tries spec.Requires's matching candidates in selector order,
// falling through to the next candidate on failure, and fails the task
// with Placement only once every candidate has been tried.
func (t *Target) RunTask(ctx context.Context, spec target.RunSpec, out io.Writer) (*target.RunResult, error) {
	candidates := t.selector.Candidates(spec.Requires)
	if len(candidates) == 0 {
		return nil, errors.Placement(spec.TaskName, "no node satisfies the task's requires labels")
	}

	var lastErr error
	for _, node := range candidates {
		result, err := t.runOn(ctx, node, spec, out)
		if err == nil {
			return result, nil
		}
		lastErr = err
		t.log.WithField("node", node.ID).WithField("task", spec.TaskName).WithError(err).
			Warn("dispatch failed, trying next candidate")
	}
	return nil, errors.Placement(spec.TaskName, fmt.Sprintf("every candidate node failed: %v", lastErr))
}

func (t *Target) runOn(ctx context.Context, node Node, spec target.RunSpec, out io.Writer) (*target.RunResult, error) {
	if node.Addr == LocalNodeAddr {
		return t.local.RunTask(ctx, spec, out)
	}
	return t.dispatch(ctx, node, spec, out)
}

// ResolveSecret delegates to the wrapped Local backend; distributed mode
// does not fetch secrets per-node, see DESIGN.md's open-question decisions
// for this backend.
func (t *Target) ResolveSecret(ctx context.Context, name string) (string, error) {
	if t.caps.Secrets == nil {
		return "", errors.TargetCapability("secrets")
	}
	return t.caps.Secrets.ResolveSecret(ctx, name)
}

// CopyArtifact delegates to the wrapped Local backend.
func (t *Target) CopyArtifact(ctx context.Context, src, dest string) error {
	if t.caps.Storage == nil {
		return errors.TargetCapability("storage")
	}
	return t.caps.Storage.CopyArtifact(ctx, src, dest)
}

// StartServices delegates to the wrapped Local backend: a distributed
// task's declared services still run locally, reachable by whichever node
// ends up running the task only if that node is itself "local".
func (t *Target) StartServices(ctx context.Context, runID, taskName string, services []graph.Service) (string, func(context.Context) error, error) {
	if t.caps.Services == nil {
		return "", nil, errors.TargetCapability("services")
	}
	return t.caps.Services.StartServices(ctx, runID, taskName, services)
}
