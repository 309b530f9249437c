// Package artifact resolves a task's task_inputs — copies naming another
// task's declared output into this task's own workdir before its command
// runs — the way spec.md §4.M's artifact resolver component works.
package artifact

import (
	"context"
	"path/filepath"

	"github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/graph"
	"github.com/sykli/engine/pkg/target"
)

// Completed is the subset of a finished task's state the resolver needs:
// its declared output names mapped to where those bytes currently live on
// disk (a cache restore destination or the task's own workdir path).
type Completed struct {
	Outputs map[string]string
}

// Resolver copies task_inputs entries via a Storage-capable backend.
type Resolver struct {
	storage target.Storage
}

// NewResolver builds a Resolver backed by storage.
func NewResolver(storage target.Storage) *Resolver {
	return &Resolver{storage: storage}
}

// Resolve copies each of inputs into destRoot/<Dest>, reading source
// locations from completed (keyed by task name).
func (r *Resolver) Resolve(ctx context.Context, inputs []graph.TaskInput, completed map[string]Completed, destRoot string) error {
	for _, in := range inputs {
		source, ok := completed[in.FromTask]
		if !ok {
			return errors.SourceTaskNotFound(in.FromTask)
		}
		srcPath, ok := source.Outputs[in.OutputName]
		if !ok {
			return errors.OutputNotFound(in.FromTask, in.OutputName)
		}
		dest := filepath.Join(destRoot, in.Dest)
		if err := r.storage.CopyArtifact(ctx, srcPath, dest); err != nil {
			return err
		}
	}
	return nil
}
