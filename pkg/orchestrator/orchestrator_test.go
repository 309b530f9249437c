package orchestrator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sykli/engine/pkg/graph"
	"github.com/sykli/engine/pkg/logger"
	"github.com/sykli/engine/pkg/services/retry"
	"github.com/sykli/engine/pkg/target"
)

type fakeTarget struct {
	exitCodes map[string]int
}

func (f *fakeTarget) RunTask(ctx context.Context, spec target.RunSpec, out io.Writer) (*target.RunResult, error) {
	code := f.exitCodes[spec.TaskName]
	return &target.RunResult{ExitCode: code}, nil
}

func newTestOrchestrator(t *testing.T, ft *fakeTarget) *Orchestrator {
	return New(Options{
		Target:      ft,
		Log:         logger.NewDefault("test"),
		Retry:       retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		WorkdirRoot: t.TempDir(),
	})
}

func TestRun_AllTasksSucceed(t *testing.T) {
	o := newTestOrchestrator(t, &fakeTarget{exitCodes: map[string]int{"build": 0, "test": 0}})
	p := &graph.Pipeline{Tasks: map[string]graph.Task{
		"build": {Name: "build", Command: "go build"},
		"test":  {Name: "test", Command: "go test", DependsOn: []string{"build"}},
	}}

	result, err := o.Run(context.Background(), p, "run1", Hooks{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, StatusCompleted, result.Tasks["build"].Status)
	assert.Equal(t, StatusCompleted, result.Tasks["test"].Status)
}

func TestRun_FailureAbortsNextLevelButAwaitsSiblings(t *testing.T) {
	o := newTestOrchestrator(t, &fakeTarget{exitCodes: map[string]int{"a": 1, "b": 0, "c": 0}})
	p := &graph.Pipeline{Tasks: map[string]graph.Task{
		"a": {Name: "a", Command: "x"},
		"b": {Name: "b", Command: "x"},
		"c": {Name: "c", Command: "x", DependsOn: []string{"a"}},
	}}

	result, err := o.Run(context.Background(), p, "run2", Hooks{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, StatusFailed, result.Tasks["a"].Status)
	assert.Equal(t, StatusCompleted, result.Tasks["b"].Status, "sibling at the same level must still run")
	assert.Equal(t, StatusSkipped, result.Tasks["c"].Status, "dependent of a failed task must be skipped")
}

func TestRun_ConditionSkipsTask(t *testing.T) {
	o := newTestOrchestrator(t, &fakeTarget{exitCodes: map[string]int{"deploy": 0}})
	o.opts.Context.Branch = "dev"
	p := &graph.Pipeline{Tasks: map[string]graph.Task{
		"deploy": {Name: "deploy", Command: "x", Condition: "branch == 'main'"},
	}}

	result, err := o.Run(context.Background(), p, "run3", Hooks{})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, result.Tasks["deploy"].Status)
}

func TestAssignLevels_UsedByRunForOrdering(t *testing.T) {
	p := &graph.Pipeline{Tasks: map[string]graph.Task{
		"a": {Name: "a"},
		"b": {Name: "b", DependsOn: []string{"a"}},
	}}
	levels := assignLevels(p)
	require.Equal(t, 0, levels["a"])
	require.Equal(t, 1, levels["b"])
}
