package distributed

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sykerr "github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/logger"
	"github.com/sykli/engine/pkg/target"
)

type fakeLocal struct {
	exitCode int
	err      error
}

func (f *fakeLocal) RunTask(ctx context.Context, spec target.RunSpec, out io.Writer) (*target.RunResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &target.RunResult{ExitCode: f.exitCode}, nil
}

func TestNodeSelector_FiltersByLabel(t *testing.T) {
	sel := NewNodeSelector([]Node{
		{ID: "a", Addr: "a:22", Labels: map[string]string{"arch": "arm64"}},
		{ID: "b", Addr: "b:22", Labels: map[string]string{"arch": "amd64"}},
	})
	candidates := sel.Candidates([]string{"arch=amd64"})
	require.Len(t, candidates, 1)
	assert.Equal(t, "b", candidates[0].ID)
}

func TestNodeSelector_NoRequiresReturnsAll(t *testing.T) {
	sel := NewNodeSelector([]Node{{ID: "a"}, {ID: "b"}})
	assert.Len(t, sel.Candidates(nil), 2)
}

func TestRunTask_LocalSentinelBypassesDispatch(t *testing.T) {
	local := &fakeLocal{exitCode: 0}
	sel := NewNodeSelector([]Node{{ID: "self", Addr: LocalNodeAddr}})
	called := false
	dispatch := func(ctx context.Context, node Node, spec target.RunSpec, out io.Writer) (*target.RunResult, error) {
		called = true
		return &target.RunResult{}, nil
	}

	d := New(local, sel, dispatch, logger.NewDefault("test"))
	result, err := d.RunTask(context.Background(), target.RunSpec{TaskName: "t"}, io.Discard)

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, called, "local sentinel must bypass the dispatch function")
}

func TestRunTask_FallsThroughToNextCandidateOnFailure(t *testing.T) {
	local := &fakeLocal{}
	sel := NewNodeSelector([]Node{
		{ID: "bad", Addr: "bad:22"},
		{ID: "good", Addr: LocalNodeAddr},
	})
	attempts := 0
	dispatch := func(ctx context.Context, node Node, spec target.RunSpec, out io.Writer) (*target.RunResult, error) {
		attempts++
		return nil, assertErr
	}

	d := New(local, sel, dispatch, logger.NewDefault("test"))
	result, err := d.RunTask(context.Background(), target.RunSpec{TaskName: "t"}, io.Discard)

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.NotNil(t, result)
}

func TestRunTask_PlacementErrorWhenNoCandidates(t *testing.T) {
	local := &fakeLocal{}
	sel := NewNodeSelector(nil)
	d := New(local, sel, nil, logger.NewDefault("test"))

	_, err := d.RunTask(context.Background(), target.RunSpec{TaskName: "t", Requires: []string{"gpu"}}, io.Discard)
	require.Error(t, err)
	kind, ok := sykerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, sykerr.KindPlacement, kind)
}

var assertErr = &sykerr.Error{Kind: "test", Message: "dispatch failed"}
