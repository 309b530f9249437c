package runserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sykli/engine/pkg/cache"
	"github.com/sykli/engine/pkg/graph"
	"github.com/sykli/engine/pkg/logger"
	"github.com/sykli/engine/pkg/orchestrator"
	"github.com/sykli/engine/pkg/services/gate"
	"github.com/sykli/engine/pkg/target"
)

func TestBus_PublishAndSubscribe_Replay(t *testing.T) {
	b := NewBus()
	b.Publish(Event{Type: EventRunStarted, RunID: "r1", Timestamp: time.Now()})
	b.Publish(Event{Type: EventTaskStarted, RunID: "r1", TaskName: "build", Timestamp: time.Now()})

	events, past, cancel := b.Subscribe("r1")
	defer cancel()

	require.Len(t, past, 2)
	assert.Equal(t, EventRunStarted, past[0].Type)
	assert.Equal(t, EventTaskStarted, past[1].Type)

	b.Publish(Event{Type: EventTaskCompleted, RunID: "r1", TaskName: "build", Timestamp: time.Now()})

	select {
	case ev := <-events:
		assert.Equal(t, EventTaskCompleted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestBus_Subscribe_ReplayScopedToRun(t *testing.T) {
	b := NewBus()
	b.Publish(Event{Type: EventRunStarted, RunID: "r1", Timestamp: time.Now()})
	b.Publish(Event{Type: EventRunStarted, RunID: "r2", Timestamp: time.Now()})

	_, past, cancel := b.Subscribe("r2")
	defer cancel()

	require.Len(t, past, 1)
	assert.Equal(t, "r2", past[0].RunID)
}

func TestBus_CancelUnsubscribes(t *testing.T) {
	b := NewBus()
	events, _, cancel := b.Subscribe("r1")
	cancel()
	b.Publish(Event{Type: EventRunStarted, RunID: "r1", Timestamp: time.Now()})

	_, ok := <-events
	assert.False(t, ok, "channel should be closed after cancel")
}

func TestRegistry_StateTransitions(t *testing.T) {
	r := NewRegistry()
	r.Create("run-1")
	run, ok := r.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, StatePending, run.State)

	r.MarkRunning("run-1")
	run, _ = r.Get("run-1")
	assert.Equal(t, StateRunning, run.State)
	assert.False(t, run.StartedAt.IsZero())

	r.Finish("run-1", &orchestrator.RunResult{Status: orchestrator.StatusCompleted}, nil)
	run, _ = r.Get("run-1")
	assert.Equal(t, StateCompleted, run.State)
}

func TestRegistry_FinishMarksFailedOnTaskFailure(t *testing.T) {
	r := NewRegistry()
	r.Create("run-1")
	r.MarkRunning("run-1")
	r.Finish("run-1", &orchestrator.RunResult{Status: orchestrator.StatusFailed}, nil)

	run, _ := r.Get("run-1")
	assert.Equal(t, StateFailed, run.State)
}

func TestRegistry_GetUnknownRun(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

type fakeTarget struct{}

func (fakeTarget) RunTask(ctx context.Context, spec target.RunSpec, out io.Writer) (*target.RunResult, error) {
	io.WriteString(out, "ok\n")
	return &target.RunResult{ExitCode: 0, Duration: time.Millisecond}, nil
}

func TestServer_Submit_PublishesLifecycleEvents(t *testing.T) {
	store, err := cache.Open(t.TempDir())
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Options{
		Target:       fakeTarget{},
		Cache:        store,
		GateRegistry: gate.NewRegistry(nil),
		Log:          logger.NewDefault("test"),
		WorkdirRoot:  t.TempDir(),
	})

	srv := NewServer(orch, time.Minute, logger.NewDefault("test"))

	p := &graph.Pipeline{
		Version: "1",
		Tasks: map[string]graph.Task{
			"build": {Name: "build", Command: "echo hi"},
		},
	}

	events, _, cancel := srv.Bus().Subscribe("placeholder")
	cancel()
	_ = events

	result, err := srv.Submit(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, orchestrator.StatusCompleted, result.Status)

	run, ok := srv.Registry().Get(result.RunID)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, run.State)

	_, past, cancel2 := srv.Bus().Subscribe(result.RunID)
	defer cancel2()
	require.GreaterOrEqual(t, len(past), 3)
	assert.Equal(t, EventRunStarted, past[0].Type)
	assert.Equal(t, EventRunCompleted, past[len(past)-1].Type)
}

func TestNewServer_DefaultsRunCeilingToTenMinutes(t *testing.T) {
	store, err := cache.Open(t.TempDir())
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Options{
		Target:       fakeTarget{},
		Cache:        store,
		GateRegistry: gate.NewRegistry(nil),
		Log:          logger.NewDefault("test"),
		WorkdirRoot:  t.TempDir(),
	})

	srv := NewServer(orch, 0, logger.NewDefault("test"))
	assert.Equal(t, 10*time.Minute, srv.maxRunDuration)
}

func TestHandlePostRuns_AcceptsAndAssignsRunID(t *testing.T) {
	store, err := cache.Open(t.TempDir())
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Options{
		Target:       fakeTarget{},
		Cache:        store,
		GateRegistry: gate.NewRegistry(nil),
		Log:          logger.NewDefault("test"),
		WorkdirRoot:  t.TempDir(),
	})
	srv := NewServer(orch, time.Minute, logger.NewDefault("test"))

	body := []byte(`{"version":"1","tasks":[{"name":"build","command":"echo hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["run_id"])
}

func TestHandlePostRuns_RejectsInvalidPipeline(t *testing.T) {
	store, err := cache.Open(t.TempDir())
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Options{
		Target:       fakeTarget{},
		Cache:        store,
		GateRegistry: gate.NewRegistry(nil),
		Log:          logger.NewDefault("test"),
		WorkdirRoot:  t.TempDir(),
	})
	srv := NewServer(orch, time.Minute, logger.NewDefault("test"))

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(`not json`)))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
