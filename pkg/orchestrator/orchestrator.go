// Package orchestrator is the execution engine spec.md §4.J describes: it
// assigns each task a level, runs every level's tasks concurrently behind
// a dispatch-rate throttle, and drives each task through condition
// evaluation, gate approval, artifact resolution, credential exchange,
// secret resolution, cache check/restore, service lifecycle, and
// retry-and-timeout-wrapped execution — recording a structured result for
// every task whether it ran, was skipped, or failed. A level's failure
// aborts the run after its siblings finish; no further level starts.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sykli/engine/pkg/cache"
	"github.com/sykli/engine/pkg/condition"
	"github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/graph"
	"github.com/sykli/engine/pkg/logger"
	"github.com/sykli/engine/pkg/services/artifact"
	"github.com/sykli/engine/pkg/services/gate"
	"github.com/sykli/engine/pkg/services/oidc"
	"github.com/sykli/engine/pkg/services/progress"
	"github.com/sykli/engine/pkg/services/retry"
	"github.com/sykli/engine/pkg/target"
)

// Status is a finished task's terminal state.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// TaskResult is the structured record of one task's outcome.
type TaskResult struct {
	Name      string
	Status    Status
	ExitCode  int
	Attempts  int
	CacheHit  bool
	Outputs   map[string]string // output name -> absolute path of the bytes
	Output    string            // tail of the task's merged stdout+stderr, for hint matching
	Err       error
	Started   time.Time
	Duration  time.Duration
}

// RunResult is the outcome of one full pipeline run.
type RunResult struct {
	RunID  string
	Status Status
	Tasks  map[string]*TaskResult
}

// Options wires every collaborator the orchestrator needs. Target is
// required. A nil Cache disables caching, and a nil OIDCExchanger defaults
// to one with no provider. GateRegistry has no default and must be set for
// any pipeline with a gated task; an empty WorkdirRoot places task
// workdirs relative to the current directory.
type Options struct {
	Target          target.RunTask
	Cache           *cache.Store
	GateRegistry    *gate.Registry
	OIDCExchanger   *oidc.Exchanger
	Log             *logger.Logger
	DispatchLimiter *rate.Limiter
	Retry           retry.Config
	WorkdirRoot     string // parent directory each task's own workdir is created under
	Context         condition.Context
}

// Orchestrator runs validated, expanded pipelines.
type Orchestrator struct {
	opts     Options
	storage  target.Storage
	secrets  target.Secrets
	services target.Services
	resolver *artifact.Resolver
}

// Hooks are callbacks invoked as each task starts and finishes, passed
// per-Run rather than stored on the Orchestrator so concurrent runs (the
// run server's long-running mode can have more than one in flight at
// once) never cross-wire each other's events.
type Hooks struct {
	OnStart    func(taskName string)
	OnComplete func(tr *TaskResult)
}

// New builds an Orchestrator from opts, probing opts.Target for its
// optional capabilities once so every task dispatch reuses the result.
func New(opts Options) *Orchestrator {
	caps := target.Probe(opts.Target)
	o := &Orchestrator{opts: opts, storage: caps.Storage, secrets: caps.Secrets, services: caps.Services}
	if caps.Storage != nil {
		o.resolver = artifact.NewResolver(caps.Storage)
	}
	if opts.OIDCExchanger == nil {
		opts.OIDCExchanger = oidc.NewExchanger(nil)
	}
	o.opts = opts
	return o
}

// Run executes every task of p under runID, level by level, and returns
// the full run's structured result. A run-scoped context (with
// opts.Retry/timeouts already applied per task) should be passed in; Run
// itself applies no run-wide ceiling beyond ctx's own deadline.
func (o *Orchestrator) Run(ctx context.Context, p *graph.Pipeline, runID string, hooks Hooks) (*RunResult, error) {
	levels := assignLevels(p)
	groups := groupByLevel(levels)

	result := &RunResult{RunID: runID, Status: StatusCompleted, Tasks: make(map[string]*TaskResult, len(p.Tasks))}
	completed := make(map[string]artifact.Completed)
	var completedMu sync.Mutex

	tracker := progress.NewTracker(len(p.Tasks))

	runFailed := false
	for _, names := range groups {
		if runFailed {
			for _, name := range names {
				tracker.Skip()
				result.Tasks[name] = &TaskResult{Name: name, Status: StatusSkipped}
			}
			continue
		}

		var wg sync.WaitGroup
		var levelMu sync.Mutex
		levelFailed := false

		for _, name := range names {
			task := p.Tasks[name]
			wg.Add(1)
			go func(task graph.Task) {
				defer wg.Done()

				if o.opts.DispatchLimiter != nil {
					o.opts.DispatchLimiter.Wait(ctx)
				}

				completedMu.Lock()
				snapshot := make(map[string]artifact.Completed, len(completed))
				for k, v := range completed {
					snapshot[k] = v
				}
				completedMu.Unlock()

				if hooks.OnStart != nil {
					hooks.OnStart(task.Name)
				}
				tracker.Start()
				tr := o.runTask(ctx, runID, task, snapshot, p.Resources)
				finishTracking(tracker, tr)
				if hooks.OnComplete != nil {
					hooks.OnComplete(tr)
				}

				levelMu.Lock()
				result.Tasks[task.Name] = tr
				if tr.Status == StatusFailed {
					levelFailed = true
				}
				levelMu.Unlock()

				if tr.Status == StatusCompleted {
					completedMu.Lock()
					completed[task.Name] = artifact.Completed{Outputs: tr.Outputs}
					completedMu.Unlock()
				}
			}(task)
		}
		wg.Wait()

		if levelFailed {
			runFailed = true
		}
	}

	if runFailed {
		result.Status = StatusFailed
	}
	return result, nil
}

func finishTracking(tracker *progress.Tracker, tr *TaskResult) {
	switch tr.Status {
	case StatusCompleted:
		tracker.Complete()
	case StatusFailed:
		tracker.Fail()
	case StatusSkipped:
		tracker.Skip()
	}
}

// runTask drives one task through the full per-task pipeline described in
// the package doc comment.
func (o *Orchestrator) runTask(ctx context.Context, runID string, task graph.Task, completed map[string]artifact.Completed, resources map[string]graph.Resource) *TaskResult {
	start := time.Now()
	res := &TaskResult{Name: task.Name, Started: start}
	log := o.opts.Log.Task(runID, task.Name)

	condResult := condition.Evaluate(task.Condition, o.opts.Context)
	if condResult.Warning != "" {
		log.Warn(condResult.Warning)
	}
	if !condResult.Satisfied {
		res.Status = StatusSkipped
		res.Duration = time.Since(start)
		return res
	}

	if task.Gate != nil {
		if err := o.opts.GateRegistry.Approve(ctx, task.Gate, runID, task.Name); err != nil {
			return fail(res, start, err)
		}
	}

	workdir := filepath.Join(o.opts.WorkdirRoot, task.Name)
	if task.Workdir != "" {
		if filepath.IsAbs(task.Workdir) {
			workdir = task.Workdir
		} else {
			workdir = filepath.Join(workdir, task.Workdir)
		}
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return fail(res, start, fmt.Errorf("create workdir %s: %w", workdir, err))
	}

	if len(task.TaskInputs) > 0 {
		if o.resolver == nil {
			return fail(res, start, errors.TargetCapability("storage"))
		}
		if err := o.resolver.Resolve(ctx, task.TaskInputs, completed, workdir); err != nil {
			return fail(res, start, err)
		}
	}

	env := make(map[string]string, len(task.Env))
	for k, v := range task.Env {
		env[k] = v
	}

	cred, err := o.opts.OIDCExchanger.Exchange(ctx, task.OIDC)
	if err != nil {
		return fail(res, start, err)
	}
	defer cred.Cleanup()
	for k, v := range cred.EnvVars {
		env[k] = v
	}

	for _, name := range task.Secrets {
		if o.secrets == nil {
			return fail(res, start, errors.TargetCapability("secrets"))
		}
		value, err := o.secrets.ResolveSecret(ctx, name)
		if err != nil {
			return fail(res, start, err)
		}
		env[name] = value
	}

	mountStrings := make([]string, 0, len(task.Mounts))
	for _, m := range task.Mounts {
		mountStrings = append(mountStrings, fmt.Sprintf("%s:%s:%s", m.Resource, m.Path, m.Kind))
	}

	inputDigests, err := hashInputs(workdir, task.Inputs)
	if err != nil {
		log.WithError(err).Debug("no matching input files to hash")
	}

	fp := cache.Fingerprint{
		TaskName:  task.Name,
		Command:   task.Command,
		Container: task.Container,
		Env:       env,
		Mounts:    mountStrings,
		Inputs:    inputDigests,
	}

	outputPaths := make(map[string]string, len(task.Outputs))
	for name, relPath := range task.Outputs {
		outputPaths[name] = filepath.Join(workdir, relPath)
	}

	if o.opts.Cache != nil {
		check, err := o.opts.Cache.Check(fp)
		if err == nil {
			cache.RecordCheck(check)
			if check.Hit {
				if err := o.opts.Cache.Restore(check.Record, outputPaths); err == nil {
					res.Status = StatusCompleted
					res.CacheHit = true
					res.Outputs = outputPaths
					res.Duration = time.Since(start)
					return res
				}
			}
		}
	}

	teardown := func(context.Context) error { return nil }
	var networkID string
	if len(task.Services) > 0 {
		if o.services == nil {
			return fail(res, start, errors.TargetCapability("services"))
		}
		nid, td, err := o.services.StartServices(ctx, runID, task.Name, task.Services)
		if err != nil {
			return fail(res, start, err)
		}
		networkID = nid
		teardown = td
	}
	defer teardown(context.Background())

	buf := logWriter{log: log}
	tail := newTailBuffer(outputTailCap)
	mw := io.MultiWriter(&buf, tail)
	spec := target.RunSpec{
		RunID:     runID,
		TaskName:  task.Name,
		Command:   task.Command,
		Container: task.Container,
		Workdir:   workdir,
		Env:       env,
		Mounts:    task.Mounts,
		Resources: resources,
		NetworkID: networkID,
		Timeout:   time.Duration(task.EffectiveTimeout()) * time.Second,
		Requires:  task.Requires,
	}

	taskRetry := o.opts.Retry
	taskRetry.MaxAttempts = task.EffectiveRetry()

	attempts := 0
	var runResult *target.RunResult
	retryErr := retry.Do(ctx, taskRetry, func(attempt int) error {
		attempts = attempt
		var err error
		runResult, err = o.opts.Target.RunTask(ctx, spec, mw)
		if err != nil {
			return err
		}
		if runResult.ExitCode != 0 {
			return errors.ExitCode(task.Name, runResult.ExitCode)
		}
		return nil
	})
	res.Attempts = attempts
	res.Output = tail.String()

	if retryErr != nil {
		if runResult != nil {
			res.ExitCode = runResult.ExitCode
		}
		return fail(res, start, retryErr)
	}

	res.ExitCode = 0
	res.Outputs = outputPaths
	res.Status = StatusCompleted
	res.Duration = time.Since(start)

	if o.opts.Cache != nil {
		if _, err := o.opts.Cache.Store(fp, outputPaths); err != nil {
			log.WithError(err).Warn("failed to store cache record")
		}
	}

	return res
}

func fail(res *TaskResult, start time.Time, err error) *TaskResult {
	res.Status = StatusFailed
	res.Err = err
	res.Duration = time.Since(start)
	return res
}

// logWriter adapts a *logrus.Entry into an io.Writer so task output can be
// streamed through the same structured logger every other component uses.
type logWriter struct {
	log interface{ Info(args ...interface{}) }
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.log.Info(string(p))
	return len(p), nil
}

// outputTailCap bounds how much of a task's merged output runTask keeps
// around for hints.For to pattern-match against on failure.
const outputTailCap = 4 * 1024

// tailBuffer keeps the last cap bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.cap {
		t.buf = t.buf[len(t.buf)-t.cap:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
