// Package local implements the Local execution backend spec.md §4.H
// describes: shell tasks run as a direct child process, container tasks
// run through the Docker Engine API, and either kind gets merged
// stdout+stderr streaming, a forced-timeout kill, and (for container
// tasks) per-task service containers on an isolated network. The Docker
// client plumbing is grounded on the same create/start/logs/remove
// sequence the wider example pack's container driver uses, adapted here
// to the orchestrator's RunTask/Lifecycle/Secrets/Storage/Services
// capability interfaces instead of that driver's bespoke client API.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/docker/docker/client"

	"github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/logger"
	"github.com/sykli/engine/pkg/target"
)

// Target is the Local backend: direct process execution plus an optional
// Docker client for container tasks and services.
type Target struct {
	docker *client.Client
	log    *logger.Logger

	mu       sync.Mutex
	networks map[string]string // "<runID>/<taskName>" -> network id
}

// New builds a Target. The Docker client is negotiated lazily against
// whatever daemon DOCKER_HOST (or the platform default) points at; a task
// that never uses a container or service never touches it.
func New(log *logger.Logger) (*Target, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("local target: docker client: %w", err)
	}
	return &Target{docker: cli, log: log, networks: make(map[string]string)}, nil
}

// ringBuffer keeps the last capacity bytes written to it, the tail kept
// for an error message when a task fails without a caller-visible log
// sink attached.
type ringBuffer struct {
	mu   sync.Mutex
	buf  []byte
	cap  int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{cap: capacity}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
	return len(p), nil
}

func (r *ringBuffer) Tail() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

const tailBufferSize = 4 * 1024

// RunTask runs spec's command either as a direct child process (no
// Container) or inside a container (Container set), enforcing spec.Timeout
// by cancelling the context passed to the underlying exec/docker call.
func (t *Target) RunTask(ctx context.Context, spec target.RunSpec, out io.Writer) (*target.RunResult, error) {
	tail := newRingBuffer(tailBufferSize)
	mw := io.MultiWriter(out, tail)

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		exitCode int
		runErr   error
	)
	if spec.Container == "" {
		exitCode, runErr = t.runShell(runCtx, spec, mw)
	} else {
		exitCode, runErr = t.runContainer(runCtx, spec, mw)
	}
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return &target.RunResult{ExitCode: exitCode, Duration: duration, TimedOut: true}, errors.Timeout(spec.TaskName)
	}
	if runErr != nil {
		return &target.RunResult{ExitCode: exitCode, Duration: duration}, errors.Crashed(spec.TaskName, runErr).WithDetail("tail", tail.Tail())
	}
	return &target.RunResult{ExitCode: exitCode, Duration: duration}, nil
}

// runShell spawns /bin/sh -c <command> directly, the path every task
// without a container field takes.
func (t *Target) runShell(ctx context.Context, spec target.RunSpec, out io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", spec.Command)
	cmd.Dir = spec.Workdir
	cmd.Env = mergeEnv(spec.Env)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func mergeEnv(taskEnv map[string]string) []string {
	env := os.Environ()
	for k, v := range taskEnv {
		env = append(env, k+"="+v)
	}
	return env
}
