package distributed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sykli/engine/pkg/target"
)

// DispatchFunc runs spec on node and streams merged output to out. The SSH
// implementation below is the only one wired in by default, but the type
// is exported so a test (or a future transport) can substitute its own.
type DispatchFunc func(ctx context.Context, node Node, spec target.RunSpec, out io.Writer) (*target.RunResult, error)

// workerResult is the JSON structure a sykli-worker process writes to its
// own stdout after the spec on its stdin finishes running.
type workerResult struct {
	ExitCode int   `json:"exit_code"`
	TimedOut bool  `json:"timed_out"`
	Duration int64 `json:"duration_ms"`
}

// SSHDispatch returns a DispatchFunc that dials node.Addr, opens a single
// session running the sykli-worker binary, writes spec as JSON to its
// stdin, and reads back a workerResult JSON line from its stdout — the way
// the distributed backend reaches every non-local node: no long-lived
// daemon, just one worker process per dispatched task.
func SSHDispatch(config *ssh.ClientConfig) DispatchFunc {
	return func(ctx context.Context, node Node, spec target.RunSpec, out io.Writer) (*target.RunResult, error) {
		client, err := dialContext(ctx, node.Addr, config)
		if err != nil {
			return nil, fmt.Errorf("distributed: dial %s: %w", node.Addr, err)
		}
		defer client.Close()

		session, err := client.NewSession()
		if err != nil {
			return nil, fmt.Errorf("distributed: new session on %s: %w", node.Addr, err)
		}
		defer session.Close()

		specJSON, err := json.Marshal(spec)
		if err != nil {
			return nil, fmt.Errorf("distributed: encode spec: %w", err)
		}

		stdin, err := session.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("distributed: stdin pipe: %w", err)
		}

		var resultLine bytes.Buffer
		session.Stdout = io.MultiWriter(out, &resultLine)
		session.Stderr = out

		start := time.Now()
		if err := session.Start("sykli-worker"); err != nil {
			return nil, fmt.Errorf("distributed: start sykli-worker on %s: %w", node.Addr, err)
		}

		if _, err := stdin.Write(specJSON); err != nil {
			return nil, fmt.Errorf("distributed: write spec to %s: %w", node.Addr, err)
		}
		stdin.Close()

		runErr := session.Wait()
		duration := time.Since(start)

		var wr workerResult
		if line := lastLine(resultLine.Bytes()); line != nil {
			if jsonErr := json.Unmarshal(line, &wr); jsonErr == nil {
				return &target.RunResult{ExitCode: wr.ExitCode, Duration: duration, TimedOut: wr.TimedOut}, nil
			}
		}

		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			return &target.RunResult{ExitCode: exitErr.ExitStatus(), Duration: duration}, nil
		}
		if runErr != nil {
			return nil, fmt.Errorf("distributed: run sykli-worker on %s: %w", node.Addr, runErr)
		}
		return &target.RunResult{ExitCode: 0, Duration: duration}, nil
	}
}

// lastLine returns the final non-empty line of b, the line sykli-worker
// writes its JSON result to after any streamed command output.
func lastLine(b []byte) []byte {
	lines := bytes.Split(bytes.TrimRight(b, "\n"), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(bytes.TrimSpace(lines[i])) > 0 {
			return lines[i]
		}
	}
	return nil
}

// dialContext dials node.Addr over SSH, honoring ctx cancellation even
// though ssh.Dial itself has no context-aware variant.
func dialContext(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, config)
		ch <- result{c, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.client, r.err
	}
}
