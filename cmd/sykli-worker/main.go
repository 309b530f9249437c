// Command sykli-worker is the process a distributed-mode sykli dispatches
// over SSH to run one task attempt on a remote node. It reads a single
// JSON-encoded target.RunSpec from stdin, runs it against the Local
// backend, streams the task's merged output to its own stdout as it runs,
// and finally writes one JSON line with the attempt's exit code so the
// dispatching side can parse the outcome back out of the same stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sykli/engine/pkg/logger"
	"github.com/sykli/engine/pkg/target"
	"github.com/sykli/engine/pkg/target/local"
)

type resultLine struct {
	ExitCode int   `json:"exit_code"`
	TimedOut bool  `json:"timed_out"`
	Duration int64 `json:"duration_ms"`
}

func main() {
	log := logger.NewDefault("sykli-worker")

	var spec target.RunSpec
	if err := json.NewDecoder(os.Stdin).Decode(&spec); err != nil {
		fmt.Fprintf(os.Stderr, "sykli-worker: decode spec: %v\n", err)
		emitResult(resultLine{ExitCode: -1})
		os.Exit(1)
	}

	t, err := local.New(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sykli-worker: local target: %v\n", err)
		emitResult(resultLine{ExitCode: -1})
		os.Exit(1)
	}

	result, err := t.RunTask(context.Background(), spec, os.Stdout)
	if err != nil && result == nil {
		fmt.Fprintf(os.Stderr, "sykli-worker: run: %v\n", err)
		emitResult(resultLine{ExitCode: -1})
		os.Exit(1)
	}

	emitResult(resultLine{
		ExitCode: result.ExitCode,
		TimedOut: result.TimedOut,
		Duration: result.Duration.Milliseconds(),
	})

	if result.ExitCode != 0 {
		os.Exit(1)
	}
}

func emitResult(r resultLine) {
	data, _ := json.Marshal(r)
	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))
}
